package apperr

import (
	"errors"
	"strings"

	"google.golang.org/genai"
)

// Category is the user-facing bucket a failure is reported under.
type Category string

const (
	CategoryContentPolicy Category = "content_policy"
	CategoryQuota         Category = "quota"
	CategoryTimeout       Category = "timeout"
	CategoryGeneric       Category = "generic"
)

// User-facing messages per category.
const (
	msgContentPolicy = "Your request was blocked by the content policy. Please adjust the text or image and try again."
	msgQuota         = "The generation service is busy right now. Please try again in a few minutes."
	msgTimeout       = "Generation took too long and was stopped. Please try again."
	msgGeneric       = "Something went wrong while creating your video. Please try again."
)

// Describe classifies err into a user-facing category and message.
// Typed errors are classified by Kind first; otherwise the Google API error
// code and finally the error text are pattern-matched.
func Describe(err error) (Category, string) {
	if err == nil {
		return "", ""
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindContentPolicy:
			return CategoryContentPolicy, msgContentPolicy
		case KindTimeout:
			return CategoryTimeout, msgTimeout
		case KindProviderRejected:
			if e.StatusCode == 429 {
				return CategoryQuota, msgQuota
			}
		}
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return CategoryQuota, msgQuota
		case 504:
			return CategoryTimeout, msgTimeout
		}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "nsfw") ||
		strings.Contains(errLower, "content policy") ||
		strings.Contains(errLower, "content_policy") ||
		strings.Contains(errLower, "safety") ||
		strings.Contains(errLower, "blocked"):
		return CategoryContentPolicy, msgContentPolicy

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "resource_exhausted") ||
		strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "too many requests"):
		return CategoryQuota, msgQuota

	case strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "timed out") ||
		strings.Contains(errLower, "deadline exceeded"):
		return CategoryTimeout, msgTimeout

	default:
		return CategoryGeneric, msgGeneric
	}
}
