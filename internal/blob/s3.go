package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// projectTag is the URL-encoded object tagging applied at upload for cost
// allocation.
const projectTag = "Project=holoscene"

// maxPresignTTL is the SigV4 presign ceiling.
const maxPresignTTL = 7 * 24 * time.Hour

// S3API is the subset of the S3 client used for uploads.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutObjectTagging(ctx context.Context, params *s3.PutObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error)
}

// Presigner is the subset of the S3 presign client used for URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Options configures S3Storage.
type S3Options struct {
	Bucket string
	Prefix string
	Region string
	// PublicBaseURL, when set, is the CDN or website origin that serves
	// the bucket; public URLs are built under it.
	PublicBaseURL string
	// PresignTTL, when positive and no PublicBaseURL is set, makes public
	// URLs presigned GETs instead of plain object URLs.
	PresignTTL time.Duration
}

// S3Storage stores artifacts in S3. MakePublic tags the object
// Visibility=public, which the bucket policy grants anonymous read on.
type S3Storage struct {
	client    S3API
	presigner Presigner
	opts      S3Options
}

// NewS3Storage creates an S3-backed Storage. presigner may be nil when
// PresignTTL is zero.
func NewS3Storage(client S3API, presigner Presigner, opts S3Options) *S3Storage {
	if opts.PresignTTL > maxPresignTTL {
		opts.PresignTTL = maxPresignTTL
	}
	return &S3Storage{client: client, presigner: presigner, opts: opts}
}

// Save implements Storage.
func (s *S3Storage) Save(ctx context.Context, r io.Reader, path, contentType string) error {
	key := joinKey(s.opts.Prefix, path)
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       &s.opts.Bucket,
		Key:          &key,
		Body:         r,
		ContentType:  &contentType,
		CacheControl: aws.String("public, max-age=31536000, immutable"),
		Tagging:      aws.String(projectTag),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", key, err)
	}
	log.Debug().Str("bucket", s.opts.Bucket).Str("key", key).Dur("duration", time.Since(start)).Msg("Artifact uploaded to S3")
	return nil
}

// MakePublic implements Storage.
func (s *S3Storage) MakePublic(ctx context.Context, path string) (string, error) {
	key := joinKey(s.opts.Prefix, path)
	_, err := s.client.PutObjectTagging(ctx, &s3.PutObjectTaggingInput{
		Bucket: &s.opts.Bucket,
		Key:    &key,
		Tagging: &s3types.Tagging{
			TagSet: []s3types.Tag{
				{Key: aws.String("Project"), Value: aws.String("holoscene")},
				{Key: aws.String("Visibility"), Value: aws.String("public")},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("S3 PutObjectTagging %s: %w", key, err)
	}

	switch {
	case s.opts.PublicBaseURL != "":
		return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + escapeKey(key), nil
	case s.opts.PresignTTL > 0 && s.presigner != nil:
		req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: &s.opts.Bucket, Key: &key,
		}, func(o *s3.PresignOptions) {
			o.Expires = s.opts.PresignTTL
		})
		if err != nil {
			return "", fmt.Errorf("presign GetObject: %w", err)
		}
		return req.URL, nil
	default:
		region := s.opts.Region
		if region == "" {
			region = "us-east-1"
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, region, escapeKey(key)), nil
	}
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
