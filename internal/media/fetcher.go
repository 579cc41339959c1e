package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/holoscene/internal/apperr"
)

// DefaultMaxBytes caps a single download or inline decode.
const DefaultMaxBytes = 512 << 20

// ObjectGetter is the subset of the S3 client the fetcher needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Fetcher resolves media references into assets. It never writes to
// durable storage; local writes go through a caller-owned TempScope.
type Fetcher struct {
	HTTP     *http.Client
	S3       ObjectGetter // nil disables s3:// references
	MaxBytes int64
}

// NewFetcher returns a Fetcher with a default HTTP client.
func NewFetcher(s3Client ObjectGetter) *Fetcher {
	return &Fetcher{
		HTTP:     &http.Client{Timeout: 5 * time.Minute},
		S3:       s3Client,
		MaxBytes: DefaultMaxBytes,
	}
}

// Ref classifies a reference string without any I/O.
func Ref(ref string) *Asset {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return &Asset{Location: Inline, URI: ref}
	case isRemote(ref):
		return &Asset{Location: Remote, URI: ref, MimeType: MimeFromPath(ref), Origin: ref}
	default:
		return &Asset{Location: Local, URI: ref, MimeType: MimeFromPath(ref)}
	}
}

func isRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://") ||
		strings.HasPrefix(ref, "s3://")
}

// Resolve turns a reference into a usable asset. Inline data: URIs are
// decoded, remote URLs are downloaded into memory, and local paths are
// returned as-is after a stat.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (*Asset, error) {
	const op = "media.resolve"
	switch {
	case ref == "":
		return nil, apperr.Newf(apperr.KindInvalidInput, op, "empty media reference")

	case strings.HasPrefix(ref, "data:"):
		return decodeDataURI(ref)

	case isRemote(ref):
		rc, mimeType, err := f.open(ctx, ref)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := f.readAll(rc)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperr.FromContext(op, ctx.Err())
			}
			return nil, &apperr.Error{Kind: apperr.KindDownloadFailed, Op: op, Message: "read body", Detail: redact(ref), Err: err}
		}
		log.Debug().Str("url", redact(ref)).Int("bytes", len(data)).Msg("Remote media downloaded")
		return &Asset{
			Location:  Inline,
			Data:      data,
			MimeType:  mimeType,
			SizeBytes: int64(len(data)),
			Origin:    ref,
		}, nil

	default:
		info, err := os.Stat(ref)
		if err != nil {
			return nil, apperr.New(apperr.KindInvalidInput, op, "local media not found", err)
		}
		if info.IsDir() {
			return nil, apperr.Newf(apperr.KindInvalidInput, op, "%s is a directory", ref)
		}
		return &Asset{
			Location:  Local,
			URI:       ref,
			MimeType:  MimeFromPath(ref),
			SizeBytes: info.Size(),
		}, nil
	}
}

// Open returns a reader over the asset's bytes. A remote asset whose MIME
// type could not be guessed from its URL takes the type the server reports.
func (f *Fetcher) Open(ctx context.Context, a *Asset) (io.ReadCloser, error) {
	switch a.Location {
	case Inline:
		if a.Data == nil && strings.HasPrefix(a.URI, "data:") {
			decoded, err := decodeDataURI(a.URI)
			if err != nil {
				return nil, err
			}
			a.Data, a.MimeType, a.SizeBytes = decoded.Data, decoded.MimeType, decoded.SizeBytes
		}
		return io.NopCloser(bytes.NewReader(a.Data)), nil
	case Remote:
		rc, mimeType, err := f.open(ctx, a.URI)
		if err != nil {
			return nil, err
		}
		if a.MimeType == "" || a.MimeType == "application/octet-stream" {
			a.MimeType = mimeType
		}
		return rc, nil
	case Local:
		file, err := os.Open(a.URI)
		if err != nil {
			return nil, apperr.New(apperr.KindInvalidInput, "media.open", "open local media", err)
		}
		return file, nil
	default:
		return nil, apperr.Newf(apperr.KindInternal, "media.open", "unknown location %q", a.Location)
	}
}

// Materialize guarantees the asset is available at a local path and
// returns it. Local assets are returned unchanged; anything else is written
// to a temp file tracked by scope.
func (f *Fetcher) Materialize(ctx context.Context, a *Asset, scope *TempScope) (string, error) {
	if a.Location == Local {
		return a.URI, nil
	}

	rc, err := f.Open(ctx, a)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	ext := ExtForMime(a.MimeType)
	if ext == ".bin" && a.URI != "" && !strings.HasPrefix(a.URI, "data:") {
		ext = ExtForMime(MimeFromPath(a.URI))
	}
	file, err := scope.Create("holo-in-*" + ext)
	if err != nil {
		return "", err
	}
	defer file.Close()

	n, err := io.Copy(file, f.limit(rc))
	if err != nil {
		if ctx.Err() != nil {
			return "", apperr.FromContext("media.materialize", ctx.Err())
		}
		return "", &apperr.Error{Kind: apperr.KindDownloadFailed, Op: "media.materialize", Message: "write temp file", Err: err}
	}
	if n > f.maxBytes() {
		return "", apperr.Newf(apperr.KindDownloadFailed, "media.materialize", "asset exceeds %d bytes", f.maxBytes())
	}
	log.Debug().Str("asset", a.String()).Str("path", file.Name()).Int64("bytes", n).Msg("Asset materialized")
	return file.Name(), nil
}

// open starts a download of an http(s) or s3 URL.
func (f *Fetcher) open(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	const op = "media.download"
	if strings.HasPrefix(ref, "s3://") {
		return f.openS3(ctx, ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", apperr.New(apperr.KindInvalidInput, op, "bad url", err)
	}
	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", apperr.FromContext(op, ctx.Err())
		}
		return nil, "", &apperr.Error{Kind: apperr.KindDownloadFailed, Op: op, Message: "request failed", Detail: redact(ref), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, "", &apperr.Error{
			Kind:       apperr.KindDownloadFailed,
			Op:         op,
			Message:    fmt.Sprintf("status %d", resp.StatusCode),
			Detail:     strings.TrimSpace(string(body)),
			StatusCode: resp.StatusCode,
		}
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") || strings.HasPrefix(mimeType, "binary/") {
		mimeType = MimeFromPath(req.URL.Path)
	}
	return resp.Body, mimeType, nil
}

func (f *Fetcher) openS3(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	const op = "media.download"
	if f.S3 == nil {
		return nil, "", apperr.Newf(apperr.KindInvalidInput, op, "s3 reference without an s3 client: %s", ref)
	}
	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return nil, "", apperr.Newf(apperr.KindInvalidInput, op, "bad s3 url %q", ref)
	}
	bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
	out, err := f.S3.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", apperr.FromContext(op, ctx.Err())
		}
		return nil, "", &apperr.Error{Kind: apperr.KindDownloadFailed, Op: op, Message: "S3 GetObject", Detail: ref, Err: err}
	}
	mimeType := MimeFromPath(key)
	if out.ContentType != nil && *out.ContentType != "" && *out.ContentType != "binary/octet-stream" {
		mimeType = *out.ContentType
	}
	return out.Body, mimeType, nil
}

func (f *Fetcher) maxBytes() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxBytes
}

// limit reads one byte past the cap so oversize bodies can be detected.
func (f *Fetcher) limit(r io.Reader) io.Reader {
	return io.LimitReader(r, f.maxBytes()+1)
}

func (f *Fetcher) readAll(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(f.limit(r))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes() {
		return nil, fmt.Errorf("body exceeds %d bytes", f.maxBytes())
	}
	return data, nil
}

// decodeDataURI parses data:[<mime>][;base64],<payload>.
func decodeDataURI(ref string) (*Asset, error) {
	const op = "media.decode"
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, apperr.Newf(apperr.KindInvalidInput, op, "malformed data URI")
	}
	mimeType := "application/octet-stream"
	isBase64 := false
	for i, part := range strings.Split(header, ";") {
		switch {
		case i == 0 && part != "":
			mimeType = part
		case part == "base64":
			isBase64 = true
		}
	}

	var data []byte
	if isBase64 {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
		}
		if err != nil {
			return nil, apperr.New(apperr.KindInvalidInput, op, "invalid base64 payload", err)
		}
		data = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, apperr.New(apperr.KindInvalidInput, op, "invalid data URI payload", err)
		}
		data = []byte(unescaped)
	}
	return &Asset{
		Location:  Inline,
		Data:      data,
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
	}, nil
}

// EncodeDataURI is the inverse of inline decoding.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// redact strips query strings, which often carry signed credentials.
func redact(ref string) string {
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		return ref[:i] + "?…"
	}
	return ref
}

// IsNotFound reports whether err is a DownloadFailed with a 404 status.
func IsNotFound(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Kind == apperr.KindDownloadFailed && e.StatusCode == http.StatusNotFound
}
