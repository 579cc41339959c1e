package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	puts   []*s3.PutObjectInput
	bodies [][]byte
	tags   []*s3.PutObjectTaggingInput
	putErr error
	tagErr error
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	b, _ := io.ReadAll(in.Body)
	f.puts = append(f.puts, in)
	f.bodies = append(f.bodies, b)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PutObjectTagging(ctx context.Context, in *s3.PutObjectTaggingInput, _ ...func(*s3.Options)) (*s3.PutObjectTaggingOutput, error) {
	if f.tagErr != nil {
		return nil, f.tagErr
	}
	f.tags = append(f.tags, in)
	return &s3.PutObjectTaggingOutput{}, nil
}

type fakePresigner struct {
	expires time.Duration
}

func (f *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var o s3.PresignOptions
	for _, fn := range optFns {
		fn(&o)
	}
	f.expires = o.Expires
	return &v4.PresignedHTTPRequest{URL: "https://signed.example/" + *in.Key + "?X-Amz-Signature=abc"}, nil
}

func TestS3StorageSaveTagsAndPrefixes(t *testing.T) {
	client := &fakeS3{}
	st := NewS3Storage(client, nil, S3Options{Bucket: "media", Prefix: "artifacts/"})

	if err := st.Save(context.Background(), bytes.NewReader([]byte("mp4")), "/u1/art-1.mp4", "video/mp4"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(client.puts) != 1 {
		t.Fatalf("puts = %d, want 1", len(client.puts))
	}
	in := client.puts[0]
	if *in.Key != "artifacts/u1/art-1.mp4" {
		t.Errorf("key = %q", *in.Key)
	}
	if *in.ContentType != "video/mp4" {
		t.Errorf("content type = %q", *in.ContentType)
	}
	if *in.Tagging != projectTag {
		t.Errorf("tagging = %q", *in.Tagging)
	}
	if string(client.bodies[0]) != "mp4" {
		t.Errorf("body = %q", client.bodies[0])
	}
}

func TestS3StorageSaveError(t *testing.T) {
	st := NewS3Storage(&fakeS3{putErr: errors.New("access denied")}, nil, S3Options{Bucket: "media"})
	err := st.Save(context.Background(), strings.NewReader("x"), "a.png", "image/png")
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("err = %v", err)
	}
}

func TestS3StorageMakePublicURLs(t *testing.T) {
	tests := []struct {
		name string
		opts S3Options
		want string
	}{
		{
			name: "public base",
			opts: S3Options{Bucket: "media", PublicBaseURL: "https://cdn.example/", PresignTTL: time.Hour},
			want: "https://cdn.example/u1/art%201.mp4",
		},
		{
			name: "presigned",
			opts: S3Options{Bucket: "media", PresignTTL: time.Hour},
			want: "https://signed.example/u1/art 1.mp4?X-Amz-Signature=abc",
		},
		{
			name: "object url",
			opts: S3Options{Bucket: "media", Region: "eu-west-1"},
			want: "https://media.s3.eu-west-1.amazonaws.com/u1/art%201.mp4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeS3{}
			st := NewS3Storage(client, &fakePresigner{}, tt.opts)
			got, err := st.MakePublic(context.Background(), "u1/art 1.mp4")
			if err != nil {
				t.Fatalf("MakePublic: %v", err)
			}
			if got != tt.want {
				t.Errorf("url = %q, want %q", got, tt.want)
			}
			if len(client.tags) != 1 {
				t.Fatalf("tag calls = %d, want 1", len(client.tags))
			}
		})
	}
}

func TestS3StoragePresignTTLClamped(t *testing.T) {
	p := &fakePresigner{}
	st := NewS3Storage(&fakeS3{}, p, S3Options{Bucket: "media", PresignTTL: 30 * 24 * time.Hour})
	if _, err := st.MakePublic(context.Background(), "a.png"); err != nil {
		t.Fatalf("MakePublic: %v", err)
	}
	if p.expires != maxPresignTTL {
		t.Errorf("expires = %v, want %v", p.expires, maxPresignTTL)
	}
}

func TestS3StorageMakePublicTagError(t *testing.T) {
	st := NewS3Storage(&fakeS3{tagErr: errors.New("no such key")}, nil, S3Options{Bucket: "media"})
	if _, err := st.MakePublic(context.Background(), "a.png"); err == nil {
		t.Fatal("expected error")
	}
}

func TestFileStorageRoundTrip(t *testing.T) {
	root := t.TempDir()
	st, err := NewFileStorage(root, "")
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	ctx := context.Background()
	if err := st.Save(ctx, strings.NewReader("png-bytes"), "u1/art-1.png", "image/png"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	url, err := st.MakePublic(ctx, "u1/art-1.png")
	if err != nil {
		t.Fatalf("MakePublic: %v", err)
	}
	if !strings.HasPrefix(url, "file://") || !strings.HasSuffix(url, "u1/art-1.png") {
		t.Errorf("url = %q", url)
	}
	data, err := os.ReadFile(filepath.Join(root, "u1", "art-1.png"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "u1"))
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}

func TestFileStorageBaseURL(t *testing.T) {
	st, err := NewFileStorage(t.TempDir(), "http://localhost:8080/files/")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := st.Save(ctx, strings.NewReader("x"), "a/b.mp4", "video/mp4"); err != nil {
		t.Fatal(err)
	}
	url, err := st.MakePublic(ctx, "a/b.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if url != "http://localhost:8080/files/a/b.mp4" {
		t.Errorf("url = %q", url)
	}
}

func TestFileStorageStaysInRoot(t *testing.T) {
	root := t.TempDir()
	st, err := NewFileStorage(filepath.Join(root, "store"), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save(context.Background(), strings.NewReader("x"), "../../escape.txt", "text/plain"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); !os.IsNotExist(err) {
		t.Errorf("file escaped root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "store", "escape.txt")); err != nil {
		t.Errorf("expected file clamped into root: %v", err)
	}
}
