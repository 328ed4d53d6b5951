package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"easel/internal/config"
)

type fakePutAPI struct {
	bucket string
	key    string
	body   []byte
}

func (f *fakePutAPI) PutObject(ctx context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket = *input.Bucket
	f.key = *input.Key
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.body = data
	return &s3.PutObjectOutput{}, nil
}

func TestUploadPrefixesKeyAndReturnsURL(t *testing.T) {
	fake := &fakePutAPI{}
	store := config.ObjectStore{
		Endpoint: "https://account.r2.cloudflarestorage.com/",
		Bucket:   "easel-artifacts",
		Prefix:   "/outputs/",
	}
	uploader := NewUploaderWithClient(fake, store)

	url, err := uploader.Upload(context.Background(), "job-7/img.png", bytes.NewReader([]byte("png")), "image/png")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if fake.bucket != "easel-artifacts" {
		t.Fatalf("bucket = %q", fake.bucket)
	}
	if fake.key != "outputs/job-7/img.png" {
		t.Fatalf("key = %q", fake.key)
	}
	if string(fake.body) != "png" {
		t.Fatalf("body = %q", fake.body)
	}
	want := "https://account.r2.cloudflarestorage.com/easel-artifacts/outputs/job-7/img.png"
	if url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
}

func TestObjectKeyWithoutPrefix(t *testing.T) {
	uploader := NewUploaderWithClient(&fakePutAPI{}, config.ObjectStore{
		Endpoint: "https://s3.example.com",
		Bucket:   "b",
	})
	if got := uploader.ObjectURL("a/b.png"); got != "https://s3.example.com/b/a/b.png" {
		t.Fatalf("url = %q", got)
	}
}
