// Package objectstore wraps the S3-compatible bucket (R2, MinIO, S3)
// used as a model mirror and as an optional destination for generated
// images.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"easel/internal/config"
)

// NewClient builds an S3 client for the configured store. Custom
// endpoints (R2, MinIO) need path-style addressing.
func NewClient(ctx context.Context, store config.ObjectStore) (*s3.Client, error) {
	region := store.Region
	if region == "" {
		region = "auto"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(store.AccessKeyID, store.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("configure object store: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if store.Endpoint != "" {
			o.BaseEndpoint = aws.String(store.Endpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// PutAPI is the slice of the S3 client the uploader needs.
type PutAPI interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader writes objects under the configured bucket and prefix.
type Uploader struct {
	client   PutAPI
	bucket   string
	prefix   string
	endpoint string
}

// NewUploader builds an uploader for the configured store.
func NewUploader(ctx context.Context, store config.ObjectStore) (*Uploader, error) {
	client, err := NewClient(ctx, store)
	if err != nil {
		return nil, err
	}
	return NewUploaderWithClient(client, store), nil
}

// NewUploaderWithClient wires an uploader onto an existing client.
func NewUploaderWithClient(client PutAPI, store config.ObjectStore) *Uploader {
	return &Uploader{
		client:   client,
		bucket:   store.Bucket,
		prefix:   strings.Trim(store.Prefix, "/"),
		endpoint: strings.TrimRight(store.Endpoint, "/"),
	}
}

// Upload stores an object and returns its URL.
func (u *Uploader) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	fullKey := u.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(fullKey),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := u.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s: %w", fullKey, err)
	}
	return u.ObjectURL(key), nil
}

// ObjectURL returns the path-style URL an uploaded object lives at.
func (u *Uploader) ObjectURL(key string) string {
	return fmt.Sprintf("%s/%s/%s", u.endpoint, u.bucket, u.objectKey(key))
}

func (u *Uploader) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if u.prefix == "" {
		return key
	}
	return u.prefix + "/" + key
}
