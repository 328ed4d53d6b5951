package models

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"easel/internal/objectstore"
)

// fetcher opens a byte stream for an asset starting at offset. resumed
// reports whether the source honored the offset; when false the caller
// must discard any partial file and start over. total is the full asset
// size when the source reports it, otherwise -1.
type fetcher interface {
	Fetch(ctx context.Context, offset int64) (body io.ReadCloser, total int64, resumed bool, err error)
}

type httpFetcher struct {
	url    string
	token  string
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, offset int64) (io.ReadCloser, int64, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, 0, false, err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, false, err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, offset + resp.ContentLength, true, nil
	case http.StatusOK:
		// Server ignored the Range header; the stream starts at zero.
		return resp.Body, resp.ContentLength, false, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, 0, false, fmt.Errorf("access denied (status %d), check hf_token", resp.StatusCode)
	default:
		resp.Body.Close()
		return nil, 0, false, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
}

type s3Fetcher struct {
	client *s3.Client
	bucket string
	key    string
}

func (f *s3Fetcher) Fetch(ctx context.Context, offset int64) (io.ReadCloser, int64, bool, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	}
	if offset > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=%d-", offset))
	}
	out, err := f.client.GetObject(ctx, input)
	if err != nil {
		return nil, 0, false, fmt.Errorf("s3 get %s/%s: %w", f.bucket, f.key, err)
	}
	total := int64(-1)
	if out.ContentLength != nil {
		total = offset + *out.ContentLength
	}
	return out.Body, total, offset > 0, nil
}

// resolveFetcher maps an asset source URL to a fetcher. https:// sources
// go through plain HTTP with an optional bearer token; s3:// sources go
// through the configured object store.
func (d *Downloader) resolveFetcher(ctx context.Context, source string) (fetcher, error) {
	parsed, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source %q: %w", source, err)
	}

	switch parsed.Scheme {
	case "http", "https":
		token := ""
		if strings.HasSuffix(parsed.Hostname(), "huggingface.co") {
			token = d.cfg.Models.HFToken
		}
		return &httpFetcher{url: source, token: token, client: d.httpClient}, nil
	case "s3":
		if !d.cfg.ObjectStore.Enabled {
			return nil, fmt.Errorf("source %q requires the object store, but it is not configured", source)
		}
		client, err := d.s3ClientFor(ctx)
		if err != nil {
			return nil, err
		}
		return &s3Fetcher{
			client: client,
			bucket: parsed.Host,
			key:    strings.TrimPrefix(parsed.Path, "/"),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", parsed.Scheme)
	}
}

func (d *Downloader) s3ClientFor(ctx context.Context) (*s3.Client, error) {
	d.s3Once.Do(func() {
		d.s3Client, d.s3Err = objectstore.NewClient(ctx, d.cfg.ObjectStore)
	})
	return d.s3Client, d.s3Err
}
