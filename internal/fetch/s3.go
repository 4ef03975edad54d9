package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// S3Options configures access to S3-compatible object storage for
// s3://bucket/key sources.
type S3Options struct {
	// Endpoint is the host[:port] of the storage service.
	// Default: "s3.amazonaws.com"
	Endpoint string

	// Region of the bucket.
	// Default: "us-east-1"
	Region string

	// AccessKey and SecretKey are optional static credentials. When both
	// are empty requests are sent anonymously, which is enough for public
	// buckets.
	AccessKey string
	SecretKey string

	// Insecure disables TLS, for local MinIO servers.
	Insecure bool
}

// DefaultS3Options returns options pointing at AWS S3 with anonymous access.
func DefaultS3Options() S3Options {
	return S3Options{
		Endpoint: "s3.amazonaws.com",
		Region:   "us-east-1",
	}
}

// S3Client fetches archives from S3-compatible storage.
type S3Client struct {
	client *minio.Client
}

// NewS3Client creates a client. No network traffic happens until Open.
func NewS3Client(opts S3Options) (*S3Client, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultS3Options().Endpoint
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = DefaultS3Options().Region
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(opts.AccessKey), strings.TrimSpace(opts.SecretKey), ""),
		Secure: !opts.Insecure,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init s3 client: %v", model.ErrConfig, err)
	}
	return &S3Client{client: client}, nil
}

// Open streams s3://bucket/key. The object is stat'ed first so that a
// missing key fails here rather than on the first read.
func (c *S3Client) Open(ctx context.Context, rawURL string) (*Download, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrNetwork, err)
	}

	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Error(ctx, rawURL, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, s3Error(ctx, rawURL, err)
	}

	return &Download{Body: obj, Size: info.Size, URL: rawURL}, nil
}

// s3Error maps S3 error codes onto the package's sentinel errors.
func s3Error(ctx context.Context, rawURL string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: get %s: %w", model.ErrNetwork, rawURL, ErrNotFound)
	case "AccessDenied":
		return fmt.Errorf("%w: get %s: %w", model.ErrNetwork, rawURL, ErrForbidden)
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: get %s: %w", model.ErrNetwork, rawURL, ErrUnauthorized)
	}
	return networkError(ctx, "get "+rawURL, err)
}

// parseS3URL splits s3://bucket/path/to/key into bucket and key.
func parseS3URL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url %q: %w", rawURL, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %q", rawURL)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 url %q must have the form s3://bucket/key", rawURL)
	}
	return bucket, key, nil
}
