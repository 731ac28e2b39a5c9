package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MaxPresignExpiry is the longest lifetime S3 accepts for a presigned URL.
const MaxPresignExpiry = 7 * 24 * time.Hour

// Object keys carry a fresh UUID, so written objects never change.
const immutableCacheControl = "public, max-age=31536000, immutable"

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
	// Region skips the bucket location lookup when signing URLs.
	Region string
	// PublicBaseURL, when set, is joined with the object key to build the
	// returned URL instead of presigning a GET.
	PublicBaseURL string
}

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	ETag        string
}

// Client stores avatar objects in one S3-compatible bucket.
type Client struct {
	api        *minio.Client
	bucket     string
	publicBase string
}

func NewClient(cfg Config) (*Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage bucket is required")
	}

	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store %s: %w", cfg.Endpoint, err)
	}

	return &Client{
		api:        api,
		bucket:     bucket,
		publicBase: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket on first use. A concurrent creator
// winning the race is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	found, err := c.api.BucketExists(ctx, c.bucket)
	switch {
	case err != nil:
		return fmt.Errorf("look up bucket %s: %w", c.bucket, err)
	case found:
		return nil
	}

	makeErr := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	if makeErr == nil {
		return nil
	}
	if found, err := c.api.BucketExists(ctx, c.bucket); err == nil && found {
		return nil
	}
	return fmt.Errorf("create bucket %s: %w", c.bucket, makeErr)
}

func (c *Client) WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error {
	_, err := c.api.PutObject(ctx, c.bucket, objectKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: immutableCacheControl,
	})
	if err != nil {
		return fmt.Errorf("write %s/%s: %w", c.bucket, objectKey, err)
	}
	return nil
}

// Stat reports whether objectKey exists and, if so, what was stored.
func (c *Client) Stat(ctx context.Context, objectKey string) (ObjectInfo, bool, error) {
	info, err := c.api.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchObject":
			return ObjectInfo{}, false, nil
		}
		return ObjectInfo{}, false, fmt.Errorf("stat %s/%s: %w", c.bucket, objectKey, err)
	}
	return ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        info.ETag,
	}, true, nil
}

// PresignedGetURL signs a GET for objectKey. Expiry is clamped to
// (0, MaxPresignExpiry].
func (c *Client) PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if expiry <= 0 || expiry > MaxPresignExpiry {
		expiry = MaxPresignExpiry
	}
	u, err := c.api.PresignedGetObject(ctx, c.bucket, objectKey, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", c.bucket, objectKey, err)
	}
	return u.String(), nil
}

// ObjectURL returns the public URL for objectKey, falling back to a
// presigned GET valid for expiry when no public base is configured.
func (c *Client) ObjectURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	if c.publicBase == "" {
		return c.PresignedGetURL(ctx, objectKey, expiry)
	}
	return JoinURL(c.publicBase, objectKey), nil
}

// JoinURL appends an object key to a base URL, escaping each key segment.
func JoinURL(base, objectKey string) string {
	parts := strings.Split(strings.Trim(objectKey, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
