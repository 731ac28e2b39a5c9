package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/storage"
)

type OSSConfig struct {
	// Endpoint such as oss-cn-hangzhou.aliyuncs.com.
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	// Domain is a custom or CDN domain. Defaults to the bucket domain.
	Domain string
}

type ossPutter interface {
	PutObject(objectKey string, reader io.Reader, options ...oss.Option) error
}

// OSSUploader puts the file into an Aliyun OSS bucket and returns its public URL.
type OSSUploader struct {
	bucket ossPutter
	domain string
	prefix string
}

func NewOSSUploader(cfg OSSConfig, prefix string) (*OSSUploader, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("oss bucket is required")
	}

	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("create oss client: %w", err)
	}
	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("open oss bucket %s: %w", cfg.Bucket, err)
	}

	return &OSSUploader{
		bucket: bucket,
		domain: ossDomain(cfg),
		prefix: prefix,
	}, nil
}

func (u *OSSUploader) Upload(ctx context.Context, file domain.File) (domain.UploadResult, error) {
	if err := validateFile(file); err != nil {
		return domain.UploadResult{}, err
	}

	key := objectKey(u.prefix, file)
	err := u.bucket.PutObject(key, bytes.NewReader(file.Data),
		oss.ContentType(file.ContentType),
		oss.WithContext(ctx),
	)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("put oss object %s: %w", key, err)
	}
	return domain.UploadResult{URL: storage.JoinURL(u.domain, key)}, nil
}

func ossDomain(cfg OSSConfig) string {
	d := strings.TrimSpace(cfg.Domain)
	if d == "" {
		return fmt.Sprintf("https://%s.%s", cfg.Bucket, cfg.Endpoint)
	}
	if !strings.HasPrefix(d, "http://") && !strings.HasPrefix(d, "https://") {
		d = "https://" + d
	}
	return strings.TrimRight(d, "/")
}
