package upload

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/storage"
	"github.com/google/uuid"
)

// Uploader stores one file and reports where it can be fetched from.
// Authentication, retry and destination are the uploader's concern.
type Uploader interface {
	Upload(ctx context.Context, file domain.File) (domain.UploadResult, error)
}

const (
	BackendLocal       = "local"
	BackendObjectStore = "s3"
	BackendOSS         = "oss"
	BackendHTTP        = "http"
)

type Config struct {
	Backend   string
	Prefix    string
	URLExpiry time.Duration

	LocalDir     string
	LocalBaseURL string

	Storage storage.Config
	OSS     OSSConfig
	HTTP    HTTPConfig
}

// New builds the uploader selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (Uploader, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendLocal:
		return &LocalUploader{Dir: cfg.LocalDir, BaseURL: cfg.LocalBaseURL, Prefix: cfg.Prefix}, nil
	case BackendObjectStore, "minio":
		client, err := storage.NewClient(cfg.Storage)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return &ObjectStoreUploader{Storage: client, Prefix: cfg.Prefix, URLExpiry: cfg.URLExpiry}, nil
	case BackendOSS:
		return NewOSSUploader(cfg.OSS, cfg.Prefix)
	case BackendHTTP:
		return NewHTTPUploader(cfg.HTTP)
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Backend)
	}
}

// objectKey places every upload under its own random directory so repeated
// uploads never overwrite each other.
func objectKey(prefix string, file domain.File) string {
	name := sanitizePathToken(strings.TrimSuffix(file.Name, path.Ext(file.Name)))
	ext := strings.TrimPrefix(path.Ext(file.Name), ".")
	if ext == "" {
		ext = "webp"
	}
	return path.Join(defaultPrefix(prefix), uuid.NewString(), name+"."+sanitizePathToken(ext))
}

func defaultPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return "avatars"
	}
	return prefix
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "image"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func validateFile(file domain.File) error {
	if len(file.Data) == 0 {
		return errors.New("file is empty")
	}
	return nil
}
