package upload

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/storage"
)

// LocalUploader writes into a directory. It is the offline target for the
// CLI and the loopback server.
type LocalUploader struct {
	Dir     string
	BaseURL string
	Prefix  string
}

func (u *LocalUploader) Upload(ctx context.Context, file domain.File) (domain.UploadResult, error) {
	if strings.TrimSpace(u.Dir) == "" {
		return domain.UploadResult{}, errors.New("output directory is required")
	}
	if err := validateFile(file); err != nil {
		return domain.UploadResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.UploadResult{}, err
	}

	key := objectKey(u.Prefix, file)
	fullPath := filepath.Join(u.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return domain.UploadResult{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(fullPath, file.Data, 0o644); err != nil {
		return domain.UploadResult{}, fmt.Errorf("write output file: %w", err)
	}

	if u.BaseURL != "" {
		return domain.UploadResult{URL: storage.JoinURL(u.BaseURL, key)}, nil
	}

	abs, err := filepath.Abs(fullPath)
	if err != nil {
		return domain.UploadResult{}, fmt.Errorf("resolve output path: %w", err)
	}
	return domain.UploadResult{URL: (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()}, nil
}
