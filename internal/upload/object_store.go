package upload

import (
	"context"
	"errors"
	"time"

	"github.com/dunamismax/avatarcrop/internal/domain"
)

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	ObjectURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// ObjectStoreUploader puts the file into an S3-compatible bucket.
type ObjectStoreUploader struct {
	Storage   objectWriter
	Prefix    string
	URLExpiry time.Duration
}

func (u *ObjectStoreUploader) Upload(ctx context.Context, file domain.File) (domain.UploadResult, error) {
	if u.Storage == nil {
		return domain.UploadResult{}, errors.New("storage client is required")
	}
	if err := validateFile(file); err != nil {
		return domain.UploadResult{}, err
	}

	key := objectKey(u.Prefix, file)
	if err := u.Storage.WriteObject(ctx, key, file.Data, file.ContentType); err != nil {
		return domain.UploadResult{}, err
	}

	expiry := u.URLExpiry
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	url, err := u.Storage.ObjectURL(ctx, key, expiry)
	if err != nil {
		return domain.UploadResult{}, err
	}
	return domain.UploadResult{URL: url}, nil
}
