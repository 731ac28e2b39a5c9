package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

var ErrUnsupportedType = errors.New("unsupported image type")

// ToDataURL reads r fully and returns it as a base64 data URL, so a freshly
// picked file can be displayed and decoded before cropping.
func ToDataURL(ctx context.Context, r io.Reader) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrRead, err)
	}

	mime := mimetype.Detect(data).String()
	if base, _, ok := strings.Cut(mime, ";"); ok {
		mime = base
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DetectImage enforces the picker constraint: one of the accepted image types.
func DetectImage(head []byte) (string, error) {
	mt := mimetype.Detect(head)
	for accepted := range domain.AcceptedTypes {
		if mt.Is(accepted) {
			return accepted, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
}

// AcceptedExtension reports whether name carries one of the accepted extensions.
func AcceptedExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, exts := range domain.AcceptedTypes {
		for _, e := range exts {
			if e == ext {
				return true
			}
		}
	}
	return false
}
