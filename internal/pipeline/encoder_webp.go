package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/webp"
)

type webpEncoder struct {
	method int
}

func (e webpEncoder) Name() string {
	return "webp"
}

func (e webpEncoder) Encode(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	err := webp.Encode(&buf, img, webp.Options{
		Quality: clampQuality(quality),
		Method:  e.method,
	})
	if err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}
