package pipeline

import (
	"context"
	"image"
)

// Encoder turns the composited output surface into the fixed output format.
type Encoder interface {
	Encode(ctx context.Context, img image.Image, quality int) ([]byte, error)
	Name() string
}

func clampQuality(quality int) int {
	if quality <= 0 || quality > 100 {
		return 90
	}
	return quality
}
