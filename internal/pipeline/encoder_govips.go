//go:build govips && cgo

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsEncoder struct{}

func (e govipsEncoder) Name() string {
	return "govips"
}

func (e govipsEncoder) Encode(ctx context.Context, img image.Image, quality int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// libvips takes encoded buffers; an uncompressed PNG is the cheapest lossless handoff.
	var raw bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&raw, img); err != nil {
		return nil, fmt.Errorf("stage surface for libvips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(raw.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load surface into libvips: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = clampQuality(quality)
	params.StripMetadata = true

	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return data, nil
}
