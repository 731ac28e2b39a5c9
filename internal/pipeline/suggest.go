package pipeline

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/muesli/smartcrop"
	"github.com/nfnt/resize"
)

type CropStrategy string

const (
	CropCenter CropStrategy = "center"
	CropSmart  CropStrategy = "smart"
)

func ParseCropStrategy(in string) (CropStrategy, error) {
	switch CropStrategy(strings.ToLower(strings.TrimSpace(in))) {
	case "", CropCenter:
		return CropCenter, nil
	case CropSmart:
		return CropSmart, nil
	default:
		return "", fmt.Errorf("unknown crop strategy %q", in)
	}
}

// SuggestCrop proposes a square starting crop for the cropper. It never
// replaces a missing crop at confirm time.
func SuggestCrop(ctx context.Context, src Source, strategy CropStrategy) (domain.CropRect, error) {
	img, err := decodeSource(ctx, src)
	if err != nil {
		return domain.CropRect{}, err
	}

	switch strategy {
	case CropSmart:
		return smartSquare(ctx, img)
	default:
		return CenterSquare(img.Bounds()), nil
	}
}

// CenterSquare is the largest centered square, which is what a 1:1 cropper
// shows at zoom 1.
func CenterSquare(bounds image.Rectangle) domain.CropRect {
	side := min(bounds.Dx(), bounds.Dy())
	return domain.CropRect{
		X:      bounds.Min.X + (bounds.Dx()-side)/2,
		Y:      bounds.Min.Y + (bounds.Dy()-side)/2,
		Width:  side,
		Height: side,
	}
}

func smartSquare(ctx context.Context, img image.Image) (domain.CropRect, error) {
	side := min(img.Bounds().Dx(), img.Bounds().Dy())
	if side <= 0 {
		return domain.CropRect{}, fmt.Errorf("%w: source image has no pixels", domain.ErrDecode)
	}

	analyzer := smartcrop.NewAnalyzer(nfntResizer{})

	type cropResult struct {
		crop image.Rectangle
		err  error
	}
	resultChan := make(chan cropResult, 1)

	go func() {
		crop, err := analyzer.FindBestCrop(img, side, side)
		resultChan <- cropResult{crop: crop, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.CropRect{}, ctx.Err()
	case result := <-resultChan:
		if result.err != nil {
			return domain.CropRect{}, fmt.Errorf("find best crop: %w", result.err)
		}
		s := min(result.crop.Dx(), result.crop.Dy())
		return domain.CropRect{
			X:      result.crop.Min.X,
			Y:      result.crop.Min.Y,
			Width:  s,
			Height: s,
		}, nil
	}
}

type nfntResizer struct{}

func (nfntResizer) Resize(img image.Image, width, height uint) image.Image {
	return resize.Resize(width, height, img, resize.Bilinear)
}
