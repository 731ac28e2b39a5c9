package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var ErrNoSource = errors.New("no source image")

// Normalizer turns an arbitrary source image and optional crop into the
// fixed 500x500 WebP output.
type Normalizer struct {
	encoder Encoder
	logger  *log.Logger
	tracer  trace.Tracer
	size    int
	quality int
}

type Option func(*Normalizer)

func WithEncoder(e Encoder) Option {
	return func(n *Normalizer) {
		if e != nil {
			n.encoder = e
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

func NewNormalizer(opts ...Option) *Normalizer {
	n := &Normalizer{
		encoder: newEncoder(),
		logger:  log.New(io.Discard),
		tracer:  otel.Tracer("avatarcrop/pipeline"),
		size:    domain.OutputSize,
		quality: domain.OutputQuality,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Normalizer) EncoderName() string {
	return n.encoder.Name()
}

// Normalize decodes src, samples crop (or the whole image when crop is nil),
// stretches it over a white 500x500 surface and encodes it. The crop is used
// verbatim: it is neither clamped to the image nor forced square, so a
// non-square crop is scaled non-uniformly.
func (n *Normalizer) Normalize(ctx context.Context, src Source, crop *domain.CropRect) (domain.ProcessedImage, error) {
	ctx, span := n.tracer.Start(ctx, "pipeline.normalize")
	defer span.End()

	out, err := n.normalize(ctx, src, crop)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalize failed")
		return domain.ProcessedImage{}, err
	}

	span.SetAttributes(attribute.Int("output.bytes", out.Size()))
	span.SetStatus(codes.Ok, "normalized")
	return out, nil
}

func (n *Normalizer) normalize(ctx context.Context, src Source, crop *domain.CropRect) (domain.ProcessedImage, error) {
	if src == nil {
		return domain.ProcessedImage{}, fmt.Errorf("%w: %w", domain.ErrDecode, ErrNoSource)
	}

	img, err := decodeSource(ctx, src)
	if err != nil {
		return domain.ProcessedImage{}, err
	}

	region := domain.FullRect(img.Bounds())
	if crop != nil {
		region = *crop
		if err := crop.Validate(); err != nil {
			n.logger.Warn("crop passed through unchanged", "crop", crop.String(), "err", err)
		}
	}

	surface := compose(img, region.Rectangle(), n.size)

	select {
	case <-ctx.Done():
		return domain.ProcessedImage{}, ctx.Err()
	default:
	}

	data, err := n.encoder.Encode(ctx, surface, n.quality)
	if err != nil {
		return domain.ProcessedImage{}, fmt.Errorf("%w: %w", domain.ErrEncode, err)
	}
	if len(data) == 0 {
		return domain.ProcessedImage{}, fmt.Errorf("%w: encoder %s produced no output", domain.ErrEncode, n.encoder.Name())
	}

	n.logger.Debug("normalized",
		"source", src.Describe(),
		"region", region.String(),
		"encoder", n.encoder.Name(),
		"bytes", len(data),
	)

	return domain.ProcessedImage{
		Data:   data,
		Width:  n.size,
		Height: n.size,
		MIME:   domain.OutputMIME,
	}, nil
}

// decodeSource opens src, decodes it and closes the handle on every path. The
// result is an NRGBA rooted at the origin so out-of-range samples read as
// transparent.
func decodeSource(ctx context.Context, src Source) (*image.NRGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecode, err)
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrDecode, src.Describe(), err)
	}
	return imaging.Clone(img), nil
}

// compose stretches region of src onto a size x size opaque white surface.
// Scaling happens on a transparent layer first: the scaler turns Over into
// Src for opaque sources, which would copy out-of-range samples verbatim.
func compose(src image.Image, region image.Rectangle, size int) *image.RGBA {
	bounds := image.Rect(0, 0, size, size)
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)

	if region.Empty() {
		return dst
	}
	layer := image.NewRGBA(bounds)
	draw.CatmullRom.Scale(layer, bounds, src, region, draw.Src, nil)
	draw.Draw(dst, bounds, layer, image.Point{}, draw.Over)
	return dst
}
