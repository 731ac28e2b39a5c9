package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CropToFixedSquare(t *testing.T) {
	src := BytesSource{Name: "wide.png", Data: buildTestPNG(t, 1200, 800)}
	crop := &domain.CropRect{X: 100, Y: 50, Width: 800, Height: 800}

	out, err := NewNormalizer().Normalize(context.Background(), src, crop)
	require.NoError(t, err)

	assert.Equal(t, domain.OutputSize, out.Width)
	assert.Equal(t, domain.OutputSize, out.Height)
	assert.Equal(t, "image/webp", out.MIME)
	assert.True(t, isWebP(out.Data), "expected RIFF/WEBP container")

	img := decodeOutput(t, out.Data)
	assert.Equal(t, image.Rect(0, 0, 500, 500), img.Bounds())
	for _, p := range []image.Point{{0, 0}, {499, 0}, {0, 499}, {499, 499}, {250, 250}} {
		_, _, _, a := img.At(p.X, p.Y).RGBA()
		assert.Equal(t, uint32(0xffff), a, "pixel %v should be opaque", p)
	}
}

func TestNormalize_NilCropEqualsFullExtent(t *testing.T) {
	data := buildTestPNG(t, 320, 200)
	n := NewNormalizer()

	withoutCrop, err := n.Normalize(context.Background(), BytesSource{Data: data}, nil)
	require.NoError(t, err)

	full := &domain.CropRect{X: 0, Y: 0, Width: 320, Height: 200}
	withFull, err := n.Normalize(context.Background(), BytesSource{Data: data}, full)
	require.NoError(t, err)

	assert.Equal(t, withFull.Data, withoutCrop.Data)
}

func TestNormalize_Deterministic(t *testing.T) {
	data := buildTestPNG(t, 640, 480)
	crop := &domain.CropRect{X: 80, Y: 0, Width: 480, Height: 480}
	n := NewNormalizer()

	first, err := n.Normalize(context.Background(), BytesSource{Data: data}, crop)
	require.NoError(t, err)
	second, err := n.Normalize(context.Background(), BytesSource{Data: data}, crop)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
}

func TestNormalize_StretchesNonSquareSource(t *testing.T) {
	// Left half red, right half blue; a 2:1 source squashed into 1:1 keeps
	// the split at the output's vertical midline.
	img := image.NewNRGBA(image.Rect(0, 0, 200, 100))
	fill(img, image.Rect(0, 0, 100, 100), color.NRGBA{R: 255, A: 255})
	fill(img, image.Rect(100, 0, 200, 100), color.NRGBA{B: 255, A: 255})

	out, err := NewNormalizer().Normalize(context.Background(), BytesSource{Data: encodePNG(t, img)}, nil)
	require.NoError(t, err)

	dec := decodeOutput(t, out.Data)
	assertNear(t, dec.At(120, 250), color.RGBA{R: 255, A: 255})
	assertNear(t, dec.At(380, 250), color.RGBA{B: 255, A: 255})
	assertNear(t, dec.At(120, 20), color.RGBA{R: 255, A: 255})
	assertNear(t, dec.At(380, 480), color.RGBA{B: 255, A: 255})
}

func TestNormalize_TransparencyCompositedOnWhite(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	fill(img, image.Rect(0, 0, 100, 100), color.NRGBA{})

	out, err := NewNormalizer().Normalize(context.Background(), BytesSource{Data: encodePNG(t, img)}, nil)
	require.NoError(t, err)

	dec := decodeOutput(t, out.Data)
	assertNear(t, dec.At(250, 250), color.RGBA{R: 255, G: 255, B: 255, A: 255})
}

func TestNormalize_OutOfRangeCropIsNotClamped(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	fill(img, img.Bounds(), color.NRGBA{R: 255, A: 255})

	// The right half of the region lies beyond the source and stays white.
	crop := &domain.CropRect{X: 50, Y: 0, Width: 100, Height: 100}
	out, err := NewNormalizer().Normalize(context.Background(), BytesSource{Data: encodePNG(t, img)}, crop)
	require.NoError(t, err)

	dec := decodeOutput(t, out.Data)
	assertNear(t, dec.At(100, 250), color.RGBA{R: 255, A: 255})
	assertNear(t, dec.At(420, 250), color.RGBA{R: 255, G: 255, B: 255, A: 255})
}

func TestNormalize_OpaqueSourceStaysOpaque(t *testing.T) {
	data := buildTestPNG(t, 1200, 800)
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}

	tests := []struct {
		name  string
		crop  domain.CropRect
		white []image.Point
	}{
		{name: "inside", crop: domain.CropRect{X: 200, Y: 0, Width: 800, Height: 800}},
		{name: "runs past bottom", crop: domain.CropRect{X: 100, Y: 50, Width: 800, Height: 800}, white: []image.Point{{250, 499}}},
		{name: "beyond source", crop: domain.CropRect{X: 5000, Y: 5000, Width: 10, Height: 10}, white: []image.Point{{0, 0}, {250, 250}, {499, 499}}},
		{name: "negative origin", crop: domain.CropRect{X: -300, Y: -300, Width: 600, Height: 600}, white: []image.Point{{10, 10}, {200, 200}}},
	}

	n := NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := n.Normalize(context.Background(), BytesSource{Data: data}, &tt.crop)
			require.NoError(t, err)
			require.True(t, isWebP(out.Data))
			assert.Equal(t, "VP8 ", string(out.Data[12:16]), "output must be a plain lossy stream without alpha")

			dec := decodeOutput(t, out.Data)
			b := dec.Bounds()
			for y := b.Min.Y; y < b.Max.Y; y++ {
				for x := b.Min.X; x < b.Max.X; x++ {
					if _, _, _, a := dec.At(x, y).RGBA(); a != 0xffff {
						t.Fatalf("pixel (%d,%d) alpha %#x, want opaque", x, y, a)
					}
				}
			}
			for _, p := range tt.white {
				assertNear(t, dec.At(p.X, p.Y), white)
			}
		})
	}
}

func TestNormalize_EmptyCropYieldsWhite(t *testing.T) {
	crop := &domain.CropRect{X: 10, Y: 10, Width: 0, Height: 40}
	out, err := NewNormalizer().Normalize(context.Background(), BytesSource{Data: buildTestPNG(t, 80, 80)}, crop)
	require.NoError(t, err)

	dec := decodeOutput(t, out.Data)
	assert.Equal(t, image.Rect(0, 0, 500, 500), dec.Bounds())
	assertNear(t, dec.At(250, 250), color.RGBA{R: 255, G: 255, B: 255, A: 255})
}

func TestNormalize_CorruptSource(t *testing.T) {
	src := &trackingSource{data: []byte("definitely not an image")}

	_, err := NewNormalizer().Normalize(context.Background(), src, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDecode)
	assert.Equal(t, 1, src.closed, "handle must be released on failure")
}

func TestNormalize_ReleasesHandleOnSuccess(t *testing.T) {
	src := &trackingSource{data: buildTestPNG(t, 40, 40)}

	_, err := NewNormalizer().Normalize(context.Background(), src, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, src.opened)
	assert.Equal(t, 1, src.closed)
}

func TestNormalize_ReleasesHandleOnEncodeFailure(t *testing.T) {
	src := &trackingSource{data: buildTestPNG(t, 40, 40)}
	n := NewNormalizer(WithEncoder(emptyEncoder{}))

	_, err := n.Normalize(context.Background(), src, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEncode)
	assert.Equal(t, 1, src.closed)
}

func TestNormalize_OpenFailureIsDecodeError(t *testing.T) {
	_, err := NewNormalizer().Normalize(context.Background(), FileSource{Path: filepath.Join(t.TempDir(), "missing.png")}, nil)
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestNormalize_FileAndDataURLSources(t *testing.T) {
	data := buildTestPNG(t, 60, 60)
	path := filepath.Join(t.TempDir(), "input.png")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	dataURL, err := ToDataURL(context.Background(), bytes.NewReader(data))
	require.NoError(t, err)

	n := NewNormalizer()
	for _, ref := range []string{path, dataURL} {
		src, err := ParseSource(ref, 0)
		require.NoError(t, err)

		out, err := n.Normalize(context.Background(), src, nil)
		require.NoError(t, err, "source %s", src.Describe())
		assert.Equal(t, 500, out.Width)
	}
}

func TestNormalize_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewNormalizer().Normalize(ctx, BytesSource{Data: buildTestPNG(t, 10, 10)}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

type trackingSource struct {
	data   []byte
	opened int
	closed int
}

func (s *trackingSource) Open(_ context.Context) (io.ReadCloser, error) {
	s.opened++
	return &trackingCloser{Reader: bytes.NewReader(s.data), src: s}, nil
}

func (s *trackingSource) Describe() string { return "tracking" }

type trackingCloser struct {
	io.Reader
	src *trackingSource
}

func (c *trackingCloser) Close() error {
	c.src.closed++
	return nil
}

type emptyEncoder struct{}

func (emptyEncoder) Name() string { return "empty" }

func (emptyEncoder) Encode(context.Context, image.Image, int) ([]byte, error) {
	return nil, nil
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}
	return encodePNG(t, img)
}

func encodePNG(t testing.TB, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func fill(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

func decodeOutput(t *testing.T, data []byte) image.Image {
	t.Helper()

	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "webp", format)
	return img
}

func isWebP(data []byte) bool {
	return len(data) > 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}

// assertNear compares colors with a tolerance wide enough for lossy encoding.
func assertNear(t *testing.T, got color.Color, want color.RGBA) {
	t.Helper()

	const tolerance = 40
	r, g, b, a := got.RGBA()
	diff := func(a uint32, b uint8) int {
		d := int(a>>8) - int(b)
		if d < 0 {
			return -d
		}
		return d
	}
	if diff(r, want.R) > tolerance || diff(g, want.G) > tolerance || diff(b, want.B) > tolerance || diff(a, want.A) > tolerance {
		t.Fatalf("color %v not within %d of %v", got, tolerance, want)
	}
}
