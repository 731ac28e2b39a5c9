package domain

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
)

const (
	OutputSize     = 500
	OutputQuality  = 90
	OutputMIME     = "image/webp"
	OutputFilename = "image.webp"
)

var (
	ErrDecode = errors.New("decode image")
	ErrEncode = errors.New("encode image")
	ErrRead   = errors.New("read file")
	ErrUpload = errors.New("upload image")
)

// AcceptedTypes maps the image MIME types a picker may hand over to their
// file extensions.
var AcceptedTypes = map[string][]string{
	"image/png":  {".png"},
	"image/jpeg": {".jpg", ".jpeg"},
	"image/gif":  {".gif"},
	"image/webp": {".webp"},
}

// CropRect is a region in source-image pixels as reported by the cropper.
type CropRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rectangle returns the region as-is. It is deliberately not canonicalized,
// so a rectangle with a non-positive size stays empty.
func (c CropRect) Rectangle() image.Rectangle {
	return image.Rectangle{
		Min: image.Point{X: c.X, Y: c.Y},
		Max: image.Point{X: c.X + c.Width, Y: c.Y + c.Height},
	}
}

func (c CropRect) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("crop width and height must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.X < 0 || c.Y < 0 {
		return fmt.Errorf("crop origin must not be negative, got %d,%d", c.X, c.Y)
	}
	return nil
}

func (c CropRect) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", c.X, c.Y, c.Width, c.Height)
}

// FullRect is the crop used when none is supplied.
func FullRect(bounds image.Rectangle) CropRect {
	return CropRect{
		X:      bounds.Min.X,
		Y:      bounds.Min.Y,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}
}

type ProcessedImage struct {
	Data   []byte
	Width  int
	Height int
	MIME   string
}

func (p ProcessedImage) Size() int {
	return len(p.Data)
}

// File wraps the encoded bytes into the named object handed to uploaders.
func (p ProcessedImage) File() File {
	return File{
		Name:        OutputFilename,
		ContentType: OutputMIME,
		Data:        p.Data,
	}
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

type UploadResult struct {
	URL string `json:"url"`
}

func (r UploadResult) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return errors.New("upload result has no url")
	}
	return nil
}

// CropperConfig is handed to the cropping widget.
type CropperConfig struct {
	Aspect           float64   `json:"aspect"`
	MinZoom          float64   `json:"minZoom"`
	MaxZoom          float64   `json:"maxZoom"`
	RestrictPosition bool      `json:"restrictPosition"`
	InitialCrop      *CropRect `json:"initialCrop,omitempty"`
}

func DefaultCropperConfig() CropperConfig {
	return CropperConfig{
		Aspect:           1,
		MinZoom:          1,
		MaxZoom:          5,
		RestrictPosition: true,
	}
}

// ParseCropRect parses "x,y,width,height".
func ParseCropRect(in string) (CropRect, error) {
	parts := strings.Split(strings.TrimSpace(in), ",")
	if len(parts) != 4 {
		return CropRect{}, fmt.Errorf("crop must be x,y,width,height: %q", in)
	}

	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return CropRect{}, fmt.Errorf("crop component %d: %w", i, err)
		}
		vals[i] = v
	}
	return CropRect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}
