package editor

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	defaultMaxDimension       = 32768
	defaultMaxPixels    int64 = 128 * 1024 * 1024
)

// Limits bounds every raster the editor allocates: the decoded source, the
// working canvas and the output surface.
type Limits struct {
	MaxDimension int
	MaxPixels    int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxDimension <= 0 {
		l.MaxDimension = defaultMaxDimension
	}
	if l.MaxPixels <= 0 {
		l.MaxPixels = defaultMaxPixels
	}
	return l
}

func (l Limits) allow(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("surface size invalid (%d x %d)", width, height)
	}
	if width > l.MaxDimension || height > l.MaxDimension {
		return fmt.Errorf("surface dimension exceeds limit (%d x %d > %d)", width, height, l.MaxDimension)
	}
	if pixels := int64(width) * int64(height); pixels > l.MaxPixels {
		return fmt.Errorf("surface pixel count %d exceeds limit %d", pixels, l.MaxPixels)
	}
	return nil
}

// decodeImage rasterizes data with EXIF orientation applied. The header is
// checked against the limits before any pixel buffer is allocated.
func decodeImage(data []byte, limits Limits) (image.Image, string, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := limits.allow(cfg.Width, cfg.Height); err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, format, nil
}

type encoder interface {
	Encode(img image.Image, format Format) ([]byte, error)
	Supports(format Format) bool
}

// stdEncoder writes JPEG at quality 100 and PNG without loss.
type stdEncoder struct{}

func (stdEncoder) Supports(format Format) bool {
	return format == FormatJPEG || format == FormatPNG
}

func (stdEncoder) Encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer

	switch format {
	case FormatJPEG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(100)); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case FormatWebP:
		return nil, fmt.Errorf("%w: webp export requires govips build tag", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return buf.Bytes(), nil
}
