// Package editor renders the crop, rotate and filter edits applied to images
// before they are posted, and strips metadata from uploaded media.
package editor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/decentgram/mediaflow/internal/domain"
	xdraw "golang.org/x/image/draw"
)

type Options struct {
	// DefaultFormat is used when an edit does not name one. Defaults to jpeg.
	DefaultFormat string
	Limits        Limits
}

// Result is one encoded image. Width and Height are zero for pass-through
// media that was never decoded.
type Result struct {
	Data        []byte
	Format      Format
	ContentType string
	Width       int
	Height      int
}

// Editor holds no per-call state and is safe for concurrent use.
type Editor struct {
	encoder       encoder
	defaultFormat Format
	limits        Limits
}

func New(opts Options) (*Editor, error) {
	enc, err := newEncoder()
	if err != nil {
		return nil, fmt.Errorf("build encoder: %w", err)
	}

	format := FormatJPEG
	if strings.TrimSpace(opts.DefaultFormat) != "" {
		format, err = ParseFormat(opts.DefaultFormat)
		if err != nil {
			return nil, err
		}
	}
	if !enc.Supports(format) {
		return nil, fmt.Errorf("%w: default format %s is not available in this build", ErrUnsupportedFormat, format)
	}

	return &Editor{
		encoder:       enc,
		defaultFormat: format,
		limits:        opts.Limits.withDefaults(),
	}, nil
}

func (e *Editor) Supports(format Format) bool {
	return e.encoder.Supports(format)
}

// Transform decodes source, applies edit and encodes the result at maximum
// quality. The output is always edit.Crop.Width x edit.Crop.Height.
func (e *Editor) Transform(ctx context.Context, source []byte, edit domain.Edit) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	format, err := e.outputFormat(edit.Format)
	if err != nil {
		return Result{}, err
	}

	src, _, err := decodeImage(source, e.limits)
	if err != nil {
		return Result{}, err
	}

	out, err := e.Render(src, edit)
	if err != nil {
		return Result{}, err
	}

	data, err := e.encode(out, format)
	if err != nil {
		return Result{}, err
	}

	bounds := out.Bounds()
	return Result{
		Data:        data,
		Format:      format,
		ContentType: format.ContentType(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// Render is the raster half of Transform. The source is filtered, drawn
// centered and rotated on a square working canvas large enough for any angle,
// and the crop is then copied out of that canvas, measured from the top-left
// corner of the rotated image.
func (e *Editor) Render(src image.Image, edit domain.Edit) (*image.RGBA, error) {
	bounds := src.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: source image is empty", ErrDecode)
	}

	size := SafeCanvasSize(bounds.Dx(), bounds.Dy())
	if err := e.limits.allow(size, size); err != nil {
		return nil, fmt.Errorf("%w: working canvas: %w", ErrEncoding, err)
	}
	if err := e.limits.allow(edit.Crop.Width, edit.Crop.Height); err != nil {
		return nil, fmt.Errorf("%w: output surface: %w", ErrEncoding, err)
	}

	filtered := applyFilters(src, edit.Filters)

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	s2d := canvasTransform(size, filtered.Bounds(), edit.Rotation)
	xdraw.BiLinear.Transform(canvas, s2d, filtered, filtered.Bounds(), xdraw.Over, nil)

	return cropCanvas(canvas, rotatedOrigin(s2d, filtered.Bounds()), edit.Crop), nil
}

func (e *Editor) outputFormat(requested string) (Format, error) {
	if strings.TrimSpace(requested) == "" {
		return e.defaultFormat, nil
	}
	format, err := ParseFormat(requested)
	if err != nil {
		return "", err
	}
	if !e.encoder.Supports(format) {
		return "", fmt.Errorf("%w: %s is not available in this build", ErrUnsupportedFormat, format)
	}
	return format, nil
}

func (e *Editor) encode(img image.Image, format Format) ([]byte, error) {
	data, err := e.encoder.Encode(img, format)
	if err != nil {
		if errors.Is(err, ErrEncoding) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: encoder produced no data", ErrEncoding)
	}
	return data, nil
}
