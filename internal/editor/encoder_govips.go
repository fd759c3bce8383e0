//go:build govips && cgo

package editor

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/disintegration/imaging"
)

// vipsEncoder adds WebP export on top of the pure-Go encoder.
type vipsEncoder struct {
	fallback stdEncoder
}

func (e vipsEncoder) Supports(format Format) bool {
	return format == FormatWebP || e.fallback.Supports(format)
}

func (e vipsEncoder) Encode(img image.Image, format Format) ([]byte, error) {
	if format != FormatWebP {
		return e.fallback.Encode(img, format)
	}

	var staged bytes.Buffer
	if err := imaging.Encode(&staged, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed)); err != nil {
		return nil, fmt.Errorf("stage raster for vips: %w", err)
	}

	ref, err := vips.NewImageFromBuffer(staged.Bytes())
	if err != nil {
		return nil, fmt.Errorf("load raster into vips: %w", err)
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.Quality = 100
	params.Lossless = true
	params.StripMetadata = true
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return data, nil
}
