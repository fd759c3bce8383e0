package editor

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
)

const fallbackContentType = "application/octet-stream"

// Sanitize re-encodes an image at its natural size and maximum quality, which
// drops EXIF and other ancillary metadata. Video is returned unchanged.
func (e *Editor) Sanitize(ctx context.Context, data []byte, kind domain.MediaKind, contentType string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	if kind == domain.MediaKindVideo {
		if strings.TrimSpace(contentType) == "" {
			contentType = fallbackContentType
		}
		return Result{Data: data, ContentType: contentType}, nil
	}

	img, srcFormat, err := decodeImage(data, e.limits)
	if err != nil {
		return Result{}, err
	}

	format := e.sanitizedFormat(srcFormat)
	out, err := e.encode(img, format)
	if err != nil {
		return Result{}, err
	}

	bounds := img.Bounds()
	return Result{
		Data:        out,
		Format:      format,
		ContentType: format.ContentType(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, nil
}

// sanitizedFormat keeps the source format when it can be written back and
// falls back to PNG otherwise.
func (e *Editor) sanitizedFormat(srcFormat string) Format {
	format, err := ParseFormat(srcFormat)
	if err != nil || !e.encoder.Supports(format) {
		return FormatPNG
	}
	return format
}

// MediaFileName names an upload after its creation time in milliseconds.
// The extension is whatever follows the last dot of the base name, kept as
// written; a name without a dot is used whole, and "jpg" fills in when
// nothing is left.
func MediaFileName(now time.Time, original string) string {
	base := filepath.Base(strings.TrimSpace(original))
	ext := base[strings.LastIndexByte(base, '.')+1:]
	if ext == "" || base == "." || base == string(filepath.Separator) {
		ext = "jpg"
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "." + ext
}
