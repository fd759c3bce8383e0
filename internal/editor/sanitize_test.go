package editor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"testing"
	"time"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeStripsJPEGMetadata(t *testing.T) {
	ed := newTestEditor(t)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradientImage(64, 40), &jpeg.Options{Quality: 95}))
	source := withExifSegment(buf.Bytes(), []byte("gps=52.37,4.89"))
	require.True(t, bytes.Contains(source, []byte("gps=52.37,4.89")))

	res, err := ed.Sanitize(context.Background(), source, domain.MediaKindImage, "image/jpeg")
	require.NoError(t, err)

	assert.Equal(t, FormatJPEG, res.Format)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Equal(t, 64, res.Width)
	assert.Equal(t, 40, res.Height)
	assert.False(t, bytes.Contains(res.Data, []byte("Exif")))
	assert.False(t, bytes.Contains(res.Data, []byte("gps=52.37,4.89")))

	out := decodeBytes(t, res.Data)
	assert.Equal(t, image.Rect(0, 0, 64, 40), out.Bounds())
}

func TestSanitizeKeepsPNG(t *testing.T) {
	ed := newTestEditor(t)

	res, err := ed.Sanitize(context.Background(), encodePNG(t, gradientImage(30, 20)), domain.MediaKindImage, "")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, res.Format)
	assert.Equal(t, "image/png", res.ContentType)
	assert.Equal(t, image.Rect(0, 0, 30, 20), decodeBytes(t, res.Data).Bounds())
}

func TestSanitizeFallsBackToPNG(t *testing.T) {
	ed := newTestEditor(t)

	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, gradientImage(16, 16), nil))

	res, err := ed.Sanitize(context.Background(), buf.Bytes(), domain.MediaKindImage, "image/gif")
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, res.Format)
	assert.Equal(t, "image/png", res.ContentType)
}

func TestSanitizeVideoPassesThrough(t *testing.T) {
	ed := newTestEditor(t)
	clip := []byte("\x00\x00\x00\x18ftypmp42 not decoded")

	res, err := ed.Sanitize(context.Background(), clip, domain.MediaKindVideo, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, clip, res.Data)
	assert.Equal(t, "video/mp4", res.ContentType)
	assert.Zero(t, res.Width)

	res, err = ed.Sanitize(context.Background(), clip, domain.MediaKindVideo, " ")
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", res.ContentType)
}

func TestSanitizeRejectsGarbage(t *testing.T) {
	ed := newTestEditor(t)

	_, err := ed.Sanitize(context.Background(), []byte("plain text"), domain.MediaKindImage, "image/png")
	assert.True(t, errors.Is(err, ErrDecode), "got %v", err)
}

func TestMediaFileName(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	tests := []struct {
		original string
		want     string
	}{
		{"holiday.PNG", "1700000000123.PNG"},
		{"clip.mov", "1700000000123.mov"},
		{"archive.tar.gz", "1700000000123.gz"},
		{"no-extension", "1700000000123.no-extension"},
		{"trailing.", "1700000000123.jpg"},
		{"uploads/raw/selfie.heic", "1700000000123.heic"},
		{"", "1700000000123.jpg"},
	}

	for _, tc := range tests {
		t.Run(tc.original, func(t *testing.T) {
			assert.Equal(t, tc.want, MediaFileName(now, tc.original))
		})
	}
}

// withExifSegment splices an APP1 Exif segment holding an empty big-endian
// TIFF directory plus payload right after the SOI marker.
func withExifSegment(jpegData, payload []byte) []byte {
	body := append([]byte("Exif\x00\x00MM\x00\x2a\x00\x00\x00\x08\x00\x00"), payload...)
	size := len(body) + 2

	out := make([]byte, 0, len(jpegData)+size+2)
	out = append(out, jpegData[:2]...)
	out = append(out, 0xFF, 0xE1, byte(size>>8), byte(size))
	out = append(out, body...)
	out = append(out, jpegData[2:]...)
	return out
}
