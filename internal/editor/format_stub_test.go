//go:build !govips || !cgo

package editor

import (
	"context"
	"errors"
	"testing"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestWebPExportUnavailableWithoutVips(t *testing.T) {
	ed := newTestEditor(t)
	assert.False(t, ed.Supports(FormatWebP))

	edit := domain.NewEdit(domain.Crop{Width: 10, Height: 10})
	edit.Format = "webp"
	_, err := ed.Transform(context.Background(), encodePNG(t, gradientImage(20, 20)), edit)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got %v", err)
	assert.True(t, errors.Is(err, ErrEncoding), "got %v", err)

	_, err = New(Options{DefaultFormat: "webp"})
	assert.True(t, errors.Is(err, ErrUnsupportedFormat), "got %v", err)
}
