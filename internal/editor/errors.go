package editor

import (
	"errors"
	"fmt"
)

var (
	// ErrDecode reports source bytes that could not be rasterized.
	ErrDecode = errors.New("decode source image")
	// ErrEncoding reports a surface that could not be acquired or an encode
	// step that produced no output.
	ErrEncoding = errors.New("encode image")

	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported output format", ErrEncoding)
)
