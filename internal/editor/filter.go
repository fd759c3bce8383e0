package editor

import (
	"image"
	"image/color"
	"math"

	"github.com/decentgram/mediaflow/internal/domain"
	"github.com/disintegration/imaging"
)

// colorMatrix maps non-premultiplied sRGB channels in [0, 255]:
//
//	out[i] = m[i][0]*R + m[i][1]*G + m[i][2]*B + m[i][3]
type colorMatrix [3][4]float64

var identityMatrix = colorMatrix{
	{1, 0, 0, 0},
	{0, 1, 0, 0},
	{0, 0, 1, 0},
}

// filterChain is evaluated stage by stage, clamping after each stage, so the
// order of its matrices matters.
type filterChain []colorMatrix

// newFilterChain builds the fixed brightness, contrast, saturation,
// grayscale, sepia sequence. Matrices follow the CSS filter functions.
func newFilterChain(f domain.Filters) filterChain {
	return filterChain{
		brightnessMatrix(nonNegative(f.Brightness) / 100),
		contrastMatrix(nonNegative(f.Contrast) / 100),
		saturateMatrix(nonNegative(f.Saturation) / 100),
		grayscaleMatrix(unitInterval(f.Grayscale / 100)),
		sepiaMatrix(unitInterval(f.Sepia / 100)),
	}
}

func (fc filterChain) apply(c color.NRGBA) color.NRGBA {
	r, g, b := float64(c.R), float64(c.G), float64(c.B)
	for _, m := range fc {
		r, g, b = clampChannel(m[0][0]*r+m[0][1]*g+m[0][2]*b+m[0][3]),
			clampChannel(m[1][0]*r+m[1][1]*g+m[1][2]*b+m[1][3]),
			clampChannel(m[2][0]*r+m[2][1]*g+m[2][2]*b+m[2][3])
	}
	return color.NRGBA{R: toUint8(r), G: toUint8(g), B: toUint8(b), A: c.A}
}

// applyFilters runs the chain over every pixel of src and returns a new
// image anchored at the origin.
func applyFilters(src image.Image, f domain.Filters) *image.NRGBA {
	chain := newFilterChain(f)
	return imaging.AdjustFunc(src, chain.apply)
}

func brightnessMatrix(s float64) colorMatrix {
	return colorMatrix{
		{s, 0, 0, 0},
		{0, s, 0, 0},
		{0, 0, s, 0},
	}
}

func contrastMatrix(s float64) colorMatrix {
	offset := 127.5 * (1 - s)
	return colorMatrix{
		{s, 0, 0, offset},
		{0, s, 0, offset},
		{0, 0, s, offset},
	}
}

func saturateMatrix(s float64) colorMatrix {
	luma := colorMatrix{
		{0.213, 0.715, 0.072, 0},
		{0.213, 0.715, 0.072, 0},
		{0.213, 0.715, 0.072, 0},
	}
	return mixMatrix(luma, identityMatrix, s)
}

func grayscaleMatrix(amount float64) colorMatrix {
	gray := colorMatrix{
		{0.2126, 0.7152, 0.0722, 0},
		{0.2126, 0.7152, 0.0722, 0},
		{0.2126, 0.7152, 0.0722, 0},
	}
	return mixMatrix(identityMatrix, gray, amount)
}

func sepiaMatrix(amount float64) colorMatrix {
	sepia := colorMatrix{
		{0.393, 0.769, 0.189, 0},
		{0.349, 0.686, 0.168, 0},
		{0.272, 0.534, 0.131, 0},
	}
	return mixMatrix(identityMatrix, sepia, amount)
}

// mixMatrix returns from*(1-t) + to*t. At t=0 and t=1 the result equals one
// of the inputs exactly.
func mixMatrix(from, to colorMatrix, t float64) colorMatrix {
	var out colorMatrix
	for i := range out {
		for j := range out[i] {
			out[i][j] = from[i][j]*(1-t) + to[i][j]*t
		}
	}
	return out
}

func clampChannel(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}

func toUint8(v float64) uint8 {
	return uint8(math.Round(clampChannel(v)))
}

func nonNegative(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

func unitInterval(v float64) float64 {
	v = nonNegative(v)
	if v > 1 {
		return 1
	}
	return v
}
