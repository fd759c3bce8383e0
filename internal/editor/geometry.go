package editor

import (
	"image"
	"image/draw"
	"math"

	"github.com/decentgram/mediaflow/internal/domain"
	"golang.org/x/image/math/f64"
)

// SafeCanvasSize returns the side of the square working canvas that holds a
// width x height image rotated about its center by any angle.
func SafeCanvasSize(width, height int) int {
	longest := float64(max(width, height))
	return 2 * int(math.Ceil(longest/2*math.Sqrt2))
}

// NormalizeDegrees maps any finite angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	n := math.Mod(deg, 360)
	if n < 0 {
		n += 360
	}
	if n >= 360 {
		n = 0
	}
	return n
}

func rotationTerms(deg float64) (sin, cos float64) {
	sin, cos = math.Sincos(NormalizeDegrees(deg) * math.Pi / 180)
	// Quarter turns must land on whole pixels.
	const eps = 1e-12
	if math.Abs(sin) < eps {
		sin = 0
	}
	if math.Abs(cos) < eps {
		cos = 0
	}
	return sin, cos
}

// canvasTransform maps source coordinates onto a size x size canvas. The
// source is placed on whole pixels as close to centered as possible, then
// rotated clockwise (y axis pointing down) about the canvas center. Keeping
// the placement integral makes 0 deg a plain copy and quarter turns exact.
func canvasTransform(size int, src image.Rectangle, degrees float64) f64.Aff3 {
	sin, cos := rotationTerms(degrees)
	center := float64(size) / 2
	left := float64(canvasOffset(center-float64(src.Dx())/2) - src.Min.X)
	top := float64(canvasOffset(center-float64(src.Dy())/2) - src.Min.Y)
	dx, dy := left-center, top-center
	return f64.Aff3{
		cos, -sin, center + cos*dx - sin*dy,
		sin, cos, center + sin*dx + cos*dy,
	}
}

// rotatedOrigin is the top-left corner of the bounding box of the source
// after m has been applied. Crop offsets are measured from this point.
func rotatedOrigin(m f64.Aff3, src image.Rectangle) image.Point {
	minX, minY := math.Inf(1), math.Inf(1)
	for _, p := range [...]image.Point{src.Min, {src.Max.X, src.Min.Y}, {src.Min.X, src.Max.Y}, src.Max} {
		x, y := float64(p.X), float64(p.Y)
		minX = math.Min(minX, m[0]*x+m[1]*y+m[2])
		minY = math.Min(minY, m[3]*x+m[4]*y+m[5])
	}
	return image.Pt(canvasOffset(minX), canvasOffset(minY))
}

// cropCanvas copies crop.Width x crop.Height pixels starting crop.X, crop.Y
// past origin. Areas outside the canvas stay transparent.
func cropCanvas(canvas *image.RGBA, origin image.Point, crop domain.Crop) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, crop.Width, crop.Height))
	draw.Draw(out, out.Bounds(), canvas, origin.Add(image.Pt(crop.X, crop.Y)), draw.Src)
	return out
}

// canvasOffset rounds a fractional canvas position the way putImageData does:
// the negated offset is rounded half toward positive infinity.
func canvasOffset(v float64) int {
	return -int(math.Floor(-v + 0.5))
}
