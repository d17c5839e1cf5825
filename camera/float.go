package camera

import (
	"image"
	"image/color"
	"math"

	"github.com/slscan/rig/util"
)

// FloatImage is a single channel image of float64 samples.  It is the usual
// output of HDR composition, where values are relative radiance and not
// bounded to an integer range.
type FloatImage struct {
	// Pix holds the samples in row major order
	Pix []float64

	// Stride is the distance between vertically adjacent samples
	Stride int

	// Rect is the bounds of the image
	Rect image.Rectangle
}

// NewFloatImage returns a zeroed FloatImage with bounds r
func NewFloatImage(r image.Rectangle) *FloatImage {
	return &FloatImage{
		Pix:    make([]float64, r.Dx()*r.Dy()),
		Stride: r.Dx(),
		Rect:   r,
	}
}

// ColorModel satisfies image.Image
func (f *FloatImage) ColorModel() color.Model { return color.Gray16Model }

// Bounds satisfies image.Image
func (f *FloatImage) Bounds() image.Rectangle { return f.Rect }

// FloatAt returns the sample at (x, y)
func (f *FloatImage) FloatAt(x, y int) float64 {
	if !(image.Point{x, y}.In(f.Rect)) {
		return 0
	}
	return f.Pix[(y-f.Rect.Min.Y)*f.Stride+(x-f.Rect.Min.X)]
}

// SetFloat sets the sample at (x, y)
func (f *FloatImage) SetFloat(x, y int, v float64) {
	if !(image.Point{x, y}.In(f.Rect)) {
		return
	}
	f.Pix[(y-f.Rect.Min.Y)*f.Stride+(x-f.Rect.Min.X)] = v
}

// At satisfies image.Image.  Samples are clamped to [0, 1] and mapped onto
// the 16-bit range; use Normalized for a min-max stretched view.
func (f *FloatImage) At(x, y int) color.Color {
	v := f.FloatAt(x, y)
	v = util.Clamp(v, 0, 1)
	return color.Gray16{Y: uint16(v * math.MaxUint16)}
}

// MinMax returns the extrema of the samples, ignoring NaNs
func (f *FloatImage) MinMax() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range f.Pix {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// Normalized stretches the samples between their extrema onto 8 bits
func (f *FloatImage) Normalized() *image.Gray {
	out := image.NewGray(f.Rect)
	lo, hi := f.MinMax()
	span := hi - lo
	if span == 0 || math.IsInf(span, 0) || math.IsNaN(span) {
		return out
	}
	w, h := f.Rect.Dx(), f.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := (f.Pix[y*f.Stride+x] - lo) / span * 255
			out.Pix[y*out.Stride+x] = uint8(math.Round(v))
		}
	}
	return out
}
