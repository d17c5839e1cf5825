/*Package pattern provides the image stacks a projector cycles through during
a structured light sequence.

A stack is indexed 0..Depth-1.  Patterns loaded from numeric data are
modulation values in [0, 1], scaled to 8 bit gray for display.
*/
package pattern

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/astrogo/fitsio"
)

// Stack is an ordered, finite sequence of patterns
type Stack interface {
	// Depth is the number of patterns
	Depth() int

	// Pattern returns pattern i, 0 <= i < Depth
	Pattern(i int) (image.Image, error)
}

// Images is a Stack held in memory
type Images []image.Image

// Depth satisfies Stack
func (im Images) Depth() int {
	return len(im)
}

// Pattern satisfies Stack
func (im Images) Pattern(i int) (image.Image, error) {
	if i < 0 || i >= len(im) {
		return nil, fmt.Errorf("pattern index %d out of range, stack depth %d", i, len(im))
	}
	return im[i], nil
}

// Load reads a stack from path.  A directory is read with LoadDir, a .fits
// file with LoadFITS, and anything else is decoded as a single PNG.
func Load(path string) (Images, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return LoadDir(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		return LoadFITS(f)
	}
	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return Images{img}, nil
}

// LoadDir reads every PNG in dir, in lexical order of file name
func LoadDir(dir string) (Images, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".png") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := make(Images, 0, len(names))
	for _, name := range names {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		out = append(out, img)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no PNG patterns found in %s", dir)
	}
	return out, nil
}

// LoadFITS reads a (W, H, D) floating point cube of modulation values in
// [0, 1].  A 2D image is a stack of depth 1.
func LoadFITS(r io.Reader) (Images, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU is not an image")
	}
	axes := hdu.Header().Axes()
	if len(axes) < 2 || len(axes) > 3 {
		return nil, fmt.Errorf("expected a 2 or 3 axis cube, got %d axes", len(axes))
	}
	w, h, d := axes[0], axes[1], 1
	if len(axes) == 3 {
		d = axes[2]
	}
	var samples []float64
	// Read fills a slice already sized to the sample count
	switch hdu.Header().Bitpix() {
	case -64:
		samples = make([]float64, w*h*d)
		if err = hdu.Read(&samples); err != nil {
			return nil, err
		}
	case -32:
		buf := make([]float32, w*h*d)
		if err = hdu.Read(&buf); err != nil {
			return nil, err
		}
		samples = make([]float64, len(buf))
		for i, v := range buf {
			samples[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("pattern cubes must be floating point, got BITPIX %d", hdu.Header().Bitpix())
	}
	if len(samples) < w*h*d {
		return nil, fmt.Errorf("cube holds %d samples, expected %d", len(samples), w*h*d)
	}
	out := make(Images, d)
	plane := w * h
	for k := 0; k < d; k++ {
		im := image.NewGray(image.Rect(0, 0, w, h))
		for i := 0; i < plane; i++ {
			im.Pix[i] = modulation(samples[k*plane+i])
		}
		out[k] = im
	}
	return out, nil
}

// modulation scales v in [0, 1] to a gray level, truncating
func modulation(v float64) uint8 {
	v *= 255
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// PhaseShift generates steps sinusoidal fringe patterns of the given period
// in pixels, each shifted by 2pi/steps.  Fringes vary along x unless
// vertical is set.
func PhaseShift(width, height, steps int, period float64, vertical bool) Images {
	out := make(Images, steps)
	for k := 0; k < steps; k++ {
		shift := 2 * math.Pi * float64(k) / float64(steps)
		im := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				pos := float64(x)
				if vertical {
					pos = float64(y)
				}
				im.Pix[y*im.Stride+x] = modulation(0.5 + 0.5*math.Cos(2*math.Pi*pos/period-shift))
			}
		}
		out[k] = im
	}
	return out
}

// Gradient generates the four gradient illumination patterns: full on,
// a ramp along x, a ramp along y, and their complement along x
func Gradient(width, height int) Images {
	ramp := func(f func(x, y int) float64) image.Image {
		im := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				im.Pix[y*im.Stride+x] = modulation(f(x, y))
			}
		}
		return im
	}
	fx := func(x int) float64 {
		if width < 2 {
			return 1
		}
		return float64(x) / float64(width-1)
	}
	fy := func(y int) float64 {
		if height < 2 {
			return 1
		}
		return float64(y) / float64(height-1)
	}
	return Images{
		ramp(func(x, y int) float64 { return 1 }),
		ramp(func(x, y int) float64 { return fx(x) }),
		ramp(func(x, y int) float64 { return fy(y) }),
		ramp(func(x, y int) float64 { return 1 - fx(x) }),
	}
}
