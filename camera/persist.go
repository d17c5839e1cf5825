package camera

import (
	"bufio"
	"encoding/binary"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/astrogo/fitsio"
)

// Layout is the on-disk tree captures are written into.  Other tooling
// depends on these names, so the defaults match what the calibration scripts
// expect.  The directories must already exist; Layout never creates them.
type Layout struct {
	// Root is prepended to every directory.  Empty means the working directory
	Root string `yaml:"Root"`

	// CapturedImages holds PNGs of normal captures
	CapturedImages string `yaml:"CapturedImages"`

	// CapturedRaw holds raw snapshots of normal captures
	CapturedRaw string `yaml:"CapturedRaw"`

	// CalibrationImages holds PNGs (and vendor raw dumps) of calibration captures
	CalibrationImages string `yaml:"CalibrationImages"`

	// CalibrationRaw holds raw snapshots of calibration captures
	CalibrationRaw string `yaml:"CalibrationRaw"`
}

// DefaultLayout is the directory naming used by the rig's scripts
func DefaultLayout() Layout {
	return Layout{
		CapturedImages:    "CapturedImages",
		CapturedRaw:       "CapturedNumpyData",
		CalibrationImages: "CalibrationImages",
		CalibrationRaw:    "CalibrationNumpyData",
	}
}

const (
	// ImageExt is the extension of compressed image artifacts
	ImageExt = ".PNG"

	// RawExt is the extension of raw numeric snapshots
	RawExt = ".fits"

	// DumpExt is the extension of vendor raw pixel dumps
	DumpExt = ".raw"
)

// SaveOptions selects which artifacts Save writes
type SaveOptions struct {
	// Image writes a PNG
	Image bool

	// Raw writes a FITS snapshot
	Raw bool

	// Dump writes the bare pixel buffer next to the PNG, little endian
	Dump bool

	// Calibration routes to the calibration directories
	Calibration bool

	// Subfolder is a calibration subfolder, ignored if Calibration is false
	Subfolder string

	// Metadata is added to the FITS header
	Metadata []fitsio.Card
}

// Paths returns the image, raw snapshot, and dump paths for name
func (l Layout) Paths(name string, calibration bool, subfolder string) (img, raw, dump string) {
	imgDir, rawDir := l.CapturedImages, l.CapturedRaw
	if calibration {
		imgDir, rawDir = l.CalibrationImages, l.CalibrationRaw
		if subfolder != "" {
			imgDir = filepath.Join(imgDir, subfolder)
			rawDir = filepath.Join(rawDir, subfolder)
		}
	}
	imgDir = filepath.Join(l.Root, imgDir)
	rawDir = filepath.Join(l.Root, rawDir)
	img = filepath.Join(imgDir, name+ImageExt)
	raw = filepath.Join(rawDir, name+RawExt)
	dump = filepath.Join(imgDir, name+DumpExt)
	return
}

// Save writes the artifacts of frame selected by opts
func (l Layout) Save(frame image.Image, name string, opts SaveOptions) error {
	imgPath, rawPath, dumpPath := l.Paths(name, opts.Calibration, opts.Subfolder)
	if opts.Image {
		var view image.Image = frame
		if f, ok := frame.(*FloatImage); ok {
			view = f.Normalized()
		}
		if err := writeFile(imgPath, func(w *bufio.Writer) error { return png.Encode(w, view) }); err != nil {
			return err
		}
	}
	if opts.Raw {
		if err := writeFile(rawPath, func(w *bufio.Writer) error { return WriteFITS(w, opts.Metadata, frame) }); err != nil {
			return err
		}
	}
	if opts.Dump {
		if err := writeFile(dumpPath, func(w *bufio.Writer) error { return dumpPixels(w, frame) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, fill func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err = fill(w); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}
	return f.Close()
}

// dumpPixels writes the samples of frame without any header, row major,
// 16-bit samples little endian as the vendor raw format does
func dumpPixels(w *bufio.Writer, frame image.Image) error {
	b := frame.Bounds()
	switch im := frame.(type) {
	case *image.Gray:
		for y := 0; y < b.Dy(); y++ {
			off := y * im.Stride
			if _, err := w.Write(im.Pix[off : off+b.Dx()]); err != nil {
				return err
			}
		}
		return nil
	case *image.Gray16:
		row := make([]byte, 2*b.Dx())
		for y := 0; y < b.Dy(); y++ {
			off := y * im.Stride
			for x := 0; x < b.Dx(); x++ {
				binary.LittleEndian.PutUint16(row[2*x:], binary.BigEndian.Uint16(im.Pix[off+2*x:]))
			}
			if _, err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	}
	return binary.Write(w, binary.LittleEndian, toRGB(frame))
}

func toRGB(img image.Image) []byte {
	b := img.Bounds()
	out := make([]byte, 0, 3*b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out = append(out, byte(r>>8), byte(g>>8), byte(bl>>8))
		}
	}
	return out
}
