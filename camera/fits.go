package camera

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/astrogo/fitsio"
)

// WriteFITS streams a lossless FITS snapshot of img to w.
//
// *image.Gray is written as BITPIX 8, *image.Gray16 as BITPIX 16 with the
// standard BZERO=32768 offset, *FloatImage as BITPIX -64, and anything else as
// an 8-bit (W, H, 3) RGB cube.
func WriteFITS(w io.Writer, metadata []fitsio.Card, img image.Image) error {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	var (
		bitpix int
		dims   = []int{width, height}
		data   interface{}
	)
	switch im := img.(type) {
	case *image.Gray:
		bitpix = 8
		buf := make([]byte, 0, width*height)
		for y := 0; y < height; y++ {
			off := y * im.Stride
			buf = append(buf, im.Pix[off:off+width]...)
		}
		data = buf
	case *image.Gray16:
		bitpix = 16
		metadata = append(metadata, fitsio.Card{Name: "BZERO", Value: 32768}, fitsio.Card{Name: "BSCALE", Value: 1.0})
		// underflow on uint16 produces the wrapping FITS expects
		buf := make([]int16, 0, width*height)
		for y := 0; y < height; y++ {
			off := y * im.Stride
			for x := 0; x < width; x++ {
				u := binary.BigEndian.Uint16(im.Pix[off+2*x:])
				buf = append(buf, int16(u-32768))
			}
		}
		data = buf
	case *FloatImage:
		bitpix = -64
		buf := make([]float64, 0, width*height)
		for y := 0; y < height; y++ {
			off := y * im.Stride
			buf = append(buf, im.Pix[off:off+width]...)
		}
		data = buf
	default:
		bitpix = 8
		dims = append(dims, 3)
		plane := width * height
		buf := make([]byte, 3*plane)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.RGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA)
				idx := y*width + x
				buf[idx] = c.R
				buf[plane+idx] = c.G
				buf[2*plane+idx] = c.B
			}
		}
		data = buf
	}

	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(bitpix, dims)
	defer im.Close()
	err = im.Header().Append(metadata...)
	if err != nil {
		return err
	}
	err = im.Write(data)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// ReadFITS decodes the primary HDU of a file written by WriteFITS back into
// the same image type
func ReadFITS(r io.Reader) (image.Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	hdu, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU is not an image")
	}
	hdr := hdu.Header()
	axes := hdr.Axes()
	if len(axes) < 2 {
		return nil, fmt.Errorf("expected at least 2 axes, got %d", len(axes))
	}
	width, height := axes[0], axes[1]
	n := 1
	for _, a := range axes {
		n *= a
	}
	rect := image.Rect(0, 0, width, height)
	// Read fills a slice already sized to the pixel count
	switch hdr.Bitpix() {
	case 8:
		buf := make([]byte, n)
		if err = hdu.Read(&buf); err != nil {
			return nil, err
		}
		if len(axes) == 3 && axes[2] == 3 {
			out := image.NewRGBA(rect)
			plane := width * height
			for idx := 0; idx < plane; idx++ {
				out.Pix[4*idx] = buf[idx]
				out.Pix[4*idx+1] = buf[plane+idx]
				out.Pix[4*idx+2] = buf[2*plane+idx]
				out.Pix[4*idx+3] = 0xff
			}
			return out, nil
		}
		out := image.NewGray(rect)
		copy(out.Pix, buf)
		return out, nil
	case 16:
		buf := make([]int16, n)
		if err = hdu.Read(&buf); err != nil {
			return nil, err
		}
		out := image.NewGray16(rect)
		for idx, v := range buf[:width*height] {
			binary.BigEndian.PutUint16(out.Pix[2*idx:], uint16(v)+32768)
		}
		return out, nil
	case -64:
		buf := make([]float64, n)
		if err = hdu.Read(&buf); err != nil {
			return nil, err
		}
		out := NewFloatImage(rect)
		copy(out.Pix, buf[:width*height])
		return out, nil
	}
	return nil, fmt.Errorf("unsupported BITPIX %d", hdr.Bitpix())
}
