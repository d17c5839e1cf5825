package genicam

import (
	"encoding/binary"
	"fmt"
	"image"
)

// FrameFromBuffer copies a packed SDK buffer into an image.  The layout is
// decided by pixfmt: Mono8 gives *image.Gray, Mono16 (little endian on the
// wire) gives *image.Gray16, RGB8 and BayerRG8 give *image.RGBA.
func FrameFromBuffer(pixfmt string, width, height int, buf []byte) (image.Image, error) {
	n := width * height
	switch pixfmt {
	case Mono8:
		if len(buf) < n {
			return nil, fmt.Errorf("buffer of %d bytes too short for %dx%d %s", len(buf), width, height, pixfmt)
		}
		im := image.NewGray(image.Rect(0, 0, width, height))
		copy(im.Pix, buf[:n])
		return im, nil
	case Mono16:
		if len(buf) < 2*n {
			return nil, fmt.Errorf("buffer of %d bytes too short for %dx%d %s", len(buf), width, height, pixfmt)
		}
		im := image.NewGray16(image.Rect(0, 0, width, height))
		for i := 0; i < n; i++ {
			binary.BigEndian.PutUint16(im.Pix[2*i:], binary.LittleEndian.Uint16(buf[2*i:]))
		}
		return im, nil
	case RGB8:
		if len(buf) < 3*n {
			return nil, fmt.Errorf("buffer of %d bytes too short for %dx%d %s", len(buf), width, height, pixfmt)
		}
		im := image.NewRGBA(image.Rect(0, 0, width, height))
		for i := 0; i < n; i++ {
			copy(im.Pix[4*i:4*i+3], buf[3*i:3*i+3])
			im.Pix[4*i+3] = 255
		}
		return im, nil
	case BayerRG:
		if len(buf) < n {
			return nil, fmt.Errorf("buffer of %d bytes too short for %dx%d %s", len(buf), width, height, pixfmt)
		}
		return demosaicRG(width, height, buf), nil
	}
	return nil, fmt.Errorf("unsupported pixel format %q", pixfmt)
}

// demosaicRG is a nearest neighbor debayer of an RGGB mosaic; each 2x2 cell
// gets one color
func demosaicRG(width, height int, buf []byte) *image.RGBA {
	im := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		y0 := y &^ 1
		y1 := y0 + 1
		if y1 >= height {
			y1 = y0
		}
		for x := 0; x < width; x++ {
			x0 := x &^ 1
			x1 := x0 + 1
			if x1 >= width {
				x1 = x0
			}
			r := buf[y0*width+x0]
			g := byte((int(buf[y0*width+x1]) + int(buf[y1*width+x0])) / 2)
			b := buf[y1*width+x1]
			off := y*im.Stride + 4*x
			im.Pix[off], im.Pix[off+1], im.Pix[off+2], im.Pix[off+3] = r, g, b, 255
		}
	}
	return im
}
