//go:build gocv

// Package cvwindow implements display.Surface with an OpenCV highgui window.
package cvwindow

import (
	"encoding/binary"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"github.com/slscan/rig/display"
)

// Window is an OpenCV window placed on one monitor
type Window struct {
	win    *gocv.Window
	closed bool
}

// Open satisfies display.Opener.  The window is moved onto m, sized to it,
// and optionally made fullscreen there.
func Open(title string, m display.Monitor, fullscreen bool) (display.Surface, error) {
	win := gocv.NewWindow(title)
	if win == nil {
		return nil, fmt.Errorf("could not create window %q", title)
	}
	win.MoveWindow(m.X, m.Y)
	if m.Width > 0 && m.Height > 0 {
		win.ResizeWindow(m.Width, m.Height)
	}
	if fullscreen {
		win.SetWindowProperty(gocv.WindowPropertyFullscreen, gocv.WindowFullscreen)
	}
	return &Window{win: win}, nil
}

// Show draws img in the window.  16-bit frames are scaled to 8 bits and
// float frames are min-max stretched first.
func (w *Window) Show(img image.Image) error {
	if w.closed {
		return fmt.Errorf("window is closed")
	}
	mat, err := toMat(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	w.win.IMShow(mat)
	return nil
}

// WaitKey pumps events for d and returns the key code, or -1
func (w *Window) WaitKey(d time.Duration) int {
	if w.closed {
		return -1
	}
	ms := int(d / time.Millisecond)
	if d > 0 && ms == 0 {
		ms = 1
	}
	return w.win.WaitKey(ms)
}

// Close destroys the window
func (w *Window) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.win.Close()
}

type normalizer interface {
	Normalized() *image.Gray
}

func toMat(img image.Image) (gocv.Mat, error) {
	switch im := img.(type) {
	case *image.Gray:
		return gocv.ImageGrayToMatGray(im)
	case *image.Gray16:
		b := im.Bounds()
		gray := image.NewGray(b)
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				v := binary.BigEndian.Uint16(im.Pix[y*im.Stride+2*x:])
				gray.Pix[y*gray.Stride+x] = byte(v / 256) // scale 16 to 8 bits
			}
		}
		return gocv.ImageGrayToMatGray(gray)
	case normalizer:
		return gocv.ImageGrayToMatGray(im.Normalized())
	}
	return gocv.ImageToMatRGB(img)
}
