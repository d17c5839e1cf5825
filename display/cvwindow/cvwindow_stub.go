//go:build !gocv

package cvwindow

import (
	"errors"

	"github.com/slscan/rig/display"
)

// ErrNoOpenCV is generated when built without the gocv tag
var ErrNoOpenCV = errors.New("cvwindow: built without OpenCV support, rebuild with -tags gocv")

// Open fails without OpenCV
func Open(title string, m display.Monitor, fullscreen bool) (display.Surface, error) {
	return nil, ErrNoOpenCV
}
