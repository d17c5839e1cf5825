// Package display describes the window surfaces patterns and live views are drawn on.
package display

import (
	"fmt"
	"image"
	"log"
	"time"
)

// Monitor describes where a physical display sits on the virtual desktop
type Monitor struct {
	// Name is a human label, e.g. "projector"
	Name string `yaml:"Name"`

	// X is the left edge in desktop pixels
	X int `yaml:"X"`

	// Y is the top edge in desktop pixels
	Y int `yaml:"Y"`

	// Width is the horizontal resolution
	Width int `yaml:"Width"`

	// Height is the vertical resolution
	Height int `yaml:"Height"`
}

// Select returns monitors[idx] or an error if it does not exist
func Select(monitors []Monitor, idx int) (Monitor, error) {
	if idx < 0 || idx >= len(monitors) {
		return Monitor{}, fmt.Errorf("monitor index %d out of range, %d monitors configured", idx, len(monitors))
	}
	return monitors[idx], nil
}

// Surface is a window this process exclusively owns
type Surface interface {
	// Show draws img, replacing what was there
	Show(img image.Image) error

	// WaitKey pumps window events for up to d and returns the key pressed,
	// or -1 if none was.  d <= 0 waits forever.
	WaitKey(d time.Duration) int

	// Close destroys the window.  It is safe to call more than once.
	Close() error
}

// Opener creates a surface titled title on monitor m
type Opener func(title string, m Monitor, fullscreen bool) (Surface, error)

// Headless is a Surface with no window, used when running against simulated
// hardware.  It never observes a key unless Keys is populated, in which case
// each WaitKey pops one entry.
type Headless struct {
	// Title is used in log lines
	Title string

	// Keys are the keys WaitKey will report, in order
	Keys []int

	// Shown counts calls to Show
	Shown int

	// Closed is set by Close
	Closed bool
}

// OpenHeadless satisfies Opener
func OpenHeadless(title string, m Monitor, fullscreen bool) (Surface, error) {
	log.Printf("headless surface %q on monitor %q (%dx%d)\n", title, m.Name, m.Width, m.Height)
	return &Headless{Title: title}, nil
}

// Show counts the frame
func (h *Headless) Show(img image.Image) error {
	if h.Closed {
		return fmt.Errorf("surface %q is closed", h.Title)
	}
	h.Shown++
	return nil
}

// WaitKey pops the next scripted key, or sleeps for d and returns -1.
// An infinite wait with no scripted keys returns immediately with key 0
// so unattended runs do not deadlock.
func (h *Headless) WaitKey(d time.Duration) int {
	if len(h.Keys) > 0 {
		k := h.Keys[0]
		h.Keys = h.Keys[1:]
		return k
	}
	if d <= 0 {
		return 0
	}
	time.Sleep(d)
	return -1
}

// Close marks the surface closed
func (h *Headless) Close() error {
	h.Closed = true
	return nil
}
