/*Package camera describes a standard set of interfaces for control of the rig's cameras

Configurer contains the basics every adapter exposes, Capturer covers frame
acquisition and exposure bracketing, and Lifecycle covers ownership of the
device handle.  Adapter is the union that the basler and flir packages satisfy.

Exposure is always a time.Duration at this layer.  The vendor SDKs disagree on
units (microseconds as float on one family, milliseconds as int on the other);
each adapter converts at its boundary and reports its native unit through
ExposureUnit for callers that need to reason about SDK precision.

*/
package camera

import (
	"context"
	"image"
	"time"

	"github.com/slscan/rig/display"
)

// DefaultTimeout is how long a capture waits for a frame when
// CaptureOptions.Timeout is zero
const DefaultTimeout = 5 * time.Second

// Resolution is the (width, height) of the frames produced by a camera
type Resolution struct {
	// Width is the width in pixels
	Width int `json:"width"`

	// Height is the height in pixels
	Height int `json:"height"`
}

// Unit is the unit an SDK natively expresses exposure time in
type Unit int

const (
	// Seconds is a floating point number of seconds
	Seconds Unit = iota

	// Milliseconds is an integer number of milliseconds
	Milliseconds

	// Microseconds is a floating point number of microseconds
	Microseconds
)

func (u Unit) String() string {
	switch u {
	case Seconds:
		return "s"
	case Milliseconds:
		return "ms"
	case Microseconds:
		return "us"
	}
	return "unknown"
}

// Scale is the duration of one native unit
func (u Unit) Scale() time.Duration {
	switch u {
	case Milliseconds:
		return time.Millisecond
	case Microseconds:
		return time.Microsecond
	}
	return time.Second
}

// CaptureOptions controls a single capture
type CaptureOptions struct {
	// SaveImage writes a PNG of the frame
	SaveImage bool

	// SaveRaw writes a lossless numeric snapshot (FITS) of the frame
	SaveRaw bool

	// Calibration routes the files to the calibration directories
	Calibration bool

	// Subfolder is an optional calibration subfolder, e.g. "Radiometric".
	// It is ignored when Calibration is false.
	Subfolder string

	// Timeout bounds the wait for the frame.  Zero means DefaultTimeout
	Timeout time.Duration
}

// WaitTime returns the timeout to use for the capture
func (o CaptureOptions) WaitTime() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// Configurer is passthrough access to the device configuration surface.
// No validation is done beyond what the device enforces.
type Configurer interface {
	// GetExposure gets the exposure time
	GetExposure() (time.Duration, error)

	// SetExposure disables auto exposure and sets the exposure time
	SetExposure(time.Duration) error

	// GetAutoExposure queries if auto exposure is active
	GetAutoExposure() (bool, error)

	// SetAutoExposure turns on continuous auto exposure
	SetAutoExposure() error

	// GetGain gets the gain in dB
	GetGain() (float64, error)

	// SetGain disables auto gain and sets the gain in dB
	SetGain(float64) error

	// SetAutoGain activates the device's automatic gain
	SetAutoGain() error

	// GetFPS gets the acquisition frame rate
	GetFPS() (float64, error)

	// SetFPS sets the acquisition frame rate
	SetFPS(float64) error

	// GetResolution gets the frame size
	GetResolution() (Resolution, error)

	// SetResolution sets the frame size
	SetResolution(Resolution) error

	// ExposureUnit is the native exposure unit of the SDK behind the adapter
	ExposureUnit() Unit
}

// Capturer acquires frames
type Capturer interface {
	// Capture acquires one frame, persisting it per opts.  On a device fault
	// the adapter is closed and reopened and the fault is returned; the caller
	// decides whether to retry.
	Capture(name string, opts CaptureOptions) (image.Image, error)

	// CaptureHDR acquires one frame per exposure in b, in order, and returns
	// the composition of them produced by the attached Composer
	CaptureHDR(b Bracket, name string, opts CaptureOptions) (image.Image, error)

	// Bracket returns the configured exposure bracket, nil if none
	Bracket() Bracket

	// SetBracket configures the exposure bracket used by callers which
	// choose between Capture and CaptureHDR
	SetBracket(Bracket)

	// SetComposer attaches the HDR composition collaborator
	SetComposer(Composer)
}

// Lifecycle brackets ownership of the device handle
type Lifecycle interface {
	// Release closes the device
	Release() error

	// Reopen closes the device if needed and acquires a brand new handle
	Reopen() error

	// IsOpen reports if the device session is open
	IsOpen() bool
}

// StatusReporter can dump its device configuration for diagnostics.
// Adapters which cannot return an error matching ErrUnsupported.
type StatusReporter interface {
	Status() error
}

// LiveViewer can stream frames to a window until a key is pressed
type LiveViewer interface {
	LiveView(context.Context, display.Surface) error
}

// Adapter is the full contract of a rig camera
type Adapter interface {
	Configurer
	Capturer
	Lifecycle
	StatusReporter
	LiveViewer
}
