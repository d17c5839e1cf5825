/*Package genicam models the GenICam node map both rig camera SDKs expose,
and the device session the camera adapters are built on.

Vendor bindings (basler/pylon, flir/spinnaker) implement Device; Sim implements
it in memory for mock runs and tests.
*/
package genicam

import (
	"image"
	"time"
)

// Standard feature names, from the GenICam SFNC
const (
	ExposureTime               = "ExposureTime"
	ExposureAuto               = "ExposureAuto"
	Gain                       = "Gain"
	GainAuto                   = "GainAuto"
	AcquisitionFrameRate       = "AcquisitionFrameRate"
	AcquisitionFrameRateEnable = "AcquisitionFrameRateEnable"
	AcquisitionMode            = "AcquisitionMode"
	Width                      = "Width"
	Height                     = "Height"
	WidthMax                   = "WidthMax"
	HeightMax                  = "HeightMax"
	PixelFormat                = "PixelFormat"
	GammaEnable                = "GammaEnable"
	DeviceModelName            = "DeviceModelName"
	DeviceSerialNumber         = "DeviceSerialNumber"
)

// Enumeration entries used by the adapters
const (
	Off         = "Off"
	Once        = "Once"
	Continuous  = "Continuous"
	SingleFrame = "SingleFrame"

	Mono8   = "Mono8"
	Mono16  = "Mono16"
	RGB8    = "RGB8"
	BayerRG = "BayerRG8"
)

// NodeMap is typed access to device features by name
type NodeMap interface {
	GetFloat(name string) (float64, error)
	SetFloat(name string, v float64) error
	GetInt(name string) (int64, error)
	SetInt(name string, v int64) error
	GetEnum(name string) (string, error)
	SetEnum(name string, v string) error
	GetBool(name string) (bool, error)
	SetBool(name string, v bool) error
	GetString(name string) (string, error)
	Execute(name string) error
}

// Device is one open camera handle
type Device interface {
	NodeMap

	// Grab arms a single frame acquisition, waits up to timeout for the
	// frame, and disarms.  The returned image is owned by the caller.
	Grab(timeout time.Duration) (image.Image, error)

	// Close releases the handle.  The Device is unusable afterward.
	Close() error
}

// Streamer is a Device that supports continuous acquisition
type Streamer interface {
	BeginAcquisition() error
	Next(timeout time.Duration) (image.Image, error)
	EndAcquisition() error
}

// FloatRanger is a Device that publishes the bounds of its float features
type FloatRanger interface {
	FloatRange(name string) (min, max float64, err error)
}

// FeatureSaver is a Device that can persist its node map to a file
type FeatureSaver interface {
	SaveFeatures(path string) error
}

// Opener discovers and opens a device, returning a new handle every call
type Opener func() (Device, error)
