/*Package basler adapts Basler area scan cameras to camera.Adapter.

Exposure is microseconds as a float on these cameras.  Grayscale and bit depth
may be changed at runtime with SetPixelFormat, and the choice is restored
on every reopen.  Calibration captures also
write the bare pixel buffer next to the PNG, as pylon's raw image format does.
*/
package basler

import (
	"path/filepath"

	"github.com/slscan/rig/camera"
	"github.com/slscan/rig/genicam"
)

// StatusFile is where Status writes the node map, relative to Layout.Root
const StatusFile = "Basler_Specs.txt"

// Camera is a Basler camera
type Camera struct {
	*genicam.Camera

	format string
}

// New opens the first camera found by open.  The caller should use
// pylon.OpenFirst for real hardware.
func New(open genicam.Opener, l camera.Layout) (*Camera, error) {
	c := &Camera{}
	sess, err := genicam.NewSession("basler", genicam.WithSetup(open, c.setup))
	if err != nil {
		return nil, err
	}
	c.Camera = &genicam.Camera{
		Session:         sess,
		Layout:          l,
		Unit:            camera.Microseconds,
		DumpCalibration: true,
	}
	return c, nil
}

// setup runs against every new handle
func (c *Camera) setup(n genicam.NodeMap) error {
	if err := n.SetEnum(genicam.AcquisitionMode, genicam.SingleFrame); err != nil {
		return err
	}
	if c.format == "" {
		return nil
	}
	return n.SetEnum(genicam.PixelFormat, c.format)
}

// SetAutoGain runs the device's one shot gain adjustment
func (c *Camera) SetAutoGain() error {
	return c.Exclusive(func() error { return c.SetEnum(genicam.GainAuto, genicam.Once) })
}

// SetPixelFormat selects monochrome or color, 8 or 16 bit
func (c *Camera) SetPixelFormat(grayscale, bits16 bool) error {
	format := genicam.RGB8
	switch {
	case grayscale && bits16:
		format = genicam.Mono16
	case grayscale:
		format = genicam.Mono8
	case bits16:
		return camera.Configurationf("16 bit color is not supported")
	}
	return c.Exclusive(func() error {
		if err := c.SetEnum(genicam.PixelFormat, format); err != nil {
			return err
		}
		c.format = format
		return nil
	})
}

// Status writes the node map to StatusFile
func (c *Camera) Status() error {
	return c.SaveStatus(filepath.Join(c.Layout.Root, StatusFile))
}
