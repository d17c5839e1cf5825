/*Package flir adapts FLIR machine vision cameras to camera.Adapter.

Cameras are selected by their index in the SDK's camera list.  Monochrome and
16 bit output are chosen once at construction and pinned on every handle,
including the ones opened while recovering from a fault.

The SDK wrapper these cameras were first driven with reports exposure in whole
milliseconds, so GetExposure truncates to the millisecond.  Writes are exact.
*/
package flir

import (
	"context"
	"fmt"
	"image"
	"log"

	"github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
	"github.com/slscan/rig/genicam"
)

// DefaultFPS is the frame rate set on every new handle
const DefaultFPS = 5

// Camera is a FLIR camera
type Camera struct {
	*genicam.Camera

	monochrome bool
	bits16     bool
}

// New opens a camera with open, which for real hardware is
// spinnaker.Opener(index)
func New(open genicam.Opener, l camera.Layout, monochrome, bits16 bool) (*Camera, error) {
	c := &Camera{monochrome: monochrome, bits16: bits16}
	sess, err := genicam.NewSession("flir", genicam.WithSetup(open, c.setup))
	if err != nil {
		return nil, err
	}
	c.Camera = &genicam.Camera{
		Session:          sess,
		Layout:           l,
		Unit:             camera.Milliseconds,
		TruncateExposure: true,
	}
	return c, nil
}

func (c *Camera) pixelFormat() string {
	if !c.monochrome {
		return genicam.BayerRG
	}
	if c.bits16 {
		return genicam.Mono16
	}
	return genicam.Mono8
}

// setup pins acquisition mode and pixel format, opens the full sensor, and
// takes exposure and gain off automatic control
func (c *Camera) setup(n genicam.NodeMap) error {
	if err := n.SetEnum(genicam.AcquisitionMode, genicam.SingleFrame); err != nil {
		return err
	}
	if err := n.SetEnum(genicam.PixelFormat, c.pixelFormat()); err != nil {
		return err
	}
	w, err := n.GetInt(genicam.WidthMax)
	if err != nil {
		return err
	}
	h, err := n.GetInt(genicam.HeightMax)
	if err != nil {
		return err
	}
	if err = n.SetInt(genicam.Width, w); err != nil {
		return err
	}
	if err = n.SetInt(genicam.Height, h); err != nil {
		return err
	}
	if err = n.SetEnum(genicam.ExposureAuto, genicam.Off); err != nil {
		return err
	}
	if err = n.SetEnum(genicam.GainAuto, genicam.Off); err != nil {
		return err
	}
	if err = n.SetBool(genicam.AcquisitionFrameRateEnable, true); err != nil {
		return err
	}
	return n.SetFloat(genicam.AcquisitionFrameRate, DefaultFPS)
}

// Monochrome reports if the camera was opened for monochrome output
func (c *Camera) Monochrome() bool {
	return c.monochrome
}

// Bits16 reports if the camera was opened for 16 bit output
func (c *Camera) Bits16() bool {
	return c.bits16
}

// SetAutoGain returns exposure and gain to continuous automatic control and
// enables gamma
func (c *Camera) SetAutoGain() error {
	return c.Exclusive(c.setAutoGain)
}

func (c *Camera) setAutoGain() error {
	if err := c.SetEnum(genicam.ExposureAuto, genicam.Continuous); err != nil {
		return err
	}
	if err := c.SetEnum(genicam.GainAuto, genicam.Continuous); err != nil {
		return err
	}
	return c.SetBool(genicam.GammaEnable, true)
}

// Status is not available on these cameras
func (c *Camera) Status() error {
	return fmt.Errorf("flir: status export: %w", camera.ErrUnsupported)
}

// Release returns the camera to automatic exposure and gain, its power on
// state, then closes it
func (c *Camera) Release() error {
	return c.Exclusive(func() error {
		if c.IsOpen() {
			if err := c.setAutoGain(); err != nil {
				log.Printf("flir: could not restore automatic exposure and gain: %v\n", err)
			}
		}
		return c.Session.Release()
	})
}

// LiveView streams with continuous acquisition until a key is pressed.  The
// camera is reopened afterward, as ending a stream leaves the single frame
// path unreliable on these cameras.
func (c *Camera) LiveView(ctx context.Context, s display.Surface) error {
	dev := c.Device()
	if dev == nil {
		s.Close()
		return camera.ErrClosed
	}
	st, ok := dev.(genicam.Streamer)
	if !ok {
		return c.Camera.LiveView(ctx, s)
	}
	return c.Exclusive(func() error { return c.stream(ctx, s, st) })
}

func (c *Camera) stream(ctx context.Context, s display.Surface, st genicam.Streamer) error {
	if err := c.SetEnum(genicam.AcquisitionMode, genicam.Continuous); err != nil {
		s.Close()
		return err
	}
	if err := st.BeginAcquisition(); err != nil {
		s.Close()
		return c.Recover("live view", err)
	}
	err := camera.LiveView(ctx, s, nil, func() (image.Image, error) {
		frame, err := st.Next(camera.DefaultTimeout)
		if err != nil {
			return nil, &camera.FaultError{Op: "live view", Err: err}
		}
		return frame, nil
	})
	if err2 := st.EndAcquisition(); err2 != nil {
		log.Printf("flir: error ending acquisition: %v\n", err2)
	}
	if err2 := c.Session.Reopen(); err2 != nil {
		log.Println(err2)
		if err == nil {
			err = err2
		}
	}
	return err
}
