package genicam

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"

	"github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
)

// HeaderVersion tags the FITS metadata layout written with every raw snapshot
const HeaderVersion = "SLSCAN-1"

// Camera is the part of a camera.Adapter common to GenICam devices.  The
// vendor packages embed it and override where their SDKs differ.
type Camera struct {
	*Session

	// Layout is where captures are persisted
	Layout camera.Layout

	// Unit is the exposure unit the vendor SDK speaks
	Unit camera.Unit

	// TruncateExposure drops the fractional part of the native unit when
	// reading the exposure
	TruncateExposure bool

	// DumpCalibration writes the bare pixel buffer next to calibration PNGs
	DumpCalibration bool

	bracket  camera.Bracket
	composer camera.Composer

	// busy spans whole transactions: a capture and its save, every step of
	// a bracket, a reconfiguration
	busy sync.Mutex
}

// Exclusive runs fn with no other capture or reconfiguration in flight.
// fn must not call back into the exclusive methods of c.
func (c *Camera) Exclusive(fn func() error) error {
	c.busy.Lock()
	defer c.busy.Unlock()
	return fn()
}

// Reopen replaces the handle once any transaction in flight has finished
func (c *Camera) Reopen() error {
	return c.Exclusive(c.Session.Reopen)
}

// Release closes the handle once any transaction in flight has finished
func (c *Camera) Release() error {
	return c.Exclusive(c.Session.Release)
}

// WithSetup wraps open so that setup runs against every new handle before it
// is handed out.  It is how adapters pin their pixel format and acquisition
// mode across a reopen.
func WithSetup(open Opener, setup func(NodeMap) error) Opener {
	return func() (Device, error) {
		dev, err := open()
		if err != nil {
			return nil, err
		}
		if err = setup(dev); err != nil {
			dev.Close()
			return nil, err
		}
		return dev, nil
	}
}

// ExposureUnit returns the SDK's native exposure unit
func (c *Camera) ExposureUnit() camera.Unit {
	return c.Unit
}

// GetExposure reads ExposureTime, which is always microseconds on the node
func (c *Camera) GetExposure() (time.Duration, error) {
	us, err := c.GetFloat(ExposureTime)
	if err != nil {
		return 0, err
	}
	d := time.Duration(math.Round(us * float64(time.Microsecond)))
	if c.TruncateExposure {
		d = d.Truncate(c.Unit.Scale())
	}
	return d, nil
}

// SetExposure turns off auto exposure then sets the exposure time
func (c *Camera) SetExposure(d time.Duration) error {
	return c.Exclusive(func() error { return c.setExposure(d) })
}

func (c *Camera) setExposure(d time.Duration) error {
	if err := c.SetEnum(ExposureAuto, Off); err != nil {
		return err
	}
	return c.SetFloat(ExposureTime, float64(d)/float64(time.Microsecond))
}

// ExposureLimits reads the bounds of ExposureTime
func (c *Camera) ExposureLimits() (lo, hi time.Duration, err error) {
	err = c.Do(func(dev Device) error {
		r, ok := dev.(FloatRanger)
		if !ok {
			return fmt.Errorf("%s: exposure limits: %w", c.Name, camera.ErrUnsupported)
		}
		min, max, err := r.FloatRange(ExposureTime)
		if err != nil {
			return err
		}
		lo = time.Duration(min * float64(time.Microsecond))
		hi = time.Duration(max * float64(time.Microsecond))
		return nil
	})
	return lo, hi, err
}

// GetAutoExposure is true unless ExposureAuto is Off
func (c *Camera) GetAutoExposure() (bool, error) {
	mode, err := c.GetEnum(ExposureAuto)
	if err != nil {
		return false, err
	}
	return mode != Off, nil
}

// SetAutoExposure sets ExposureAuto to Continuous
func (c *Camera) SetAutoExposure() error {
	return c.Exclusive(func() error { return c.SetEnum(ExposureAuto, Continuous) })
}

// GetGain reads the gain in dB
func (c *Camera) GetGain() (float64, error) {
	return c.GetFloat(Gain)
}

// SetGain turns off auto gain then sets the gain in dB
func (c *Camera) SetGain(g float64) error {
	return c.Exclusive(func() error {
		if err := c.SetEnum(GainAuto, Off); err != nil {
			return err
		}
		return c.SetFloat(Gain, g)
	})
}

// SetAutoGain sets GainAuto to Continuous
func (c *Camera) SetAutoGain() error {
	return c.Exclusive(func() error { return c.SetEnum(GainAuto, Continuous) })
}

// GetFPS reads the acquisition frame rate
func (c *Camera) GetFPS() (float64, error) {
	return c.GetFloat(AcquisitionFrameRate)
}

// SetFPS enables frame rate control and sets the acquisition frame rate
func (c *Camera) SetFPS(fps float64) error {
	return c.Exclusive(func() error {
		if err := c.SetBool(AcquisitionFrameRateEnable, true); err != nil {
			return err
		}
		return c.SetFloat(AcquisitionFrameRate, fps)
	})
}

// GetResolution reads Width and Height
func (c *Camera) GetResolution() (camera.Resolution, error) {
	w, err := c.GetInt(Width)
	if err != nil {
		return camera.Resolution{}, err
	}
	h, err := c.GetInt(Height)
	if err != nil {
		return camera.Resolution{}, err
	}
	return camera.Resolution{Width: int(w), Height: int(h)}, nil
}

// SetResolution writes Width then Height
func (c *Camera) SetResolution(r camera.Resolution) error {
	return c.Exclusive(func() error {
		if err := c.SetInt(Width, int64(r.Width)); err != nil {
			return err
		}
		return c.SetInt(Height, int64(r.Height))
	})
}

// Bracket returns the configured exposure bracket
func (c *Camera) Bracket() camera.Bracket {
	c.busy.Lock()
	defer c.busy.Unlock()
	return c.bracket
}

// SetBracket configures the exposure bracket
func (c *Camera) SetBracket(b camera.Bracket) {
	c.busy.Lock()
	c.bracket = b
	c.busy.Unlock()
}

// SetComposer attaches the HDR composer
func (c *Camera) SetComposer(comp camera.Composer) {
	c.busy.Lock()
	c.composer = comp
	c.busy.Unlock()
}

func (c *Camera) grabber(timeout time.Duration) func() (image.Image, error) {
	return func() (image.Image, error) {
		return c.Grab(timeout)
	}
}

// Capture grabs one frame and persists it per opts.  Persistence failures
// are returned alongside the frame.
func (c *Camera) Capture(name string, opts camera.CaptureOptions) (image.Image, error) {
	c.busy.Lock()
	defer c.busy.Unlock()
	frame, err := c.Grab(opts.WaitTime())
	if err != nil {
		return nil, err
	}
	so := camera.SaveOptions{
		Image:       opts.SaveImage,
		Raw:         opts.SaveRaw,
		Dump:        opts.Calibration && opts.SaveImage && c.DumpCalibration,
		Calibration: opts.Calibration,
		Subfolder:   opts.Subfolder,
	}
	// only the raw snapshot carries a header
	if opts.SaveRaw {
		so.Metadata = c.CollectHeaderMetadata()
	}
	err = c.Layout.Save(frame, name, so)
	if err != nil {
		return frame, fmt.Errorf("saving capture %s: %w", name, err)
	}
	return frame, nil
}

// CaptureHDR acquires one frame per exposure of b and composes them.  A
// failed exposure change mid-bracket is a device fault and reopens the
// camera, as a failed grab does.
func (c *Camera) CaptureHDR(b camera.Bracket, name string, opts camera.CaptureOptions) (image.Image, error) {
	c.busy.Lock()
	defer c.busy.Unlock()
	set := func(d time.Duration) error {
		err := c.setExposure(d)
		if err == nil || errors.Is(err, camera.ErrClosed) {
			return err
		}
		return c.Recover("set exposure", err)
	}
	return camera.HDR(c.composer, b, c.Layout, name, opts, set, c.grabber(opts.WaitTime()))
}

// LiveView shows single frame grabs on s until a key is pressed
func (c *Camera) LiveView(ctx context.Context, s display.Surface) error {
	c.busy.Lock()
	defer c.busy.Unlock()
	grab := c.grabber(camera.DefaultTimeout)
	return camera.LiveView(ctx, s, nil, func() (image.Image, error) {
		frame, err := grab()
		if err == nil {
			camera.LogExtrema(c.Name, frame)
		}
		return frame, err
	})
}

// SaveStatus writes the device node map to path
func (c *Camera) SaveStatus(path string) error {
	return c.Do(func(dev Device) error {
		fs, ok := dev.(FeatureSaver)
		if !ok {
			return fmt.Errorf("%s: %w", c.Name, camera.ErrUnsupported)
		}
		return fs.SaveFeatures(path)
	})
}

// CollectHeaderMetadata returns the FITS cards describing the device state.
// Values which could not be read are left out and noted in METAERR.
func (c *Camera) CollectHeaderMetadata() []fitsio.Card {
	var errs []string
	note := func(err error) bool {
		if err != nil {
			errs = append(errs, err.Error())
			return false
		}
		return true
	}
	cards := []fitsio.Card{
		{Name: "HDRVER", Value: HeaderVersion, Comment: "header version"},
		{Name: "DATE", Value: time.Now().Format("2006-01-02T15:04:05")},
	}
	if model, err := c.GetString(DeviceModelName); note(err) {
		cards = append(cards, fitsio.Card{Name: "CAMMODL", Value: model, Comment: "camera model"})
	}
	if sn, err := c.GetString(DeviceSerialNumber); note(err) {
		cards = append(cards, fitsio.Card{Name: "CAMSN", Value: sn, Comment: "camera serial number"})
	}
	if texp, err := c.GetExposure(); note(err) {
		cards = append(cards, fitsio.Card{Name: "EXPTIME", Value: texp.Seconds(), Comment: "exposure time, seconds"})
	}
	if gain, err := c.GetGain(); note(err) {
		cards = append(cards, fitsio.Card{Name: "GAIN", Value: gain, Comment: "gain, dB"})
	}
	if pf, err := c.GetEnum(PixelFormat); note(err) {
		cards = append(cards, fitsio.Card{Name: "PIXFMT", Value: pf, Comment: "sensor pixel format"})
	}
	if len(errs) > 0 {
		cards = append(cards, fitsio.Card{Name: "METAERR", Value: strings.Join(errs, "; "), Comment: "error encountered gathering metadata"})
	}
	return cards
}
