package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"log"
	"strings"
	"time"

	"github.com/theckman/yacspin"

	"github.com/slscan/rig/basler"
	"github.com/slscan/rig/basler/pylon"
	rig "github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
	"github.com/slscan/rig/display/cvwindow"
	"github.com/slscan/rig/flir"
	"github.com/slscan/rig/flir/spinnaker"
	"github.com/slscan/rig/genicam"
	"github.com/slscan/rig/pattern"
	"github.com/slscan/rig/probe"
	"github.com/slscan/rig/projection"
)

// openCamera opens the configured camera and applies the exposure, bracket,
// and composer.  done releases the device and any SDK state.
func openCamera(c cameraConf, l rig.Layout) (cam rig.Adapter, done func(), err error) {
	b, err := c.bracket()
	if err != nil {
		return nil, nil, err
	}
	done = func() {}
	switch strings.ToLower(c.Type) {
	case "sim":
		f := &genicam.SimFactory{Width: c.SimWidth, Height: c.SimHeight, Model: "slscan-sim"}
		bc, err := basler.New(f.Open, l)
		if err != nil {
			return nil, nil, err
		}
		if err = bc.SetPixelFormat(c.Monochrome, c.Bits16); err != nil {
			bc.Release()
			return nil, nil, err
		}
		cam = bc
	case "basler":
		log.Println("initializing pylon")
		if err = pylon.Initialize(); err != nil {
			return nil, nil, err
		}
		bc, err := basler.New(pylon.OpenFirst, l)
		if err != nil {
			pylon.Terminate()
			return nil, nil, err
		}
		if err = bc.SetPixelFormat(c.Monochrome, c.Bits16); err != nil {
			bc.Release()
			pylon.Terminate()
			return nil, nil, err
		}
		cam = bc
		done = func() { pylon.Terminate() }
	case "flir":
		n, err := spinnaker.Count()
		if err != nil {
			return nil, nil, err
		}
		log.Printf("%d FLIR cameras found, opening index %d\n", n, c.Index)
		fc, err := flir.New(spinnaker.Opener(c.Index), l, c.Monochrome, c.Bits16)
		if err != nil {
			return nil, nil, err
		}
		cam = fc
	default:
		return nil, nil, fmt.Errorf("unknown camera type %q, must be one of basler, flir, sim", c.Type)
	}
	sdk := done
	done = func() {
		if err := cam.Release(); err != nil {
			log.Println("error releasing camera", err)
		}
		sdk()
	}
	if c.Exposure != 0 {
		if err = cam.SetExposure(c.Exposure); err != nil {
			done()
			return nil, nil, err
		}
	}
	if len(b) == 0 && c.AutoBracket {
		ae, ok := cam.(rig.AutoExposer)
		if !ok {
			done()
			return nil, nil, fmt.Errorf("%s cameras cannot meter a bracket: %w", c.Type, rig.ErrUnsupported)
		}
		if b, err = rig.AutoBracket(context.Background(), ae, rig.DefaultMeterSettle); err != nil {
			done()
			return nil, nil, err
		}
		log.Println("metered HDR bracket", b)
	}
	cam.SetBracket(b)
	cam.SetComposer(rig.ComposerFunc(meanRadiance))
	return cam, done, nil
}

// meanRadiance estimates relative radiance as the mean of value/exposure over
// the frames where a pixel is neither dark nor saturated.  Pixels with no
// well exposed sample fall back to the mean over every frame.
func meanRadiance(frames []image.Image, b rig.Bracket) (image.Image, error) {
	if len(frames) == 0 || len(frames) != len(b) {
		return nil, rig.Configurationf("%d frames for a bracket of %d exposures", len(frames), len(b))
	}
	const lo, hi = 0.02, 0.98
	r := frames[0].Bounds()
	out := rig.NewFloatImage(r)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			var sum, all float64
			n := 0
			for i, f := range frames {
				v := float64(color.Gray16Model.Convert(f.At(x, y)).(color.Gray16).Y) / 0xffff
				e := b[i].Seconds()
				all += v / e
				if v > lo && v < hi {
					sum += v / e
					n++
				}
			}
			if n == 0 {
				out.SetFloat(x, y, all/float64(len(frames)))
				continue
			}
			out.SetFloat(x, y, sum/float64(n))
		}
	}
	return out, nil
}

// opener picks the surface implementation.  Headless surfaces report keys
// in order, which lets unattended runs dismiss blocking windows.
func opener(d displayConf, keys ...int) display.Opener {
	if !d.Headless {
		return cvwindow.Open
	}
	return func(title string, m display.Monitor, fullscreen bool) (display.Surface, error) {
		s, err := display.OpenHeadless(title, m, fullscreen)
		if err != nil {
			return nil, err
		}
		if h, ok := s.(*display.Headless); ok {
			h.Keys = append([]int(nil), keys...)
		}
		return s, nil
	}
}

func newScreen(d displayConf, open display.Opener) (*projection.Screen, error) {
	scr, err := projection.New(d.Monitors, d.Index, open)
	if err != nil {
		return nil, err
	}
	scr.Settle = d.Settle
	scr.KeyWait = d.KeyWait
	return scr, nil
}

// loadStack builds the pattern stack at the projector's resolution
func loadStack(p patternConf, width, height int) (pattern.Stack, error) {
	switch strings.ToLower(p.Source) {
	case "":
		return nil, errors.New("no pattern source configured")
	case "phase":
		if p.Steps < 1 || p.Period <= 0 {
			return nil, fmt.Errorf("phase patterns need Steps >= 1 and Period > 0, got %d and %g", p.Steps, p.Period)
		}
		return pattern.PhaseShift(width, height, p.Steps, p.Period, p.Vertical), nil
	case "gradient":
		return pattern.Gradient(width, height), nil
	}
	return pattern.Load(p.Source)
}

func openLaser(c laserConf) (*probe.Laser, error) {
	if !c.Enabled {
		return nil, nil
	}
	l := probe.NewLaser(c.Addr, c.Baud)
	if err := l.Open(); err != nil {
		return nil, err
	}
	return l, nil
}

func newSpinner(msg string) (*yacspin.Spinner, error) {
	return yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[11],
		Suffix:            " sequence",
		SuffixAutoColon:   true,
		Message:           msg,
		StopCharacter:     "✓",
		StopFailCharacter: "✗",
	})
}
