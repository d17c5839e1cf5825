package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// RadiometricSubfolder is where ExposureSweep files its captures by default
const RadiometricSubfolder = "Radiometric"

// DefaultSweep spans the exposures useful for radiometric calibration of an
// ace 2 class sensor in low light
var DefaultSweep = Bracket{
	30 * time.Microsecond, 60 * time.Microsecond, 100 * time.Microsecond,
	200 * time.Microsecond, 400 * time.Microsecond, 600 * time.Microsecond,
	1 * time.Millisecond, 1500 * time.Microsecond, 2 * time.Millisecond,
	4 * time.Millisecond, 6 * time.Millisecond, 8 * time.Millisecond,
	10 * time.Millisecond, 14 * time.Millisecond, 19 * time.Millisecond,
	24 * time.Millisecond, 31 * time.Millisecond, 39 * time.Millisecond,
	49 * time.Millisecond, 60 * time.Millisecond,
}

// DefaultMeterSettle is how long AutoBracket lets auto exposure settle
const DefaultMeterSettle = 500 * time.Millisecond

// BracketSeries are the multiples of the metered exposure AutoBracket spans
var BracketSeries = []float64{0.25, 0.5, 1, 2, 4}

// Sweeper is the part of an Adapter an exposure sweep drives
type Sweeper interface {
	SetExposure(time.Duration) error
	Capture(name string, opts CaptureOptions) (image.Image, error)
}

// SweepName is the capture name of exposure d in a sweep, its length in
// whole microseconds
func SweepName(d time.Duration) string {
	return fmt.Sprint(d.Microseconds())
}

// ExposureSweep sets each exposure of exps in turn and takes a calibration
// capture of it named by SweepName into subfolder.  An empty exps means
// DefaultSweep.  The first error ends the sweep.
func ExposureSweep(ctx context.Context, c Sweeper, exps Bracket, subfolder string) error {
	if len(exps) == 0 {
		exps = DefaultSweep
	}
	opts := CaptureOptions{SaveImage: true, SaveRaw: true, Calibration: true, Subfolder: subfolder}
	for _, d := range exps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.SetExposure(d); err != nil {
			return fmt.Errorf("sweep exposure %v: %w", d, err)
		}
		if _, err := c.Capture(SweepName(d), opts); err != nil {
			return fmt.Errorf("sweep exposure %v: %w", d, err)
		}
	}
	return nil
}

// AutoExposer can meter the scene and report its exposure limits
type AutoExposer interface {
	SetAutoExposure() error
	GetExposure() (time.Duration, error)
	SetExposure(time.Duration) error

	// ExposureLimits returns an error matching ErrUnsupported if the device
	// does not publish them
	ExposureLimits() (min, max time.Duration, err error)
}

// AutoBracket lets the device meter the scene for settle, then builds a
// bracket of BracketSeries multiples of the metered exposure, clamped to the
// device limits.  Auto exposure is left off at the metered value.
func AutoBracket(ctx context.Context, c AutoExposer, settle time.Duration) (Bracket, error) {
	if err := c.SetAutoExposure(); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(settle):
	}
	mid, err := c.GetExposure()
	if err != nil {
		return nil, err
	}
	lo, hi, err := c.ExposureLimits()
	if errors.Is(err, ErrUnsupported) {
		lo, hi, err = 0, 0, nil
	}
	if err != nil {
		return nil, err
	}
	b := make(Bracket, len(BracketSeries))
	for i, x := range BracketSeries {
		d := time.Duration(float64(mid) * x)
		if lo > 0 && d < lo {
			d = lo
		}
		if hi > 0 && d > hi {
			d = hi
		}
		b[i] = d
	}
	if err = c.SetExposure(mid); err != nil {
		return nil, err
	}
	return b, nil
}
