/*Package projection drives a projector or monitor through a pattern stack,
capturing a frame of the scene after every pattern is shown.

A Screen is bound to one monitor for its whole life.  Run shows each pattern
fullscreen, lets the scene settle, captures it as capture_<i>, and advances.
The cursor persists across runs; Reset rewinds it.
*/
package projection

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"time"

	"github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
	"github.com/slscan/rig/pattern"
)

const (
	// DefaultSettle is how long a pattern is shown before the capture
	DefaultSettle = 2 * time.Second

	// DefaultKeyWait is how long events are pumped after every step
	DefaultKeyWait = 100 * time.Millisecond

	// CapturePrefix prefixes the index in capture names
	CapturePrefix = "capture_"

	// DefaultCalibrationPattern is the checkerboard shown for geometric calibration
	DefaultCalibrationPattern = "CalibrationImages/8_24_checker.png"

	// DefaultCalibrationName is the capture name of the geometric calibration frame
	DefaultCalibrationName = "Geometric/geo"

	patternTitle     = "Pattern"
	calibrationTitle = "Checkerboard"
)

// State is the phase of a Screen
type State int

const (
	// Idle is a Screen with no window
	Idle State = iota

	// Displaying is a Screen in the middle of a run
	Displaying

	// Closed is a Screen whose last run ended, by completion or cancellation
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Displaying:
		return "displaying"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Camera is what a run needs from a camera adapter
type Camera interface {
	Capture(name string, opts camera.CaptureOptions) (image.Image, error)
	CaptureHDR(b camera.Bracket, name string, opts camera.CaptureOptions) (image.Image, error)
	Bracket() camera.Bracket
}

// Screen projects patterns on one monitor
type Screen struct {
	// Settle is the pause between showing a pattern and capturing it
	Settle time.Duration

	// KeyWait is how long window events are pumped after every step
	KeyWait time.Duration

	// Options are the capture options of every step
	Options camera.CaptureOptions

	// OnStep, if not nil, is called after every step with the index of the
	// pattern just shown and the stack depth
	OnStep func(i, depth int)

	monitor display.Monitor
	open    display.Opener
	stack   pattern.Stack
	count   int
	state   State
}

// New returns a Screen on monitors[idx].  Surfaces are created with open.
func New(monitors []display.Monitor, idx int, open display.Opener) (*Screen, error) {
	m, err := display.Select(monitors, idx)
	if err != nil {
		return nil, err
	}
	log.Printf("projection: screen resolution %dx%d on %q\n", m.Width, m.Height, m.Name)
	return &Screen{
		Settle:  DefaultSettle,
		KeyWait: DefaultKeyWait,
		Options: camera.CaptureOptions{SaveImage: true, SaveRaw: true},
		monitor: m,
		open:    open,
	}, nil
}

// Monitor returns the monitor the Screen projects on
func (s *Screen) Monitor() display.Monitor {
	return s.monitor
}

// Resolution returns the monitor's (width, height)
func (s *Screen) Resolution() (int, int) {
	return s.monitor.Width, s.monitor.Height
}

// SetPattern replaces the stack.  The cursor is left where it is.
func (s *Screen) SetPattern(st pattern.Stack) {
	s.stack = st
}

// Count is the index of the next pattern to show
func (s *Screen) Count() int {
	return s.count
}

// Reset rewinds the cursor to the first pattern
func (s *Screen) Reset() {
	s.count = 0
}

// State returns the phase of the Screen
func (s *Screen) State() State {
	return s.state
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run shows the stack from the cursor to its end.  A nil cam projects
// without capturing.  If cam has an exposure bracket every step is an HDR
// capture.
//
// A device fault on a step is logged and the run continues with the next
// pattern; the adapter has already reopened itself.  A configuration error
// ends the run.  The surface is closed on return whatever the cause.
func (s *Screen) Run(ctx context.Context, cam Camera) error {
	if s.stack == nil {
		return camera.Configurationf("no pattern stack set")
	}
	surf, err := s.open(patternTitle, s.monitor, true)
	if err != nil {
		return err
	}
	defer func() {
		surf.Close()
		s.state = Closed
	}()
	if cam == nil {
		log.Println("projection: no camera initialized, projecting only")
	}
	depth := s.stack.Depth()
	for s.count < depth {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		img, err := s.stack.Pattern(s.count)
		if err != nil {
			return err
		}
		if err = surf.Show(img); err != nil {
			return err
		}
		s.state = Displaying
		if err = sleep(ctx, s.Settle); err != nil {
			return err
		}
		if cam != nil {
			if err = s.capture(cam, fmt.Sprintf("%s%d", CapturePrefix, s.count)); err != nil {
				if errors.Is(err, camera.ErrConfiguration) {
					return err
				}
				log.Printf("projection: capture of pattern %d failed: %v\n", s.count, err)
			}
		}
		if s.OnStep != nil {
			s.OnStep(s.count, depth)
		}
		s.count++
		surf.WaitKey(s.KeyWait)
	}
	return nil
}

func (s *Screen) capture(cam Camera, name string) error {
	if b := cam.Bracket(); len(b) > 0 {
		_, err := cam.CaptureHDR(b, name, s.Options)
		return err
	}
	_, err := cam.Capture(name, s.Options)
	return err
}

// ShowCalibrationPattern shows the image at path fullscreen, lets it settle,
// takes exactly one calibration capture named name, then holds the pattern
// until a key is pressed or ctx is done.  Empty path and name use the defaults.
func (s *Screen) ShowCalibrationPattern(ctx context.Context, cam Camera, path, name string) error {
	if cam == nil {
		return camera.Configurationf("a calibration capture requires a camera")
	}
	if path == "" {
		path = DefaultCalibrationPattern
	}
	if name == "" {
		name = DefaultCalibrationName
	}
	imgs, err := pattern.Load(path)
	if err != nil {
		return err
	}
	img, err := imgs.Pattern(0)
	if err != nil {
		return err
	}
	surf, err := s.open(calibrationTitle, s.monitor, true)
	if err != nil {
		return err
	}
	defer surf.Close()
	if err = surf.Show(img); err != nil {
		return err
	}
	if err = sleep(ctx, s.Settle); err != nil {
		return err
	}
	opts := s.Options
	opts.Calibration = true
	opts.SaveImage = true
	if _, err = cam.Capture(name, opts); err != nil {
		return err
	}
	for {
		if key := surf.WaitKey(s.KeyWait); key != -1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}
