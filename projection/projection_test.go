package projection_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/slscan/rig/basler"
	"github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
	"github.com/slscan/rig/genicam"
	"github.com/slscan/rig/pattern"
	"github.com/slscan/rig/projection"
)

var monitors = []display.Monitor{
	{Name: "desk", Width: 1920, Height: 1080},
	{Name: "projector", X: 1920, Width: 1280, Height: 800},
}

type fakeCamera struct {
	bracket camera.Bracket
	names   []string
	hdr     int
	fail    map[int]error
	calls   int
	opts    []camera.CaptureOptions
}

func (f *fakeCamera) next(name string, opts camera.CaptureOptions) (image.Image, error) {
	i := f.calls
	f.calls++
	f.names = append(f.names, name)
	f.opts = append(f.opts, opts)
	if err := f.fail[i]; err != nil {
		return nil, err
	}
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

func (f *fakeCamera) Capture(name string, opts camera.CaptureOptions) (image.Image, error) {
	return f.next(name, opts)
}

func (f *fakeCamera) CaptureHDR(b camera.Bracket, name string, opts camera.CaptureOptions) (image.Image, error) {
	f.hdr++
	return f.next(name, opts)
}

func (f *fakeCamera) Bracket() camera.Bracket { return f.bracket }

// recorder opens headless surfaces and remembers them
type recorder struct {
	surfaces []*display.Headless
	titles   []string
	on       []display.Monitor
	keys     []int
}

func (r *recorder) open(title string, m display.Monitor, fullscreen bool) (display.Surface, error) {
	h := &display.Headless{Title: title, Keys: r.keys}
	r.surfaces = append(r.surfaces, h)
	r.titles = append(r.titles, title)
	r.on = append(r.on, m)
	return h, nil
}

func newScreen(t *testing.T, r *recorder) *projection.Screen {
	t.Helper()
	s, err := projection.New(monitors, 1, r.open)
	if err != nil {
		t.Fatal(err)
	}
	s.Settle = time.Millisecond
	s.KeyWait = time.Millisecond
	return s
}

func TestNewRejectsBadMonitor(t *testing.T) {
	if _, err := projection.New(monitors, 2, display.OpenHeadless); err == nil {
		t.Error("expected an error for a monitor index past the list")
	}
}

func TestRunWithoutCamera(t *testing.T) {
	r := &recorder{}
	s := newScreen(t, r)
	s.SetPattern(pattern.Gradient(4, 4))
	steps := 0
	s.OnStep = func(i, depth int) { steps++ }
	if err := s.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if steps != 4 || r.surfaces[0].Shown != 4 {
		t.Errorf("expected 4 display steps, got %d steps %d shown", steps, r.surfaces[0].Shown)
	}
	if !r.surfaces[0].Closed || s.State() != projection.Closed {
		t.Error("surface not closed at the end of the run")
	}
	if r.on[0].Name != "projector" {
		t.Errorf("projected on the wrong monitor %q", r.on[0].Name)
	}
}

func TestRunNamesCaptures(t *testing.T) {
	r := &recorder{}
	s := newScreen(t, r)
	s.SetPattern(pattern.PhaseShift(8, 8, 3, 4, false))
	cam := &fakeCamera{}
	if err := s.Run(context.Background(), cam); err != nil {
		t.Fatal(err)
	}
	want := []string{"capture_0", "capture_1", "capture_2"}
	if !reflect.DeepEqual(cam.names, want) {
		t.Errorf("expected %v got %v", want, cam.names)
	}
	if cam.hdr != 0 {
		t.Error("no bracket was set, HDR should not be used")
	}
	if s.Count() != 3 {
		t.Errorf("expected the cursor at 3, got %d", s.Count())
	}
}

func TestRunUsesHDRWithBracket(t *testing.T) {
	r := &recorder{}
	s := newScreen(t, r)
	s.SetPattern(pattern.Gradient(2, 2))
	cam := &fakeCamera{bracket: camera.Bracket{time.Millisecond, 2 * time.Millisecond}}
	if err := s.Run(context.Background(), cam); err != nil {
		t.Fatal(err)
	}
	if cam.hdr != 4 {
		t.Errorf("expected 4 HDR captures, got %d", cam.hdr)
	}
}

func TestRunContinuesAfterFault(t *testing.T) {
	r := &recorder{}
	s := newScreen(t, r)
	s.SetPattern(pattern.Gradient(2, 2))
	cam := &fakeCamera{fail: map[int]error{1: &camera.FaultError{Op: "grab", Err: errors.New("timeout")}}}
	if err := s.Run(context.Background(), cam); err != nil {
		t.Fatalf("a device fault should not end the run: %v", err)
	}
	if cam.calls != 4 {
		t.Errorf("expected all 4 patterns captured, got %d", cam.calls)
	}
}

func TestRunAbortsOnConfigurationError(t *testing.T) {
	r := &recorder{}
	s := newScreen(t, r)
	s.SetPattern(pattern.Gradient(2, 2))
	cam := &fakeCamera{fail: map[int]error{0: camera.Configurationf("no composer")}}
	err := s.Run(context.Background(), cam)
	if !errors.Is(err, camera.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if cam.calls != 1 || !r.surfaces[0].Closed {
		t.Error("run did not stop and close after a configuration error")
	}
}

func TestRunCancelled(t *testing.T) {
	r := &recorder{}
	s := newScreen(t, r)
	s.Settle = time.Hour
	s.SetPattern(pattern.Gradient(2, 2))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cam := &fakeCamera{}
	err := s.Run(ctx, cam)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the context error, got %v", err)
	}
	if cam.calls != 0 || !r.surfaces[0].Closed {
		t.Error("cancelled run captured or left the surface open")
	}
}

func TestRunNeedsStack(t *testing.T) {
	s := newScreen(t, &recorder{})
	if err := s.Run(context.Background(), nil); !errors.Is(err, camera.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestSetPatternKeepsCursor(t *testing.T) {
	r := &recorder{}
	s := newScreen(t, r)
	s.SetPattern(pattern.Gradient(2, 2))
	cam := &fakeCamera{fail: map[int]error{1: camera.Configurationf("stop")}}
	s.Run(context.Background(), cam)
	if s.Count() != 1 {
		t.Fatalf("expected the cursor at 1, got %d", s.Count())
	}
	s.SetPattern(pattern.PhaseShift(2, 2, 3, 2, true))
	cam.fail = nil
	if err := s.Run(context.Background(), cam); err != nil {
		t.Fatal(err)
	}
	want := []string{"capture_0", "capture_1", "capture_1", "capture_2"}
	if !reflect.DeepEqual(cam.names, want) {
		t.Errorf("expected %v got %v", want, cam.names)
	}
	s.Reset()
	if s.Count() != 0 {
		t.Error("reset did not rewind the cursor")
	}
}

func TestShowCalibrationPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checker.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, image.NewGray(image.Rect(0, 0, 8, 8)))
	f.Close()

	r := &recorder{keys: []int{-1, -1, ' '}}
	s := newScreen(t, r)
	cam := &fakeCamera{}
	if err = s.ShowCalibrationPattern(context.Background(), cam, path, ""); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cam.names, []string{projection.DefaultCalibrationName}) {
		t.Errorf("expected exactly one capture named %s, got %v", projection.DefaultCalibrationName, cam.names)
	}
	if !cam.opts[0].Calibration {
		t.Error("calibration capture not flagged as calibration")
	}
	h := r.surfaces[0]
	if h.Shown != 1 || !h.Closed || len(h.Keys) != 0 {
		t.Errorf("expected one pattern shown until a key, shown %d closed %v keys left %d", h.Shown, h.Closed, len(h.Keys))
	}
}

// three patterns against a three exposure bracket on a simulated camera
func TestSequenceWithSimulatedCamera(t *testing.T) {
	l := camera.DefaultLayout()
	l.Root = t.TempDir()
	for _, dir := range []string{l.CapturedImages, l.CapturedRaw} {
		os.MkdirAll(filepath.Join(l.Root, dir), 0755)
	}
	sim := &genicam.SimFactory{Width: 8, Height: 6}
	cam, err := basler.New(sim.Open, l)
	if err != nil {
		t.Fatal(err)
	}
	cam.Retry = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	composed := 0
	cam.SetComposer(camera.ComposerFunc(func(frames []image.Image, b camera.Bracket) (image.Image, error) {
		composed++
		if len(frames) != len(b) {
			return nil, fmt.Errorf("%d frames for %d exposures", len(frames), len(b))
		}
		out := camera.NewFloatImage(frames[0].Bounds())
		for i, fr := range frames {
			g := fr.(*image.Gray)
			for p, v := range g.Pix {
				out.Pix[p] += float64(v) / b[i].Seconds()
			}
		}
		return out, nil
	}))
	cam.SetBracket(camera.Bracket{100 * time.Microsecond, 200 * time.Microsecond, 400 * time.Microsecond})

	r := &recorder{}
	s := newScreen(t, r)
	s.SetPattern(pattern.Gradient(4, 4)[:3])
	if err = s.Run(context.Background(), cam); err != nil {
		t.Fatal(err)
	}
	if g := sim.Latest().Grabs; g != 9 {
		t.Errorf("expected 9 raw grabs, got %d", g)
	}
	if composed != 3 {
		t.Errorf("expected 3 compositions, got %d", composed)
	}
	for i := 0; i < 3; i++ {
		img, raw, _ := l.Paths(fmt.Sprintf("capture_%d", i), false, "")
		for _, p := range []string{img, raw} {
			if _, err := os.Stat(p); err != nil {
				t.Errorf("expected %s: %v", p, err)
			}
		}
	}
}
