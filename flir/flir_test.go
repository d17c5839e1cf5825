package flir_test

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/slscan/rig/camera"
	"github.com/slscan/rig/display"
	"github.com/slscan/rig/flir"
	"github.com/slscan/rig/genicam"
)

var _ camera.Adapter = (*flir.Camera)(nil)

func newCamera(t *testing.T, mono, bits16 bool) (*flir.Camera, *genicam.SimFactory) {
	t.Helper()
	l := camera.DefaultLayout()
	l.Root = t.TempDir()
	for _, dir := range []string{l.CapturedImages, l.CapturedRaw,
		filepath.Join(l.CalibrationImages, "Radiometric"), filepath.Join(l.CalibrationRaw, "Radiometric")} {
		if err := os.MkdirAll(filepath.Join(l.Root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	f := &genicam.SimFactory{Width: 12, Height: 10, Model: "Blackfly S BFS-U3-51S5M"}
	c, err := flir.New(f.Open, l, mono, bits16)
	if err != nil {
		t.Fatal(err)
	}
	c.Retry = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return c, f
}

func TestExposureTruncatesToMilliseconds(t *testing.T) {
	c, _ := newCamera(t, true, true)
	if c.ExposureUnit() != camera.Milliseconds {
		t.Errorf("expected milliseconds, got %v", c.ExposureUnit())
	}
	if err := c.SetExposure(2700 * time.Microsecond); err != nil {
		t.Fatal(err)
	}
	us, err := c.GetFloat(genicam.ExposureTime)
	if err != nil {
		t.Fatal(err)
	}
	if us != 2700 {
		t.Errorf("expected the node to hold 2700us, got %g", us)
	}
	d, err := c.GetExposure()
	if err != nil {
		t.Fatal(err)
	}
	if d != 2*time.Millisecond {
		t.Errorf("expected a truncated 2ms, got %v", d)
	}
}

func TestSetupPinsFormat(t *testing.T) {
	c, f := newCamera(t, true, true)
	frame, err := c.Capture("a", camera.CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := frame.(*image.Gray16); !ok {
		t.Fatalf("expected Mono16 frames, got %T", frame)
	}
	fps, err := c.GetFPS()
	if err != nil {
		t.Fatal(err)
	}
	if fps != flir.DefaultFPS {
		t.Errorf("expected %d fps after setup, got %g", flir.DefaultFPS, fps)
	}
	f.Latest().FailGrabs = 1
	if _, err = c.Capture("b", camera.CaptureOptions{}); !errors.Is(err, camera.ErrDeviceFault) {
		t.Fatalf("expected a fault, got %v", err)
	}
	frame, err = c.Capture("c", camera.CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := frame.(*image.Gray16); !ok {
		t.Errorf("pixel format was not pinned on the reopened handle, got %T", frame)
	}
	if !c.Monochrome() || !c.Bits16() {
		t.Error("construction choices were not retained")
	}
}

func TestColorUsesBayer(t *testing.T) {
	c, _ := newCamera(t, false, false)
	pf, err := c.GetEnum(genicam.PixelFormat)
	if err != nil {
		t.Fatal(err)
	}
	if pf != genicam.BayerRG {
		t.Errorf("expected %s, got %s", genicam.BayerRG, pf)
	}
}

func TestCalibrationSubfolder(t *testing.T) {
	c, _ := newCamera(t, true, false)
	opts := camera.CaptureOptions{SaveImage: true, SaveRaw: true, Calibration: true, Subfolder: "Radiometric"}
	if _, err := c.Capture("exp_30", opts); err != nil {
		t.Fatal(err)
	}
	img, raw, dump := c.Layout.Paths("exp_30", true, "Radiometric")
	for _, p := range []string{img, raw} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}
	if _, err := os.Stat(dump); err == nil {
		t.Error("flir calibration captures should not write a raw dump")
	}
}

func TestStatusUnsupported(t *testing.T) {
	c, _ := newCamera(t, true, true)
	if err := c.Status(); !errors.Is(err, camera.ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
	if errors.Is(c.Status(), camera.ErrDeviceFault) {
		t.Error("an unsupported status is not a device fault")
	}
}

func TestReleaseRestoresAuto(t *testing.T) {
	c, f := newCamera(t, true, true)
	h := f.Latest()
	f.ResetJournal()
	if err := c.Release(); err != nil {
		t.Fatal(err)
	}
	j := strings.Join(f.Journal(), "\n")
	for _, want := range []string{"set ExposureAuto Continuous", "set GainAuto Continuous", "set GammaEnable true", "close 1"} {
		if !strings.Contains(j, want) {
			t.Errorf("expected %q in journal:\n%s", want, j)
		}
	}
	if !h.Closed() || c.IsOpen() {
		t.Error("camera not closed by Release")
	}
}

func TestLiveViewStreamsThenReopens(t *testing.T) {
	c, f := newCamera(t, true, false)
	s := &display.Headless{Keys: []int{-1, 'q'}}
	if err := c.LiveView(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if s.Shown != 2 || !s.Closed {
		t.Errorf("expected 2 frames and a closed surface, got %d %v", s.Shown, s.Closed)
	}
	j := strings.Join(f.Journal(), "\n")
	if !strings.Contains(j, "begin 1") || !strings.Contains(j, "end 1") {
		t.Errorf("expected a continuous acquisition on handle 1:\n%s", j)
	}
	if len(f.Opened()) != 2 || c.Generation() != 2 {
		t.Error("camera was not reopened after the live view")
	}
	mode, err := c.GetEnum(genicam.AcquisitionMode)
	if err != nil {
		t.Fatal(err)
	}
	if mode != genicam.SingleFrame {
		t.Errorf("expected single frame mode after reopen, got %s", mode)
	}
}

func TestLiveViewCancelled(t *testing.T) {
	c, _ := newCamera(t, true, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &display.Headless{}
	if err := c.LiveView(ctx, s); err != nil {
		t.Fatal(err)
	}
	if !s.Closed {
		t.Error("surface left open after cancellation")
	}
}
