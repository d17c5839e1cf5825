package genicam_test

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"gopkg.in/yaml.v2"

	"github.com/slscan/rig/camera"
	"github.com/slscan/rig/genicam"
)

func noWait() backoff.BackOff {
	return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
}

func newSession(t *testing.T) (*genicam.Session, *genicam.SimFactory) {
	t.Helper()
	f := &genicam.SimFactory{Width: 8, Height: 4}
	s, err := genicam.NewSession("sim", f.Open)
	if err != nil {
		t.Fatal(err)
	}
	s.Retry = noWait
	return s, f
}

func TestGrabReturnsFrame(t *testing.T) {
	s, _ := newSession(t)
	img, err := s.Grab(time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 8, 4) {
		t.Errorf("expected 8x4 frame, got %v", img.Bounds())
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Errorf("expected Mono8 to produce *image.Gray, got %T", img)
	}
}

func TestFaultedGrabReopensWithNewHandle(t *testing.T) {
	s, f := newSession(t)
	first := f.Latest()
	first.FailGrabs = 1
	_, err := s.Grab(time.Second)
	if !errors.Is(err, camera.ErrDeviceFault) {
		t.Fatalf("expected a device fault, got %v", err)
	}
	if !errors.Is(err, genicam.ErrSimTimeout) {
		t.Errorf("expected the SDK error to be wrapped, got %v", err)
	}
	if !first.Closed() {
		t.Error("faulted handle was not closed")
	}
	if s.Device() == genicam.Device(first) {
		t.Error("session still holds the faulted handle")
	}
	if s.Generation() != 2 {
		t.Errorf("expected generation 2 after one reopen, got %d", s.Generation())
	}
	if _, err = s.Grab(time.Second); err != nil {
		t.Errorf("grab on the new handle failed: %v", err)
	}
}

func TestReopenRetriesOpen(t *testing.T) {
	s, f := newSession(t)
	f.FailOpens = 2
	if err := s.Reopen(); err != nil {
		t.Fatal(err)
	}
	if n := len(f.Opened()); n != 2 {
		t.Errorf("expected 2 handles opened, got %d", n)
	}
}

func TestClosedSessionFailsFast(t *testing.T) {
	s, _ := newSession(t)
	if err := s.Release(); err != nil {
		t.Fatal(err)
	}
	if s.IsOpen() {
		t.Fatal("released session reports open")
	}
	done := make(chan error, 1)
	go func() {
		_, err := s.Grab(time.Hour)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, camera.ErrDeviceFault) {
			t.Errorf("expected ErrDeviceFault, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("grab on a closed session blocked")
	}
	if _, err := s.GetFloat(genicam.ExposureTime); !errors.Is(err, camera.ErrDeviceFault) {
		t.Errorf("expected node access on a closed session to fault, got %v", err)
	}
	if err := s.Release(); err != nil {
		t.Errorf("second release should be a no-op, got %v", err)
	}
}

func TestSimRejectsOutOfRange(t *testing.T) {
	s, _ := newSession(t)
	if err := s.SetFloat(genicam.ExposureTime, 1); err == nil {
		t.Error("expected exposure below the device minimum to be rejected")
	}
	if err := s.SetInt(genicam.Width, 9); err == nil {
		t.Error("expected width above WidthMax to be rejected")
	}
	if err := s.SetFloat(genicam.AcquisitionFrameRate, 10); err == nil {
		t.Error("expected frame rate to be read only until enabled")
	}
}

func TestSimBrightnessFollowsExposure(t *testing.T) {
	s, _ := newSession(t)
	sum := func() int {
		img, err := s.Grab(time.Second)
		if err != nil {
			t.Fatal(err)
		}
		total := 0
		for _, p := range img.(*image.Gray).Pix {
			total += int(p)
		}
		return total
	}
	if err := s.SetFloat(genicam.ExposureTime, 100); err != nil {
		t.Fatal(err)
	}
	dim := sum()
	if err := s.SetFloat(genicam.ExposureTime, 800); err != nil {
		t.Fatal(err)
	}
	bright := sum()
	if bright <= dim {
		t.Errorf("longer exposure was not brighter, %d <= %d", bright, dim)
	}
}

func TestSimSaveFeatures(t *testing.T) {
	s, f := newSession(t)
	path := filepath.Join(t.TempDir(), "features.yml")
	if err := f.Latest().SaveFeatures(path); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	m := map[string]interface{}{}
	if err = yaml.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	if m[genicam.PixelFormat] != genicam.Mono8 {
		t.Errorf("expected PixelFormat Mono8 in dump, got %v", m[genicam.PixelFormat])
	}
	s.Release()
}

func TestGrabAndReopenFromManyGoroutines(t *testing.T) {
	s, f := newSession(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%4 == 0 {
				err = s.Reopen()
			} else {
				_, err = s.Grab(time.Second)
			}
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	if s.Generation() != 5 {
		t.Errorf("expected generation 5 after 4 reopens, got %d", s.Generation())
	}
	for _, dev := range f.Opened()[:4] {
		if !dev.Closed() {
			t.Errorf("handle %d was left open", dev.ID)
		}
	}
}
