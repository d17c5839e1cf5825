package basler_test

import (
	"bytes"
	"context"
	"errors"
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
)

var _ camera.Adapter = (*basler.Camera)(nil)

func tempLayout(t *testing.T) camera.Layout {
	t.Helper()
	l := camera.DefaultLayout()
	l.Root = t.TempDir()
	for _, dir := range []string{l.CapturedImages, l.CapturedRaw, l.CalibrationImages, l.CalibrationRaw} {
		if err := os.MkdirAll(filepath.Join(l.Root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	return l
}

func newCamera(t *testing.T) (*basler.Camera, *genicam.SimFactory) {
	t.Helper()
	f := &genicam.SimFactory{Width: 16, Height: 8, Model: "acA1920-40um"}
	c, err := basler.New(f.Open, tempLayout(t))
	if err != nil {
		t.Fatal(err)
	}
	c.Retry = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	f.ResetJournal()
	return c, f
}

func TestExposureIsMicroseconds(t *testing.T) {
	c, f := newCamera(t)
	if c.ExposureUnit() != camera.Microseconds {
		t.Errorf("expected microseconds, got %v", c.ExposureUnit())
	}
	if err := c.SetExposure(1500 * time.Microsecond); err != nil {
		t.Fatal(err)
	}
	want := []string{"set ExposureAuto Off", "set ExposureTime 1500"}
	if got := f.Journal(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v got %v", want, got)
	}
	d, err := c.GetExposure()
	if err != nil {
		t.Fatal(err)
	}
	if d != 1500*time.Microsecond {
		t.Errorf("expected 1.5ms, got %v", d)
	}
}

func TestGainControls(t *testing.T) {
	c, f := newCamera(t)
	if err := c.SetGain(6); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAutoGain(); err != nil {
		t.Fatal(err)
	}
	want := []string{"set GainAuto Off", "set Gain 6", "set GainAuto Once"}
	if got := f.Journal(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v got %v", want, got)
	}
	if err := c.SetAutoExposure(); err != nil {
		t.Fatal(err)
	}
	auto, err := c.GetAutoExposure()
	if err != nil {
		t.Fatal(err)
	}
	if !auto {
		t.Error("auto exposure not reported after SetAutoExposure")
	}
}

func TestOutOfRangeIsDeviceError(t *testing.T) {
	c, _ := newCamera(t)
	err := c.SetExposure(time.Nanosecond)
	if err == nil {
		t.Fatal("expected the device to reject a 1ns exposure")
	}
	if errors.Is(err, camera.ErrDeviceFault) {
		t.Error("a rejected setting should not be reported as a device fault")
	}
	if !c.IsOpen() {
		t.Error("a rejected setting closed the camera")
	}
}

func samples(t *testing.T, img image.Image) []byte {
	t.Helper()
	switch im := img.(type) {
	case *image.Gray:
		return im.Pix
	case *image.Gray16:
		return im.Pix
	}
	t.Fatalf("unexpected frame type %T", img)
	return nil
}

func TestCalibrationCaptureWritesAllArtifacts(t *testing.T) {
	for _, bits16 := range []bool{false, true} {
		c, _ := newCamera(t)
		if err := c.SetPixelFormat(true, bits16); err != nil {
			t.Fatal(err)
		}
		frame, err := c.Capture("checker", camera.CaptureOptions{SaveImage: true, SaveRaw: true, Calibration: true})
		if err != nil {
			t.Fatal(err)
		}
		img, raw, dump := c.Layout.Paths("checker", true, "")
		for _, p := range []string{img, raw, dump} {
			if _, err := os.Stat(p); err != nil {
				t.Errorf("expected %s to be written: %v", p, err)
			}
		}
		decoders := map[string]func([]byte) (image.Image, error){
			img: func(b []byte) (image.Image, error) { return png.Decode(bytes.NewReader(b)) },
			raw: func(b []byte) (image.Image, error) { return camera.ReadFITS(bytes.NewReader(b)) },
		}
		for path, decode := range decoders {
			b, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			back, err := decode(b)
			if err != nil {
				t.Fatal(err)
			}
			if reflect.TypeOf(back) != reflect.TypeOf(frame) {
				t.Errorf("16 bit %t: %s decoded as %T, the frame is %T", bits16, filepath.Base(path), back, frame)
				continue
			}
			if !bytes.Equal(samples(t, back), samples(t, frame)) {
				t.Errorf("16 bit %t: %s differs from the returned frame", bits16, filepath.Base(path))
			}
		}
	}
}

func TestOnlyRawSnapshotsReadMetadata(t *testing.T) {
	c, f := newCamera(t)
	dev := f.Latest()
	before := dev.Reads()
	if _, err := c.Capture("plain", camera.CaptureOptions{SaveImage: true}); err != nil {
		t.Fatal(err)
	}
	if n := dev.Reads(); n != before {
		t.Errorf("a capture without a raw snapshot read %d nodes", n-before)
	}
	if _, err := c.Capture("raw", camera.CaptureOptions{SaveRaw: true}); err != nil {
		t.Fatal(err)
	}
	if dev.Reads() == before {
		t.Error("the raw snapshot header was not collected")
	}
}

func TestCaptureFaultReopens(t *testing.T) {
	c, f := newCamera(t)
	first := f.Latest()
	first.FailGrabs = 1
	_, err := c.Capture("x", camera.CaptureOptions{})
	if !errors.Is(err, camera.ErrDeviceFault) {
		t.Fatalf("expected a device fault, got %v", err)
	}
	if f.Latest() == first || !first.Closed() {
		t.Fatal("camera was not reopened on a new handle")
	}
	mode, err := c.GetEnum(genicam.AcquisitionMode)
	if err != nil {
		t.Fatal(err)
	}
	if mode != genicam.SingleFrame {
		t.Errorf("setup was not reapplied to the new handle, mode %s", mode)
	}
	if _, err = c.Capture("y", camera.CaptureOptions{}); err != nil {
		t.Errorf("capture after recovery failed: %v", err)
	}
}

func TestCaptureWhileClosed(t *testing.T) {
	c, _ := newCamera(t)
	if err := c.Release(); err != nil {
		t.Fatal(err)
	}
	_, err := c.Capture("x", camera.CaptureOptions{Timeout: time.Hour})
	if !errors.Is(err, camera.ErrDeviceFault) {
		t.Errorf("expected ErrDeviceFault, got %v", err)
	}
	if err = c.Reopen(); err != nil {
		t.Fatal(err)
	}
	if !c.IsOpen() {
		t.Error("reopen did not open the camera")
	}
}

func TestHDRSetsThenGrabsInOrder(t *testing.T) {
	c, f := newCamera(t)
	var got []int
	c.SetComposer(camera.ComposerFunc(func(frames []image.Image, b camera.Bracket) (image.Image, error) {
		for _, fr := range frames {
			got = append(got, int(fr.(*image.Gray).Pix[len(fr.(*image.Gray).Pix)-1]))
		}
		return frames[len(frames)-1], nil
	}))
	b := camera.Bracket{100 * time.Microsecond, 200 * time.Microsecond, 400 * time.Microsecond}
	if _, err := c.CaptureHDR(b, "hdr", camera.CaptureOptions{}); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"set ExposureAuto Off", "set ExposureTime 100", "grab 1",
		"set ExposureAuto Off", "set ExposureTime 200", "grab 1",
		"set ExposureAuto Off", "set ExposureTime 400", "grab 1",
	}
	if j := f.Journal(); !reflect.DeepEqual(j, want) {
		t.Errorf("expected %v got %v", want, j)
	}
	if len(got) != 3 || !(got[0] < got[1] && got[1] < got[2]) {
		t.Errorf("frames were not passed to the composer in bracket order: %v", got)
	}
}

func TestHDRExposureFaultReopens(t *testing.T) {
	c, f := newCamera(t)
	first := f.Latest()
	c.SetComposer(camera.ComposerFunc(func(frames []image.Image, _ camera.Bracket) (image.Image, error) {
		return frames[0], nil
	}))
	// the simulator refuses exposures under 10 us
	b := camera.Bracket{time.Millisecond, time.Microsecond, 2 * time.Millisecond}
	_, err := c.CaptureHDR(b, "hdr", camera.CaptureOptions{})
	if !errors.Is(err, camera.ErrDeviceFault) {
		t.Fatalf("expected a device fault, got %v", err)
	}
	if !first.Closed() || c.Generation() != 2 {
		t.Error("camera was not reopened after the failed exposure change")
	}
	for _, entry := range f.Journal() {
		if entry == "set ExposureTime 2000" {
			t.Error("the bracket continued past the fault")
		}
	}
}

func TestHDRPreconditions(t *testing.T) {
	c, f := newCamera(t)
	b := camera.Bracket{time.Millisecond}
	if _, err := c.CaptureHDR(b, "hdr", camera.CaptureOptions{}); !errors.Is(err, camera.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration with no composer, got %v", err)
	}
	c.SetComposer(camera.ComposerFunc(func(frames []image.Image, _ camera.Bracket) (image.Image, error) {
		return frames[0], nil
	}))
	if _, err := c.CaptureHDR(nil, "hdr", camera.CaptureOptions{}); !errors.Is(err, camera.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration with no bracket, got %v", err)
	}
	if n := len(f.Journal()); n != 0 {
		t.Errorf("no device transactions expected, got %d", n)
	}
}

func TestStatusWritesSpecs(t *testing.T) {
	c, _ := newCamera(t)
	if err := c.Status(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(c.Layout.Root, basler.StatusFile)); err != nil {
		t.Error(err)
	}
}

func TestSetPixelFormat(t *testing.T) {
	c, _ := newCamera(t)
	if err := c.SetPixelFormat(true, true); err != nil {
		t.Fatal(err)
	}
	frame, err := c.Capture("deep", camera.CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := frame.(*image.Gray16); !ok {
		t.Errorf("expected a 16 bit frame, got %T", frame)
	}
	if err = c.SetPixelFormat(false, true); !errors.Is(err, camera.ErrConfiguration) {
		t.Errorf("expected 16 bit color to be refused, got %v", err)
	}
}

func TestPixelFormatSurvivesReopen(t *testing.T) {
	c, f := newCamera(t)
	if err := c.SetPixelFormat(true, true); err != nil {
		t.Fatal(err)
	}
	f.Latest().FailGrabs = 1
	if _, err := c.Capture("lost", camera.CaptureOptions{}); !errors.Is(err, camera.ErrDeviceFault) {
		t.Fatalf("expected a device fault, got %v", err)
	}
	frame, err := c.Capture("after", camera.CaptureOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := frame.(*image.Gray16); !ok {
		t.Errorf("pixel format was not restored on the new handle, got %T", frame)
	}
}

func TestLiveViewStopsOnKey(t *testing.T) {
	c, _ := newCamera(t)
	s := &display.Headless{Title: "basler", Keys: []int{-1, -1, 'q'}}
	if err := c.LiveView(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if s.Shown != 3 {
		t.Errorf("expected 3 frames shown, got %d", s.Shown)
	}
	if !s.Closed {
		t.Error("live view did not close the surface")
	}
}
