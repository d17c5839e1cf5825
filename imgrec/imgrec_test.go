package imgrec

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderNumbersFiles(t *testing.T) {
	day := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)
	r := &Recorder{Root: t.TempDir(), Prefix: "slscan", Enabled: true, now: func() time.Time { return day }}
	for i := 0; i < 2; i++ {
		if _, err := r.Write([]byte("SIMPLE")); err != nil {
			t.Fatal(err)
		}
		r.Incr()
	}
	for _, name := range []string{"slscan000000.fits", "slscan000001.fits"} {
		p := filepath.Join(r.Root, "2026-03-09", name)
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != "SIMPLE" {
			t.Errorf("%s holds %q", name, b)
		}
	}
	if want := filepath.Join(r.Root, "2026-03-09", "slscan000002.fits"); r.Filename() != want {
		t.Errorf("expected next file %s, got %s", want, r.Filename())
	}
}

func TestRecorderAppendsUntilIncr(t *testing.T) {
	r := &Recorder{Root: t.TempDir(), Enabled: true}
	r.Write([]byte("ab"))
	r.Write([]byte("cd"))
	b, err := os.ReadFile(r.Filename())
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "abcd" {
		t.Errorf("expected chunks appended to one file, got %q", b)
	}
}

func TestActive(t *testing.T) {
	var r *Recorder
	if r.Active() {
		t.Error("a nil recorder is not active")
	}
	r = &Recorder{Enabled: true}
	if r.Active() {
		t.Error("a recorder with no root is not active")
	}
}
