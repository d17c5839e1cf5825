package laser_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/slscan/rig/generichttp"
	"github.com/slscan/rig/generichttp/laser"
)

type fakeLaser struct {
	on    bool
	power float64
}

func (f *fakeLaser) SetEmission(b bool) error { f.on = b; return nil }

func (f *fakeLaser) GetEmission() (bool, error) { return f.on, nil }

func (f *fakeLaser) SetPower(mW float64) error {
	if mW < 0 {
		return errors.New("negative power")
	}
	f.power = mW
	return nil
}

func (f *fakeLaser) GetPower() (float64, error) { return f.power / 2, nil }

func (f *fakeLaser) GetTargetPower() (float64, error) { return f.power, nil }

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w
}

func TestLaserRoutes(t *testing.T) {
	f := &fakeLaser{}
	r := chi.NewRouter()
	laser.NewHTTPLaser(f, 0).RT().Bind(r)

	if w := do(r, http.MethodPost, "/emission", `{"bool": true}`); w.Code != http.StatusOK || !f.on {
		t.Fatalf("emission not set, %d", w.Code)
	}
	w := do(r, http.MethodGet, "/emission", "")
	b := generichttp.BoolT{}
	json.NewDecoder(w.Body).Decode(&b)
	if !b.Bool {
		t.Error("expected emission on")
	}
	if w = do(r, http.MethodPost, "/power", `{"f64": 40}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for path, want := range map[string]float64{"/power": 20, "/power/target": 40} {
		w = do(r, http.MethodGet, path, "")
		f64 := generichttp.FloatT{}
		json.NewDecoder(w.Body).Decode(&f64)
		if f64.F64 != want {
			t.Errorf("%s: expected %g got %g", path, want, f64.F64)
		}
	}
	if w = do(r, http.MethodPost, "/power", `{"f64": -1}`); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a rejected setpoint, got %d", w.Code)
	}
	if w = do(r, http.MethodGet, "/serial-number", ""); w.Code != http.StatusNotFound && w.Code != http.StatusMethodNotAllowed {
		t.Errorf("serial route bound for a laser without one, got %d", w.Code)
	}
}

func TestPowerCeiling(t *testing.T) {
	f := &fakeLaser{}
	r := chi.NewRouter()
	laser.NewHTTPLaser(f, 50).RT().Bind(r)
	if w := do(r, http.MethodPost, "/power", `{"f64": 60}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 above the ceiling, got %d", w.Code)
	}
	if f.power != 0 {
		t.Errorf("a refused setpoint reached the device, power %g", f.power)
	}
	if w := do(r, http.MethodPost, "/power", `{"f64": 50}`); w.Code != http.StatusOK || f.power != 50 {
		t.Errorf("expected the ceiling itself to be accepted, got %d and %g", w.Code, f.power)
	}
}
