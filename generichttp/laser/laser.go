// Package laser serves a probe laser over HTTP.  Powers are in mW.
package laser

import (
	"net/http"

	rig "github.com/slscan/rig/camera"
	"github.com/slscan/rig/generichttp"
)

// Emitter can switch its output on and off
type Emitter interface {
	SetEmission(bool) error
	GetEmission() (bool, error)
}

// Powered has an adjustable output, in mW
type Powered interface {
	SetPower(float64) error
	GetPower() (float64, error)
}

// Targeted reports its setpoint separately from the measured output, in mW
type Targeted interface {
	GetTargetPower() (float64, error)
}

// Identified reports a serial number
type Identified interface {
	SerialNumber() (string, error)
}

// HTTPLaser is the route table of a laser.  Routes for power, setpoint and
// serial number are present only if the laser implements Powered, Targeted
// and Identified.
type HTTPLaser struct {
	// MaxPower, if nonzero, is the ceiling on POST /power.  Requests above it
	// are refused with 400 without reaching the device.
	MaxPower float64

	rt generichttp.RouteTable
}

// NewHTTPLaser builds the route table for l
func NewHTTPLaser(l Emitter, maxPower float64) *HTTPLaser {
	h := &HTTPLaser{MaxPower: maxPower}
	h.rt = generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/emission"}:  generichttp.GetBool(l.GetEmission),
		{Method: http.MethodPost, Path: "/emission"}: generichttp.SetBool(l.SetEmission),
	}
	if p, ok := l.(Powered); ok {
		h.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/power"}] = generichttp.GetFloat(p.GetPower)
		h.rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/power"}] = generichttp.SetFloat(h.limit(p.SetPower))
	}
	if t, ok := l.(Targeted); ok {
		h.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/power/target"}] = generichttp.GetFloat(t.GetTargetPower)
	}
	if id, ok := l.(Identified); ok {
		h.rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/serial-number"}] = generichttp.GetString(id.SerialNumber)
	}
	return h
}

func (h *HTTPLaser) limit(set func(float64) error) func(float64) error {
	return func(mW float64) error {
		if h.MaxPower > 0 && mW > h.MaxPower {
			return rig.Configurationf("%g mW exceeds the %g mW ceiling", mW, h.MaxPower)
		}
		return set(mW)
	}
}

// RT satisfies generichttp.HTTPer
func (h *HTTPLaser) RT() generichttp.RouteTable {
	return h.rt
}
