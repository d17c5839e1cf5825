//go:build pylon

/*Package pylon binds the Basler pylon C SDK to the genicam.Device interface.

Initialize must be called once per process before OpenFirst, and Terminate
at exit.
*/
package pylon

/*
#cgo CFLAGS: -I/opt/pylon/include
#cgo LDFLAGS: -L/opt/pylon/lib -lpylonc
#include <stdlib.h>
#include <pylonc/PylonC.h>

static int grabbed(PylonGrabResult_t *r) {
	return r->Status == Grabbed;
}
*/
import "C"
import (
	"errors"
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/slscan/rig/genicam"
)

// LengthOfStringBuffers is how large a buffer to allocate when reading a
// string feature whose length is not known ahead of time
const LengthOfStringBuffers = 256

// ErrNoDevice is generated when no camera is enumerated
var ErrNoDevice = errors.New("pylon: no camera found")

// GenAPIError is a pylon C status code with the SDK's last error message
type GenAPIError struct {
	Code int
	Msg  string
	Op   string
}

// Error satisfies the error interface
func (e GenAPIError) Error() string {
	return fmt.Sprintf("pylon %s: 0x%08X - %s", e.Op, uint32(e.Code), e.Msg)
}

// check converts a GENAPIC_RESULT into an error, nil on success
func check(code C.GENAPIC_RESULT, op string) error {
	if code == C.GENAPI_E_OK {
		return nil
	}
	var size C.size_t = LengthOfStringBuffers
	buf := (*C.char)(C.malloc(C.size_t(LengthOfStringBuffers)))
	defer C.free(unsafe.Pointer(buf))
	C.GenApiGetLastErrorMessage(buf, &size)
	return GenAPIError{Code: int(code), Msg: C.GoString(buf), Op: op}
}

// Initialize calls PylonInitialize
func Initialize() error {
	return check(C.PylonInitialize(), "PylonInitialize")
}

// Terminate calls PylonTerminate
func Terminate() error {
	return check(C.PylonTerminate(), "PylonTerminate")
}

// Device is an open pylon camera
type Device struct {
	h      C.PYLON_DEVICE_HANDLE
	closed bool
}

// OpenFirst opens the first enumerated camera for control and streaming.
// It satisfies genicam.Opener.
func OpenFirst() (genicam.Device, error) {
	var n C.size_t
	if err := check(C.PylonEnumerateDevices(&n), "PylonEnumerateDevices"); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoDevice
	}
	d := &Device{}
	if err := check(C.PylonCreateDeviceByIndex(0, &d.h), "PylonCreateDeviceByIndex"); err != nil {
		return nil, err
	}
	mode := C.int(C.PYLONC_ACCESS_MODE_CONTROL | C.PYLONC_ACCESS_MODE_STREAM)
	if err := check(C.PylonDeviceOpen(d.h, mode), "PylonDeviceOpen"); err != nil {
		C.PylonDestroyDevice(d.h)
		return nil, err
	}
	return d, nil
}

func cstr(s string) (*C.char, func()) {
	c := C.CString(s)
	return c, func() { C.free(unsafe.Pointer(c)) }
}

// GetFloat satisfies genicam.NodeMap
func (d *Device) GetFloat(name string) (float64, error) {
	n, free := cstr(name)
	defer free()
	var out C.double
	err := check(C.PylonDeviceGetFloatFeature(d.h, n, &out), "get "+name)
	return float64(out), err
}

// FloatRange satisfies genicam.FloatRanger
func (d *Device) FloatRange(name string) (float64, float64, error) {
	n, free := cstr(name)
	defer free()
	var lo, hi C.double
	if err := check(C.PylonDeviceGetFloatFeatureMin(d.h, n, &lo), "min "+name); err != nil {
		return 0, 0, err
	}
	err := check(C.PylonDeviceGetFloatFeatureMax(d.h, n, &hi), "max "+name)
	return float64(lo), float64(hi), err
}

// SetFloat satisfies genicam.NodeMap
func (d *Device) SetFloat(name string, v float64) error {
	n, free := cstr(name)
	defer free()
	return check(C.PylonDeviceSetFloatFeature(d.h, n, C.double(v)), "set "+name)
}

// GetInt satisfies genicam.NodeMap
func (d *Device) GetInt(name string) (int64, error) {
	n, free := cstr(name)
	defer free()
	var out C.int64_t
	err := check(C.PylonDeviceGetIntegerFeature(d.h, n, &out), "get "+name)
	return int64(out), err
}

// SetInt satisfies genicam.NodeMap
func (d *Device) SetInt(name string, v int64) error {
	n, free := cstr(name)
	defer free()
	return check(C.PylonDeviceSetIntegerFeature(d.h, n, C.int64_t(v)), "set "+name)
}

// GetEnum satisfies genicam.NodeMap.  pylon C reads enumerations through
// their string representation.
func (d *Device) GetEnum(name string) (string, error) {
	return d.GetString(name)
}

// SetEnum satisfies genicam.NodeMap
func (d *Device) SetEnum(name string, v string) error {
	n, free := cstr(name)
	defer free()
	val, freeVal := cstr(v)
	defer freeVal()
	return check(C.PylonDeviceFeatureFromString(d.h, n, val), "set "+name)
}

// GetBool satisfies genicam.NodeMap
func (d *Device) GetBool(name string) (bool, error) {
	n, free := cstr(name)
	defer free()
	var out C._Bool
	err := check(C.PylonDeviceGetBooleanFeature(d.h, n, &out), "get "+name)
	return bool(out), err
}

// SetBool satisfies genicam.NodeMap
func (d *Device) SetBool(name string, v bool) error {
	n, free := cstr(name)
	defer free()
	return check(C.PylonDeviceSetBooleanFeature(d.h, n, C._Bool(v)), "set "+name)
}

// GetString satisfies genicam.NodeMap
func (d *Device) GetString(name string) (string, error) {
	n, free := cstr(name)
	defer free()
	var size C.size_t = LengthOfStringBuffers
	buf := (*C.char)(C.malloc(C.size_t(LengthOfStringBuffers)))
	defer C.free(unsafe.Pointer(buf))
	if err := check(C.PylonDeviceFeatureToString(d.h, n, buf, &size), "get "+name); err != nil {
		return "", err
	}
	return C.GoString(buf), nil
}

// Execute satisfies genicam.NodeMap
func (d *Device) Execute(name string) error {
	n, free := cstr(name)
	defer free()
	return check(C.PylonDeviceExecuteCommandFeature(d.h, n), "execute "+name)
}

// Grab satisfies genicam.Device using PylonDeviceGrabSingleFrame, which
// arms, waits, and disarms in one call
func (d *Device) Grab(timeout time.Duration) (image.Image, error) {
	if d.closed {
		return nil, GenAPIError{Code: -1, Msg: "device handle is closed", Op: "grab"}
	}
	payload, err := d.GetInt("PayloadSize")
	if err != nil {
		return nil, err
	}
	pixfmt, err := d.GetEnum(genicam.PixelFormat)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, payload)
	var (
		result C.PylonGrabResult_t
		ready  C._Bool
	)
	ms := C.uint32_t(timeout / time.Millisecond)
	err = check(C.PylonDeviceGrabSingleFrame(d.h, 0, unsafe.Pointer(&buf[0]), C.size_t(payload), &result, &ready, ms), "grab")
	if err != nil {
		return nil, err
	}
	if !bool(ready) {
		return nil, GenAPIError{Code: -1, Msg: fmt.Sprintf("no frame within %v", timeout), Op: "grab"}
	}
	if C.grabbed(&result) == 0 {
		return nil, GenAPIError{Code: int(result.ErrorCode), Msg: "frame not grabbed", Op: "grab"}
	}
	return genicam.FrameFromBuffer(pixfmt, int(result.SizeX), int(result.SizeY), buf)
}

// SaveFeatures satisfies genicam.FeatureSaver with pylon's feature persistence
func (d *Device) SaveFeatures(path string) error {
	var nodes C.NODEMAP_HANDLE
	if err := check(C.PylonDeviceGetNodeMap(d.h, &nodes), "PylonDeviceGetNodeMap"); err != nil {
		return err
	}
	p, free := cstr(path)
	defer free()
	return check(C.PylonFeaturePersistenceSave(nodes, p), "PylonFeaturePersistenceSave")
}

// Close satisfies genicam.Device
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	err := check(C.PylonDeviceClose(d.h), "PylonDeviceClose")
	if err2 := check(C.PylonDestroyDevice(d.h), "PylonDestroyDevice"); err == nil {
		err = err2
	}
	return err
}
