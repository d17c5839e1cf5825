//go:build spinnaker

/*Package spinnaker binds the FLIR Spinnaker C SDK to the genicam.Device interface.

The SDK's system singleton is reference counted by the SDK itself; every
Device holds one reference, dropped on Close.
*/
package spinnaker

/*
#cgo CFLAGS: -I/opt/spinnaker/include/spinc
#cgo LDFLAGS: -L/opt/spinnaker/lib -lSpinnaker_C
#include <stdlib.h>
#include <SpinnakerC.h>
*/
import "C"
import (
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/slscan/rig/genicam"
)

// LengthOfStringBuffers is how large a buffer to allocate when reading a
// string node whose length is not known ahead of time
const LengthOfStringBuffers = 256

// ErrCodes maps spinError values to their SDK names
var ErrCodes = map[SpinError]string{
	0:     "SPINNAKER_ERR_SUCCESS",
	-1001: "SPINNAKER_ERR_ERROR",
	-1002: "SPINNAKER_ERR_NOT_INITIALIZED",
	-1003: "SPINNAKER_ERR_NOT_IMPLEMENTED",
	-1004: "SPINNAKER_ERR_RESOURCE_IN_USE",
	-1005: "SPINNAKER_ERR_ACCESS_DENIED",
	-1006: "SPINNAKER_ERR_INVALID_HANDLE",
	-1007: "SPINNAKER_ERR_INVALID_ID",
	-1008: "SPINNAKER_ERR_NO_DATA",
	-1009: "SPINNAKER_ERR_INVALID_PARAMETER",
	-1010: "SPINNAKER_ERR_IO",
	-1011: "SPINNAKER_ERR_TIMEOUT",
	-1012: "SPINNAKER_ERR_ABORT",
	-1013: "SPINNAKER_ERR_INVALID_BUFFER",
	-1014: "SPINNAKER_ERR_NOT_AVAILABLE",
	-1015: "SPINNAKER_ERR_INVALID_ADDRESS",
	-1016: "SPINNAKER_ERR_BUFFER_TOO_SMALL",
	-1017: "SPINNAKER_ERR_INVALID_INDEX",
	-1018: "SPINNAKER_ERR_PARSING_CHUNK_DATA",
	-1019: "SPINNAKER_ERR_INVALID_VALUE",
	-1020: "SPINNAKER_ERR_RESOURCE_EXHAUSTED",
	-1021: "SPINNAKER_ERR_OUT_OF_MEMORY",
	-1022: "SPINNAKER_ERR_BUSY",
}

// SpinError is a Spinnaker status code
type SpinError int

func (e SpinError) Error() string {
	if s, ok := ErrCodes[e]; ok {
		return fmt.Sprintf("%d - %s", e, s)
	}
	return fmt.Sprintf("%d - UNKNOWN_ERROR_CODE", e)
}

// Error returns nil on success or the SpinError otherwise
func Error(code C.spinError) error {
	if code == C.SPINNAKER_ERR_SUCCESS {
		return nil
	}
	return SpinError(code)
}

// enrich prefixes an error with the call that produced it
func enrich(err error, call string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", call, err)
}

// Device is an initialized Spinnaker camera
type Device struct {
	sys    C.spinSystem
	list   C.spinCameraList
	cam    C.spinCamera
	nodes  C.spinNodeMapHandle
	closed bool
}

// Count returns the number of cameras the SDK enumerates
func Count() (int, error) {
	var sys C.spinSystem
	if err := Error(C.spinSystemGetInstance(&sys)); err != nil {
		return 0, enrich(err, "spinSystemGetInstance")
	}
	defer C.spinSystemReleaseInstance(sys)
	var list C.spinCameraList
	if err := Error(C.spinCameraListCreateEmpty(&list)); err != nil {
		return 0, enrich(err, "spinCameraListCreateEmpty")
	}
	defer C.spinCameraListDestroy(list)
	if err := Error(C.spinSystemGetCameras(sys, list)); err != nil {
		return 0, enrich(err, "spinSystemGetCameras")
	}
	defer C.spinCameraListClear(list)
	var n C.size_t
	err := Error(C.spinCameraListGetSize(list, &n))
	return int(n), enrich(err, "spinCameraListGetSize")
}

// Opener returns a genicam.Opener for the camera at index idx
func Opener(idx int) genicam.Opener {
	return func() (genicam.Device, error) {
		return Open(idx)
	}
}

// Open initializes the camera at index idx
func Open(idx int) (*Device, error) {
	d := &Device{}
	if err := Error(C.spinSystemGetInstance(&d.sys)); err != nil {
		return nil, enrich(err, "spinSystemGetInstance")
	}
	if err := Error(C.spinCameraListCreateEmpty(&d.list)); err != nil {
		C.spinSystemReleaseInstance(d.sys)
		return nil, enrich(err, "spinCameraListCreateEmpty")
	}
	fail := func(err error, call string) (*Device, error) {
		C.spinCameraListClear(d.list)
		C.spinCameraListDestroy(d.list)
		C.spinSystemReleaseInstance(d.sys)
		return nil, enrich(err, call)
	}
	if err := Error(C.spinSystemGetCameras(d.sys, d.list)); err != nil {
		return fail(err, "spinSystemGetCameras")
	}
	var n C.size_t
	if err := Error(C.spinCameraListGetSize(d.list, &n)); err != nil {
		return fail(err, "spinCameraListGetSize")
	}
	if idx < 0 || idx >= int(n) {
		return fail(fmt.Errorf("camera index %d exceeds the %d cameras found", idx, int(n)), "open")
	}
	if err := Error(C.spinCameraListGet(d.list, C.size_t(idx), &d.cam)); err != nil {
		return fail(err, "spinCameraListGet")
	}
	if err := Error(C.spinCameraInit(d.cam)); err != nil {
		C.spinCameraRelease(d.cam)
		return fail(err, "spinCameraInit")
	}
	if err := Error(C.spinCameraGetNodeMap(d.cam, &d.nodes)); err != nil {
		C.spinCameraDeInit(d.cam)
		C.spinCameraRelease(d.cam)
		return fail(err, "spinCameraGetNodeMap")
	}
	return d, nil
}

func (d *Device) node(name string) (C.spinNodeHandle, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var h C.spinNodeHandle
	err := Error(C.spinNodeMapGetNode(d.nodes, cname, &h))
	return h, enrich(err, "node "+name)
}

// GetFloat satisfies genicam.NodeMap
func (d *Device) GetFloat(name string) (float64, error) {
	h, err := d.node(name)
	if err != nil {
		return 0, err
	}
	var out C.double
	err = Error(C.spinFloatGetValue(h, &out))
	return float64(out), enrich(err, "get "+name)
}

// FloatRange satisfies genicam.FloatRanger
func (d *Device) FloatRange(name string) (float64, float64, error) {
	h, err := d.node(name)
	if err != nil {
		return 0, 0, err
	}
	var lo, hi C.double
	if err = enrich(Error(C.spinFloatGetMin(h, &lo)), "min "+name); err != nil {
		return 0, 0, err
	}
	err = enrich(Error(C.spinFloatGetMax(h, &hi)), "max "+name)
	return float64(lo), float64(hi), err
}

// SetFloat satisfies genicam.NodeMap
func (d *Device) SetFloat(name string, v float64) error {
	h, err := d.node(name)
	if err != nil {
		return err
	}
	return enrich(Error(C.spinFloatSetValue(h, C.double(v))), "set "+name)
}

// GetInt satisfies genicam.NodeMap
func (d *Device) GetInt(name string) (int64, error) {
	h, err := d.node(name)
	if err != nil {
		return 0, err
	}
	var out C.int64_t
	err = Error(C.spinIntegerGetValue(h, &out))
	return int64(out), enrich(err, "get "+name)
}

// SetInt satisfies genicam.NodeMap
func (d *Device) SetInt(name string, v int64) error {
	h, err := d.node(name)
	if err != nil {
		return err
	}
	return enrich(Error(C.spinIntegerSetValue(h, C.int64_t(v))), "set "+name)
}

// GetEnum satisfies genicam.NodeMap, returning the symbolic name of the
// current entry
func (d *Device) GetEnum(name string) (string, error) {
	h, err := d.node(name)
	if err != nil {
		return "", err
	}
	var entry C.spinNodeHandle
	if err = Error(C.spinEnumerationGetCurrentEntry(h, &entry)); err != nil {
		return "", enrich(err, "get "+name)
	}
	size := C.size_t(LengthOfStringBuffers)
	buf := (*C.char)(C.malloc(size))
	defer C.free(unsafe.Pointer(buf))
	err = Error(C.spinEnumerationEntryGetSymbolic(entry, buf, &size))
	return C.GoString(buf), enrich(err, "get "+name)
}

// SetEnum satisfies genicam.NodeMap
func (d *Device) SetEnum(name string, v string) error {
	h, err := d.node(name)
	if err != nil {
		return err
	}
	cv := C.CString(v)
	defer C.free(unsafe.Pointer(cv))
	var entry C.spinNodeHandle
	if err = Error(C.spinEnumerationGetEntryByName(h, cv, &entry)); err != nil {
		return enrich(err, fmt.Sprintf("entry %s of %s", v, name))
	}
	var val C.int64_t
	if err = Error(C.spinEnumerationEntryGetIntValue(entry, &val)); err != nil {
		return enrich(err, fmt.Sprintf("entry %s of %s", v, name))
	}
	return enrich(Error(C.spinEnumerationSetIntValue(h, val)), "set "+name)
}

// GetBool satisfies genicam.NodeMap
func (d *Device) GetBool(name string) (bool, error) {
	h, err := d.node(name)
	if err != nil {
		return false, err
	}
	var out C.bool8_t
	err = Error(C.spinBooleanGetValue(h, &out))
	return out != C.False, enrich(err, "get "+name)
}

// SetBool satisfies genicam.NodeMap
func (d *Device) SetBool(name string, v bool) error {
	h, err := d.node(name)
	if err != nil {
		return err
	}
	b := C.bool8_t(C.False)
	if v {
		b = C.True
	}
	return enrich(Error(C.spinBooleanSetValue(h, b)), "set "+name)
}

// GetString satisfies genicam.NodeMap
func (d *Device) GetString(name string) (string, error) {
	h, err := d.node(name)
	if err != nil {
		return "", err
	}
	size := C.size_t(LengthOfStringBuffers)
	buf := (*C.char)(C.malloc(size))
	defer C.free(unsafe.Pointer(buf))
	err = Error(C.spinStringGetValue(h, buf, &size))
	return C.GoString(buf), enrich(err, "get "+name)
}

// Execute satisfies genicam.NodeMap
func (d *Device) Execute(name string) error {
	h, err := d.node(name)
	if err != nil {
		return err
	}
	return enrich(Error(C.spinCommandExecute(h)), "execute "+name)
}

// BeginAcquisition satisfies genicam.Streamer
func (d *Device) BeginAcquisition() error {
	return enrich(Error(C.spinCameraBeginAcquisition(d.cam)), "spinCameraBeginAcquisition")
}

// EndAcquisition satisfies genicam.Streamer
func (d *Device) EndAcquisition() error {
	return enrich(Error(C.spinCameraEndAcquisition(d.cam)), "spinCameraEndAcquisition")
}

// Next satisfies genicam.Streamer, copying the next buffer out of the SDK
func (d *Device) Next(timeout time.Duration) (image.Image, error) {
	pixfmt, err := d.GetEnum(genicam.PixelFormat)
	if err != nil {
		return nil, err
	}
	var img C.spinImage
	ms := C.uint64_t(timeout / time.Millisecond)
	if err = Error(C.spinCameraGetNextImageEx(d.cam, ms, &img)); err != nil {
		return nil, enrich(err, "spinCameraGetNextImageEx")
	}
	defer C.spinImageRelease(img)
	var incomplete C.bool8_t
	if err = Error(C.spinImageIsIncomplete(img, &incomplete)); err != nil {
		return nil, enrich(err, "spinImageIsIncomplete")
	}
	if incomplete != C.False {
		return nil, enrich(SpinError(C.SPINNAKER_ERR_NO_DATA), "incomplete image")
	}
	var (
		w, h, size C.size_t
		data       unsafe.Pointer
	)
	C.spinImageGetWidth(img, &w)
	C.spinImageGetHeight(img, &h)
	C.spinImageGetBufferSize(img, &size)
	if err = Error(C.spinImageGetData(img, &data)); err != nil {
		return nil, enrich(err, "spinImageGetData")
	}
	buf := C.GoBytes(data, C.int(size))
	return genicam.FrameFromBuffer(pixfmt, int(w), int(h), buf)
}

// Grab satisfies genicam.Device: single frame mode, begin, next, end
func (d *Device) Grab(timeout time.Duration) (image.Image, error) {
	if d.closed {
		return nil, enrich(SpinError(C.SPINNAKER_ERR_INVALID_HANDLE), "grab")
	}
	if err := d.SetEnum(genicam.AcquisitionMode, genicam.SingleFrame); err != nil {
		return nil, err
	}
	if err := d.BeginAcquisition(); err != nil {
		return nil, err
	}
	frame, err := d.Next(timeout)
	if err2 := d.EndAcquisition(); err == nil {
		err = err2
	}
	return frame, err
}

// Close satisfies genicam.Device
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	var streaming C.bool8_t
	C.spinCameraIsStreaming(d.cam, &streaming)
	if streaming != C.False {
		C.spinCameraEndAcquisition(d.cam)
	}
	err := enrich(Error(C.spinCameraDeInit(d.cam)), "spinCameraDeInit")
	C.spinCameraRelease(d.cam)
	C.spinCameraListClear(d.list)
	C.spinCameraListDestroy(d.list)
	C.spinSystemReleaseInstance(d.sys)
	return err
}
