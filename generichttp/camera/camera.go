// Package camera provides a generic HTTP interface to a rig camera
package camera

import (
	"encoding/json"
	"fmt"
	"go/types"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"

	rig "github.com/slscan/rig/camera"
	"github.com/slscan/rig/generichttp"
	"github.com/slscan/rig/imgrec"
	"github.com/slscan/rig/util"
)

// MetadataMaker can produce an array of FITS cards
type MetadataMaker interface {
	// CollectHeaderMetadata produces an array of FITS cards
	CollectHeaderMetadata() []fitsio.Card
}

// CaptureRequest is the body of a POST to /capture
type CaptureRequest struct {
	// Name is the file stem.  A random one is issued if empty
	Name string `json:"name"`

	// SaveImage writes a PNG
	SaveImage bool `json:"saveImage"`

	// SaveRaw writes a FITS snapshot
	SaveRaw bool `json:"saveRaw"`

	// Calibration routes to the calibration directories
	Calibration bool `json:"calibration"`

	// Subfolder is the calibration subfolder
	Subfolder string `json:"subfolder"`

	// HDR captures with the configured bracket
	HDR bool `json:"hdr"`
}

// BracketT is the JSON form of an exposure bracket
type BracketT struct {
	// Exposures are durations parseable by util.ParseDuration
	Exposures []string `json:"exposures"`
}

// HTTPCamera wraps a camera adapter in an HTTP route table
type HTTPCamera struct {
	// Cam is the underlying camera
	Cam rig.Adapter

	// Rec, if not nil and active, records every FITS image served
	Rec *imgrec.Recorder

	// RouteTable maps URLs to functions
	RouteTable generichttp.RouteTable
}

// NewHTTPCamera returns a new HTTP wrapper around a camera
func NewHTTPCamera(c rig.Adapter, rec *imgrec.Recorder) HTTPCamera {
	h := HTTPCamera{Cam: c, Rec: rec}
	rt := generichttp.RouteTable{
		{Method: http.MethodGet, Path: "/exposure-time"}:  GetExposureTime(c),
		{Method: http.MethodPost, Path: "/exposure-time"}: SetExposureTime(c),
		{Method: http.MethodGet, Path: "/auto-exposure"}:  generichttp.GetBool(c.GetAutoExposure),
		{Method: http.MethodPost, Path: "/auto-exposure"}: SetAutoExposure(c),
		{Method: http.MethodGet, Path: "/gain"}:           generichttp.GetFloat(c.GetGain),
		{Method: http.MethodPost, Path: "/gain"}:          generichttp.SetFloat(c.SetGain),
		{Method: http.MethodPost, Path: "/auto-gain"}:     generichttp.Trigger(c.SetAutoGain),
		{Method: http.MethodGet, Path: "/fps"}:            generichttp.GetFloat(c.GetFPS),
		{Method: http.MethodPost, Path: "/fps"}:           generichttp.SetFloat(c.SetFPS),
		{Method: http.MethodGet, Path: "/resolution"}:     GetResolution(c),
		{Method: http.MethodPost, Path: "/resolution"}:    SetResolution(c),
		{Method: http.MethodGet, Path: "/bracket"}:        GetBracket(c),
		{Method: http.MethodPost, Path: "/bracket"}:       SetBracket(c),
		{Method: http.MethodPost, Path: "/bracket/auto"}:  AutoBracket(c),
		{Method: http.MethodGet, Path: "/image"}:          GetFrame(c, rec),
		{Method: http.MethodPost, Path: "/capture"}:       Capture(c),
		{Method: http.MethodGet, Path: "/status"}:         generichttp.Trigger(c.Status),
		{Method: http.MethodPost, Path: "/reopen"}:        generichttp.Trigger(c.Reopen),
		{Method: http.MethodGet, Path: "/exposure-unit"}: func(w http.ResponseWriter, r *http.Request) {
			hp := generichttp.HumanPayload{T: types.String, String: c.ExposureUnit().String()}
			hp.EncodeAndRespond(w, r)
		},
	}
	h.RouteTable = rt
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(h)
	}
	return h
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPCamera) RT() generichttp.RouteTable {
	return h.RouteTable
}

// SetExposureTime sets the exposure time on a POST request.
// it can be provided either as a query parameter exposureTime, formatted in a
// way that is parseable by util.ParseDuration, or a json payload with
// key f64, holding the exposure time in seconds.
func SetExposureTime(c rig.Configurer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		texp := r.URL.Query().Get("exposureTime")
		var (
			d   time.Duration
			err error
		)
		if texp == "" {
			f := generichttp.FloatT{}
			err = json.NewDecoder(r.Body).Decode(&f)
			defer r.Body.Close()
			d = util.SecsToDuration(f.F64)
		} else {
			d, err = util.ParseDuration(texp)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = c.SetExposure(d); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetExposureTime gets the exposure time in seconds on a GET request
func GetExposureTime(c rig.Configurer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := c.GetExposure()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: d.Seconds()}
		hp.EncodeAndRespond(w, r)
	}
}

// SetAutoExposure turns continuous auto exposure on with {"bool": true}.
// {"bool": false} pins the exposure at its current value.
func SetAutoExposure(c rig.Configurer) http.HandlerFunc {
	return generichttp.SetBool(func(on bool) error {
		if on {
			return c.SetAutoExposure()
		}
		d, err := c.GetExposure()
		if err != nil {
			return err
		}
		return c.SetExposure(d)
	})
}

// GetResolution returns the frame size as JSON
func GetResolution(c rig.Configurer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := c.GetResolution()
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(res)
	}
}

// SetResolution sets the frame size from JSON
func SetResolution(c rig.Configurer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := rig.Resolution{}
		err := json.NewDecoder(r.Body).Decode(&res)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err = c.SetResolution(res); err != nil {
			generichttp.Error(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBracket returns the configured exposure bracket
func GetBracket(c rig.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeBracket(w, c.Bracket())
	}
}

func writeBracket(w http.ResponseWriter, b rig.Bracket) {
	out := BracketT{Exposures: make([]string, len(b))}
	for i, d := range b {
		out.Exposures[i] = d.String()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// AutoBracket meters the scene with auto exposure and replaces the bracket
// with one spanning the metered exposure, replying with it.  The metering
// time may be given as the settle query parameter.
func AutoBracket(c rig.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ae, ok := c.(rig.AutoExposer)
		if !ok {
			generichttp.Error(w, fmt.Errorf("auto bracket: %w", rig.ErrUnsupported))
			return
		}
		settle := rig.DefaultMeterSettle
		if s := r.URL.Query().Get("settle"); s != "" {
			d, err := util.ParseDuration(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			settle = d
		}
		b, err := rig.AutoBracket(r.Context(), ae, settle)
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		c.SetBracket(b)
		writeBracket(w, b)
	}
}

// SetBracket replaces the exposure bracket.  An empty list clears it.
func SetBracket(c rig.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in := BracketT{}
		err := json.NewDecoder(r.Body).Decode(&in)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var b rig.Bracket
		for _, s := range in.Exposures {
			d, err := util.ParseDuration(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			b = append(b, d)
		}
		c.SetBracket(b)
		w.WriteHeader(http.StatusOK)
	}
}

// Capture takes a named, persisted capture and replies with its name
func Capture(c rig.Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := CaptureRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil && err != io.EOF {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			req.Name = uuid.NewString()
		}
		opts := rig.CaptureOptions{
			SaveImage:   req.SaveImage,
			SaveRaw:     req.SaveRaw,
			Calibration: req.Calibration,
			Subfolder:   req.Subfolder,
		}
		if req.HDR {
			_, err = c.CaptureHDR(c.Bracket(), req.Name, opts)
		} else {
			_, err = c.Capture(req.Name, opts)
		}
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		hp := generichttp.HumanPayload{T: types.String, String: req.Name}
		hp.EncodeAndRespond(w, r)
	}
}

// GetFrame takes a picture and returns it on a GET request.
//
// the image format may be specified in the fmt query parameter, one of
// jpg, png, or fits; default to jpg
//
// the exposure time may be specified as a query parameter in any time-looking
// format, such as "25ms" or "10us".  If no unit is given, seconds are assumed.
// if no exposure time is provided, it is not updated and the existing value is used.
func GetFrame(c rig.Adapter, rec *imgrec.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if texp := q.Get("exposureTime"); texp != "" {
			d, err := util.ParseDuration(texp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err = c.SetExposure(d); err != nil {
				generichttp.Error(w, err)
				return
			}
		}
		format := q.Get("fmt")
		if format == "" {
			format = "jpg"
		}
		if format != "jpg" && format != "png" && format != "fits" {
			http.Error(w, "fmt must be one of jpg, png, fits", http.StatusBadRequest)
			return
		}
		img, err := c.Capture("", rig.CaptureOptions{})
		if err != nil {
			generichttp.Error(w, err)
			return
		}
		view := img
		if f, ok := img.(*rig.FloatImage); ok {
			view = f.Normalized()
		}
		switch format {
		case "jpg":
			w.Header().Set("Content-Type", "image/jpeg")
			err = jpeg.Encode(w, view, nil)
		case "png":
			w.Header().Set("Content-Type", "image/png")
			err = png.Encode(w, view)
		case "fits":
			err = serveFITS(w, c, rec, img)
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// serveFITS streams img to w, and to the recorder if it is active.  Header
// cards come from c if it is a MetadataMaker.
func serveFITS(w http.ResponseWriter, c interface{}, rec *imgrec.Recorder, img image.Image) error {
	var w2 io.Writer = w
	if rec.Active() {
		w2 = io.MultiWriter(w, rec)
		defer rec.Incr()
	}
	var cards []fitsio.Card
	if carder, ok := c.(MetadataMaker); ok {
		cards = carder.CollectHeaderMetadata()
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "image/fits")
	hdr.Set("Content-Disposition", "attachment; filename=image.fits")
	return rig.WriteFITS(w2, cards, img)
}
