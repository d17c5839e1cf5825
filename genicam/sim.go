package genicam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io/ioutil"
	"math"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	// ErrSimClosed is returned by a Sim used after Close
	ErrSimClosed = errors.New("simulated device handle is closed")

	// ErrSimTimeout is returned by a grab the Sim was told to fail
	ErrSimTimeout = errors.New("simulated grab timed out")
)

// Limits bounds the range of a numeric feature on the simulator
type Limits struct {
	Min, Max float64
}

// SimLimits are the feature ranges enforced by Sim, in node units
var SimLimits = map[string]Limits{
	ExposureTime:         {Min: 10, Max: 10e6},
	Gain:                 {Min: 0, Max: 48},
	AcquisitionFrameRate: {Min: 1, Max: 500},
}

// SimFactory opens Sim devices.  It remembers every handle it produced and
// keeps one journal of device transactions across all of them, so a test can
// see reopen and reconfiguration order.
type SimFactory struct {
	// Width and Height are the sensor size.  Zero defaults to 64x48
	Width, Height int

	// Model is reported as DeviceModelName
	Model string

	// FailOpens is the number of upcoming opens that will fail
	FailOpens int

	mu      sync.Mutex
	opened  []*Sim
	journal []string
}

// Open satisfies Opener
func (f *SimFactory) Open() (Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailOpens > 0 {
		f.FailOpens--
		return nil, errors.New("simulated device not found")
	}
	w, h := f.Width, f.Height
	if w == 0 || h == 0 {
		w, h = 64, 48
	}
	model := f.Model
	if model == "" {
		model = "sim"
	}
	s := &Sim{
		ID:      len(f.opened) + 1,
		factory: f,
		floats: map[string]float64{
			ExposureTime:         1000,
			Gain:                 0,
			AcquisitionFrameRate: 30,
		},
		ints: map[string]int64{
			Width:     int64(w),
			Height:    int64(h),
			WidthMax:  int64(w),
			HeightMax: int64(h),
		},
		enums: map[string]string{
			ExposureAuto:    Off,
			GainAuto:        Off,
			AcquisitionMode: SingleFrame,
			PixelFormat:     Mono8,
		},
		strs: map[string]string{
			DeviceModelName:    model,
			DeviceSerialNumber: fmt.Sprintf("SIM%04d", len(f.opened)+1),
		},
		bools: map[string]bool{
			AcquisitionFrameRateEnable: false,
			GammaEnable:                true,
		},
	}
	f.opened = append(f.opened, s)
	f.record("open %d", s.ID)
	return s, nil
}

// Opened returns every handle the factory produced, oldest first
func (f *SimFactory) Opened() []*Sim {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Sim, len(f.opened))
	copy(out, f.opened)
	return out
}

// Latest returns the most recently opened handle
func (f *SimFactory) Latest() *Sim {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.opened) == 0 {
		return nil
	}
	return f.opened[len(f.opened)-1]
}

// Journal returns the transaction log
func (f *SimFactory) Journal() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.journal))
	copy(out, f.journal)
	return out
}

// ResetJournal clears the transaction log
func (f *SimFactory) ResetJournal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.journal = nil
}

// record must be called with mu held
func (f *SimFactory) record(format string, args ...interface{}) {
	f.journal = append(f.journal, fmt.Sprintf(format, args...))
}

// Sim is an in-memory GenICam device.  Frames are a deterministic diagonal
// ramp whose brightness scales with exposure time and gain, so a bracket
// yields visibly different frames.
type Sim struct {
	// ID is the handle number, 1 for the first handle a factory opened
	ID int

	// FailGrabs is the number of upcoming grabs that will time out
	FailGrabs int

	// Grabs counts successful frames
	Grabs int

	factory *SimFactory
	reads   int
	closed  bool
	armed   bool
	floats  map[string]float64
	ints    map[string]int64
	enums   map[string]string
	bools   map[string]bool
	strs    map[string]string
}

func (s *Sim) lock() func() {
	s.factory.mu.Lock()
	return s.factory.mu.Unlock
}

// Reads counts node reads, including failed ones
func (s *Sim) Reads() int {
	defer s.lock()()
	return s.reads
}

// Closed reports if Close was called
func (s *Sim) Closed() bool {
	defer s.lock()()
	return s.closed
}

// GetFloat satisfies NodeMap
func (s *Sim) GetFloat(name string) (float64, error) {
	defer s.lock()()
	s.reads++
	if s.closed {
		return 0, ErrSimClosed
	}
	v, ok := s.floats[name]
	if !ok {
		return 0, fmt.Errorf("float node %q not found", name)
	}
	return v, nil
}

// SetFloat satisfies NodeMap.  Out of range values are rejected as the
// device would.
func (s *Sim) SetFloat(name string, v float64) error {
	defer s.lock()()
	if s.closed {
		return ErrSimClosed
	}
	if _, ok := s.floats[name]; !ok {
		return fmt.Errorf("float node %q not found", name)
	}
	if lim, ok := SimLimits[name]; ok && (v < lim.Min || v > lim.Max) {
		return fmt.Errorf("%s value %g out of range [%g, %g]", name, v, lim.Min, lim.Max)
	}
	if name == AcquisitionFrameRate && !s.bools[AcquisitionFrameRateEnable] {
		return fmt.Errorf("%s is not writable while %s is false", name, AcquisitionFrameRateEnable)
	}
	s.floats[name] = v
	s.factory.record("set %s %g", name, v)
	return nil
}

// FloatRange satisfies FloatRanger
func (s *Sim) FloatRange(name string) (float64, float64, error) {
	defer s.lock()()
	s.reads++
	if s.closed {
		return 0, 0, ErrSimClosed
	}
	lim, ok := SimLimits[name]
	if !ok {
		return 0, 0, fmt.Errorf("float node %q has no published range", name)
	}
	return lim.Min, lim.Max, nil
}

// GetInt satisfies NodeMap
func (s *Sim) GetInt(name string) (int64, error) {
	defer s.lock()()
	s.reads++
	if s.closed {
		return 0, ErrSimClosed
	}
	v, ok := s.ints[name]
	if !ok {
		return 0, fmt.Errorf("integer node %q not found", name)
	}
	return v, nil
}

// SetInt satisfies NodeMap
func (s *Sim) SetInt(name string, v int64) error {
	defer s.lock()()
	if s.closed {
		return ErrSimClosed
	}
	if _, ok := s.ints[name]; !ok {
		return fmt.Errorf("integer node %q not found", name)
	}
	switch name {
	case WidthMax, HeightMax:
		return fmt.Errorf("%s is read only", name)
	case Width:
		if v < 1 || v > s.ints[WidthMax] {
			return fmt.Errorf("%s value %d out of range [1, %d]", name, v, s.ints[WidthMax])
		}
	case Height:
		if v < 1 || v > s.ints[HeightMax] {
			return fmt.Errorf("%s value %d out of range [1, %d]", name, v, s.ints[HeightMax])
		}
	}
	s.ints[name] = v
	s.factory.record("set %s %d", name, v)
	return nil
}

// GetEnum satisfies NodeMap
func (s *Sim) GetEnum(name string) (string, error) {
	defer s.lock()()
	s.reads++
	if s.closed {
		return "", ErrSimClosed
	}
	v, ok := s.enums[name]
	if !ok {
		return "", fmt.Errorf("enumeration node %q not found", name)
	}
	return v, nil
}

// SetEnum satisfies NodeMap
func (s *Sim) SetEnum(name string, v string) error {
	defer s.lock()()
	if s.closed {
		return ErrSimClosed
	}
	if _, ok := s.enums[name]; !ok {
		return fmt.Errorf("enumeration node %q not found", name)
	}
	switch name {
	case ExposureAuto, GainAuto:
		if v != Off && v != Once && v != Continuous {
			return fmt.Errorf("%q is not an entry of %s", v, name)
		}
		if v == Once {
			// the device settles and drops back to Off
			s.factory.record("set %s %s", name, v)
			s.enums[name] = Off
			return nil
		}
	case PixelFormat:
		if v != Mono8 && v != Mono16 && v != RGB8 && v != BayerRG {
			return fmt.Errorf("%q is not an entry of %s", v, name)
		}
	}
	s.enums[name] = v
	s.factory.record("set %s %s", name, v)
	return nil
}

// GetBool satisfies NodeMap
func (s *Sim) GetBool(name string) (bool, error) {
	defer s.lock()()
	s.reads++
	if s.closed {
		return false, ErrSimClosed
	}
	v, ok := s.bools[name]
	if !ok {
		return false, fmt.Errorf("boolean node %q not found", name)
	}
	return v, nil
}

// SetBool satisfies NodeMap
func (s *Sim) SetBool(name string, v bool) error {
	defer s.lock()()
	if s.closed {
		return ErrSimClosed
	}
	if _, ok := s.bools[name]; !ok {
		return fmt.Errorf("boolean node %q not found", name)
	}
	s.bools[name] = v
	s.factory.record("set %s %t", name, v)
	return nil
}

// GetString satisfies NodeMap
func (s *Sim) GetString(name string) (string, error) {
	defer s.lock()()
	s.reads++
	if s.closed {
		return "", ErrSimClosed
	}
	v, ok := s.strs[name]
	if !ok {
		return "", fmt.Errorf("string node %q not found", name)
	}
	return v, nil
}

// Execute satisfies NodeMap.  The simulator has no command nodes other than
// the acquisition pair.
func (s *Sim) Execute(name string) error {
	switch name {
	case "AcquisitionStart":
		return s.BeginAcquisition()
	case "AcquisitionStop":
		return s.EndAcquisition()
	}
	return fmt.Errorf("command node %q not found", name)
}

// Grab satisfies Device
func (s *Sim) Grab(timeout time.Duration) (image.Image, error) {
	defer s.lock()()
	return s.frame()
}

// BeginAcquisition satisfies Streamer
func (s *Sim) BeginAcquisition() error {
	defer s.lock()()
	if s.closed {
		return ErrSimClosed
	}
	s.armed = true
	s.factory.record("begin %d", s.ID)
	return nil
}

// Next satisfies Streamer
func (s *Sim) Next(timeout time.Duration) (image.Image, error) {
	defer s.lock()()
	if !s.armed {
		return nil, errors.New("acquisition not started")
	}
	return s.frame()
}

// EndAcquisition satisfies Streamer
func (s *Sim) EndAcquisition() error {
	defer s.lock()()
	s.armed = false
	s.factory.record("end %d", s.ID)
	return nil
}

// SaveFeatures satisfies FeatureSaver, writing the node map as YAML
func (s *Sim) SaveFeatures(path string) error {
	defer s.lock()()
	if s.closed {
		return ErrSimClosed
	}
	dump := map[string]interface{}{}
	for k, v := range s.floats {
		dump[k] = v
	}
	for k, v := range s.ints {
		dump[k] = v
	}
	for k, v := range s.enums {
		dump[k] = v
	}
	for k, v := range s.bools {
		dump[k] = v
	}
	for k, v := range s.strs {
		dump[k] = v
	}
	b, err := yaml.Marshal(dump)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, b, 0644)
}

// Close satisfies Device
func (s *Sim) Close() error {
	defer s.lock()()
	if s.closed {
		return ErrSimClosed
	}
	s.closed = true
	s.factory.record("close %d", s.ID)
	return nil
}

// frame must be called with the lock held
func (s *Sim) frame() (image.Image, error) {
	if s.closed {
		return nil, ErrSimClosed
	}
	if s.FailGrabs > 0 {
		s.FailGrabs--
		s.factory.record("grab %d failed", s.ID)
		return nil, ErrSimTimeout
	}
	w, h := int(s.ints[Width]), int(s.ints[Height])
	// 1 ms at unity gain puts the brightest pixel at full scale
	scale := s.floats[ExposureTime] / 1000 * dbToLinear(s.floats[Gain])
	span := float64(w + h - 2)
	if span < 1 {
		span = 1
	}
	level := func(x, y int) float64 {
		v := float64(x+y) / span * scale
		if v > 1 {
			v = 1
		}
		return v
	}
	var img image.Image
	switch s.enums[PixelFormat] {
	case Mono16:
		im := image.NewGray16(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				binary.BigEndian.PutUint16(im.Pix[y*im.Stride+2*x:], uint16(level(x, y)*65535))
			}
		}
		img = im
	case RGB8, BayerRG:
		im := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := byte(level(x, y) * 255)
				off := y*im.Stride + 4*x
				im.Pix[off], im.Pix[off+1], im.Pix[off+2], im.Pix[off+3] = v, v/2, 255-v, 255
			}
		}
		img = im
	default:
		im := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				im.Pix[y*im.Stride+x] = byte(level(x, y) * 255)
			}
		}
		img = im
	}
	s.Grabs++
	s.factory.record("grab %d", s.ID)
	return img, nil
}

func dbToLinear(db float64) float64 {
	// 20 log10 amplitude
	return math.Pow(10, db/20)
}
