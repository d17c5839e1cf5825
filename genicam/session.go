package genicam

import (
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/slscan/rig/camera"
)

// Session owns exactly one device handle at a time.  Reopen always replaces
// the handle; resuming a handle that reported a system fault is unreliable on
// both SDKs.  Every call holds the session for the length of one device
// transaction, so HTTP handlers may share it.
type Session struct {
	// Name prefixes log lines, e.g. "basler"
	Name string

	// Retry is the policy for reopening.  nil uses DefaultRetry.
	Retry func() backoff.BackOff

	open Opener

	mu         sync.Mutex
	dev        Device
	generation int
}

// DefaultRetry backs off exponentially for up to three seconds, cameras on a
// busy USB3 or GigE link often need a moment after a close before they enumerate
func DefaultRetry() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// NewSession opens a device with open and returns the session owning it
func NewSession(name string, open Opener) (*Session, error) {
	s := &Session{Name: name, open: open}
	dev, err := open()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to open camera: %w", name, err)
	}
	s.dev = dev
	s.generation = 1
	return s, nil
}

// Device returns the current handle, nil if closed.  Use Do to talk to it.
func (s *Session) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// Do runs fn against the current handle with the session held
func (s *Session) Do(fn func(Device) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return camera.ErrClosed
	}
	return fn(s.dev)
}

// Generation increments every time a new handle is acquired
func (s *Session) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// IsOpen reports if a handle is held
func (s *Session) IsOpen() bool {
	return s.Device() != nil
}

// Release closes the handle
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.release()
}

func (s *Session) release() error {
	if s.dev == nil {
		return nil
	}
	err := s.dev.Close()
	s.dev = nil
	return err
}

// Reopen releases the handle and opens a new one
func (s *Session) Reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reopen()
}

func (s *Session) reopen() error {
	if err := s.release(); err != nil {
		log.Printf("%s: error closing camera before reopen: %v\n", s.Name, err)
	}
	policy := s.Retry
	if policy == nil {
		policy = DefaultRetry
	}
	var dev Device
	err := backoff.Retry(func() error {
		d, err := s.open()
		if err != nil {
			return err
		}
		dev = d
		return nil
	}, policy())
	if err != nil {
		return fmt.Errorf("%s: unable to reopen camera: %w", s.Name, err)
	}
	s.dev = dev
	s.generation++
	return nil
}

// Recover is called after a device fault.  It logs, reopens, and wraps the
// fault for the caller.
func (s *Session) Recover(op string, fault error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recover(op, fault)
}

func (s *Session) recover(op string, fault error) error {
	log.Printf("%s: %s failed, reopening camera: %v\n", s.Name, op, fault)
	if err := s.reopen(); err != nil {
		log.Println(err)
	}
	return &camera.FaultError{Op: op, Err: fault}
}

// Grab acquires one frame.  A closed session fails immediately with
// camera.ErrClosed.  Any SDK error triggers Recover.
func (s *Session) Grab(timeout time.Duration) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return nil, camera.ErrClosed
	}
	frame, err := s.dev.Grab(timeout)
	if err != nil {
		return nil, s.recover("grab", err)
	}
	return frame, nil
}

// nodes holds the session until the returned func is called
func (s *Session) nodes() (NodeMap, func(), error) {
	s.mu.Lock()
	if s.dev == nil {
		s.mu.Unlock()
		return nil, nil, camera.ErrClosed
	}
	return s.dev, s.mu.Unlock, nil
}

// GetFloat reads a float feature
func (s *Session) GetFloat(name string) (float64, error) {
	n, done, err := s.nodes()
	if err != nil {
		return 0, err
	}
	defer done()
	return n.GetFloat(name)
}

// SetFloat writes a float feature
func (s *Session) SetFloat(name string, v float64) error {
	n, done, err := s.nodes()
	if err != nil {
		return err
	}
	defer done()
	return n.SetFloat(name, v)
}

// GetInt reads an integer feature
func (s *Session) GetInt(name string) (int64, error) {
	n, done, err := s.nodes()
	if err != nil {
		return 0, err
	}
	defer done()
	return n.GetInt(name)
}

// SetInt writes an integer feature
func (s *Session) SetInt(name string, v int64) error {
	n, done, err := s.nodes()
	if err != nil {
		return err
	}
	defer done()
	return n.SetInt(name, v)
}

// GetEnum reads an enumeration feature's symbolic value
func (s *Session) GetEnum(name string) (string, error) {
	n, done, err := s.nodes()
	if err != nil {
		return "", err
	}
	defer done()
	return n.GetEnum(name)
}

// SetEnum writes an enumeration feature by symbolic value
func (s *Session) SetEnum(name string, v string) error {
	n, done, err := s.nodes()
	if err != nil {
		return err
	}
	defer done()
	return n.SetEnum(name, v)
}

// GetBool reads a boolean feature
func (s *Session) GetBool(name string) (bool, error) {
	n, done, err := s.nodes()
	if err != nil {
		return false, err
	}
	defer done()
	return n.GetBool(name)
}

// SetBool writes a boolean feature
func (s *Session) SetBool(name string, v bool) error {
	n, done, err := s.nodes()
	if err != nil {
		return err
	}
	defer done()
	return n.SetBool(name, v)
}

// GetString reads a string feature
func (s *Session) GetString(name string) (string, error) {
	n, done, err := s.nodes()
	if err != nil {
		return "", err
	}
	defer done()
	return n.GetString(name)
}

// Execute runs a command feature
func (s *Session) Execute(name string) error {
	n, done, err := s.nodes()
	if err != nil {
		return err
	}
	defer done()
	return n.Execute(name)
}
