package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/theckman/yacspin"

	"github.com/slscan/rig/generichttp"
	"github.com/slscan/rig/probe"
	"github.com/slscan/rig/projection"
	"github.com/slscan/rig/server/middleware/locker"
)

// runSequence projects the screen's stack with the laser, if any, emitting
// at power mW for the duration.  spin may be nil.
func runSequence(ctx context.Context, scr *projection.Screen, cam projection.Camera, las *probe.Laser, power float64, spin *yacspin.Spinner) error {
	if las != nil {
		if err := las.SetPower(power); err != nil {
			return err
		}
		if err := las.SetEmission(true); err != nil {
			return err
		}
		defer func() {
			if err := las.SetEmission(false); err != nil {
				log.Println("error turning laser off", err)
			}
		}()
	}
	if spin != nil {
		spin.Start()
		prev := scr.OnStep
		scr.OnStep = func(i, depth int) {
			spin.Message(fmt.Sprintf("pattern %d of %d", i+1, depth))
			if prev != nil {
				prev(i, depth)
			}
		}
		defer func() { scr.OnStep = prev }()
	}
	err := scr.Run(ctx, cam)
	if spin != nil {
		if err != nil {
			spin.StopFail()
		} else {
			spin.Stop()
		}
	}
	return err
}

// SequenceStatus is the JSON reply of GET /sequence
type SequenceStatus struct {
	Running bool   `json:"running"`
	Step    int    `json:"step"`
	Depth   int    `json:"depth"`
	Err     string `json:"err,omitempty"`
}

// sequencer runs projection sequences on behalf of HTTP clients.  While one
// runs it holds the locker, so every other route replies 423.
type sequencer struct {
	ctx   context.Context
	scr   *projection.Screen
	cam   projection.Camera
	las   *probe.Laser
	power float64
	lk    *locker.Locker

	mu     sync.Mutex
	status SequenceStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func newSequencer(ctx context.Context, scr *projection.Screen, cam projection.Camera, las *probe.Laser, power float64, lk *locker.Locker) *sequencer {
	s := &sequencer{ctx: ctx, scr: scr, cam: cam, las: las, power: power, lk: lk}
	scr.OnStep = func(i, depth int) {
		s.mu.Lock()
		s.status.Step = i + 1
		s.status.Depth = depth
		s.mu.Unlock()
	}
	lk.DoNotProtect = append(lk.DoNotProtect, "sequence")
	return s
}

// Inject adds the sequence routes to other
func (s *sequencer) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/sequence"}] = s.HTTPStatus
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/sequence"}] = s.HTTPStart
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/sequence/cancel"}] = s.HTTPCancel
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/sequence/reset"}] = s.HTTPReset
}

// Start begins a sequence in the background.  It returns false if the rig
// is already locked.
func (s *sequencer) Start() bool {
	if !s.lk.TryLock("sequence") {
		return false
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.status = SequenceStatus{Running: true}
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()
	go func() {
		defer close(done)
		defer s.lk.Unlock()
		defer cancel()
		err := runSequence(ctx, s.scr, s.cam, s.las, s.power, nil)
		s.mu.Lock()
		s.status.Running = false
		if err != nil {
			s.status.Err = err.Error()
			log.Println("sequence ended with error", err)
		}
		s.mu.Unlock()
	}()
	return true
}

// Wait blocks until the running sequence, if any, has returned
func (s *sequencer) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the progress of the last sequence
func (s *sequencer) Status() SequenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// HTTPStart starts a sequence and replies 202, or 423 if the rig is busy
func (s *sequencer) HTTPStart(w http.ResponseWriter, r *http.Request) {
	if !s.Start() {
		http.Error(w, "the rig is busy running a sequence", http.StatusLocked)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HTTPStatus replies with the SequenceStatus as JSON
func (s *sequencer) HTTPStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Status()); err != nil {
		log.Println("error encoding sequence status", err)
	}
}

// HTTPCancel stops the running sequence at its next step boundary
func (s *sequencer) HTTPCancel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPReset rewinds the pattern cursor.  It is refused while a sequence runs.
func (s *sequencer) HTTPReset(w http.ResponseWriter, r *http.Request) {
	if !s.lk.TryLock("sequence reset") {
		http.Error(w, "the rig is busy running a sequence", http.StatusLocked)
		return
	}
	defer s.lk.Unlock()
	s.scr.Reset()
	s.mu.Lock()
	s.status = SequenceStatus{}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
