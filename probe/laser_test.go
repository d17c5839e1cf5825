package probe_test

import (
	"bufio"
	"math"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/slscan/rig/comm"
	"github.com/slscan/rig/probe"
)

// fakeLaser speaks enough of the laser's protocol to exercise Laser
type fakeLaser struct {
	mu     sync.Mutex
	cmds   []string
	target float64
	on     bool
}

func (f *fakeLaser) reply(cmd string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	switch {
	case cmd == "cf", cmd == "@cob1":
		return "OK"
	case cmd == "l1", cmd == "l0":
		f.on = cmd == "l1"
		return "OK"
	case cmd == "l?":
		if f.on {
			return "1"
		}
		return "0"
	case cmd == "p?":
		return strconv.FormatFloat(f.target, 'f', 4, 64)
	case cmd == "pa?":
		return strconv.FormatFloat(f.target*0.5, 'f', 4, 64)
	case cmd == "gsn?":
		return "20417"
	case strings.HasPrefix(cmd, "p "):
		v, err := strconv.ParseFloat(cmd[2:], 64)
		if err != nil {
			return "Syntax error: bad value"
		}
		f.target = v
		return "OK"
	}
	return "Syntax error: illegal command"
}

func (f *fakeLaser) journal() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func newLaser(t *testing.T) (*probe.Laser, *fakeLaser) {
	t.Helper()
	f := &fakeLaser{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				sc := bufio.NewScanner(conn)
				for sc.Scan() {
					line := strings.TrimSuffix(sc.Text(), "\r")
					conn.Write([]byte(f.reply(line) + "\r\n"))
				}
			}()
		}
	}()
	return &probe.Laser{Link: comm.NewTCPLink(ln.Addr().String())}, f
}

func TestOpenPreparesLaser(t *testing.T) {
	l, f := newLaser(t)
	f.target = 0.3
	if err := l.Open(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	want := []string{"cf", "@cob1", "p 0.0", "gsn?"}
	if got := f.journal(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v got %v", want, got)
	}
	p, err := l.GetTargetPower()
	if err != nil {
		t.Fatal(err)
	}
	if p != 0 {
		t.Errorf("expected a zero setpoint after open, got %g mW", p)
	}
}

func TestPowerIsMilliwatts(t *testing.T) {
	l, f := newLaser(t)
	if err := l.Open(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if err := l.SetPower(25); err != nil {
		t.Fatal(err)
	}
	j := f.journal()
	if last := j[len(j)-1]; last != "p 0.025" {
		t.Errorf("expected the setpoint in watts, sent %q", last)
	}
	target, err := l.GetTargetPower()
	if err != nil {
		t.Fatal(err)
	}
	actual, err := l.GetPower()
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(target-25) > 1e-9 || math.Abs(actual-12.5) > 1e-9 {
		t.Errorf("expected 25 and 12.5 mW, got %g and %g", target, actual)
	}
	for _, bad := range []float64{-1, math.NaN()} {
		if err = l.SetPower(bad); err == nil {
			t.Errorf("expected %g mW to be rejected", bad)
		}
	}
}

func TestEmission(t *testing.T) {
	l, _ := newLaser(t)
	if err := l.Open(); err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	if err := l.SetEmission(true); err != nil {
		t.Fatal(err)
	}
	on, err := l.GetEmission()
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("expected emission on")
	}
	sn, err := l.SerialNumber()
	if err != nil || sn != "20417" {
		t.Errorf("expected serial 20417, got %q %v", sn, err)
	}
}

func TestCloseTurnsOff(t *testing.T) {
	l, f := newLaser(t)
	if err := l.Open(); err != nil {
		t.Fatal(err)
	}
	l.SetEmission(true)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	j := f.journal()
	if tail := j[len(j)-2:]; !reflect.DeepEqual(tail, []string{"cf", "l0"}) {
		t.Errorf("expected cf, l0 on close, got %v", tail)
	}
	if l.IsOpen() {
		t.Error("port left open")
	}
	if err := l.Close(); err != nil {
		t.Errorf("closing twice should be harmless, got %v", err)
	}
}
