/*Package probe contains the auxiliary instruments that illuminate the scene
alongside the projector.

Laser drives a Cobolt-style diode laser over its ASCII serial protocol.
Commands and responses are CR LF terminated.  Power is exchanged with the
device in watts and with callers in milliwatts.
*/
package probe

import (
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/slscan/rig/comm"
	"github.com/slscan/rig/mathx"
)

// DefaultBaud is the line rate of the laser's USB serial port
const DefaultBaud = 115200

// powerResolution is the finest power step in mW the laser reports
const powerResolution = 1e-4

// Laser is a serial diode laser
type Laser struct {
	*comm.Link

	// Verbose logs every command and response
	Verbose bool
}

// NewLaser returns a Laser on the serial device at addr.  A zero baud means
// DefaultBaud.  The port is not opened.
func NewLaser(addr string, baud int) *Laser {
	if baud == 0 {
		baud = DefaultBaud
	}
	return &Laser{Link: comm.NewSerialLink(addr, baud)}
}

// command sends cmd and returns the trimmed response
func (l *Laser) command(cmd string) (string, error) {
	if l.Verbose {
		log.Printf("laser %s: sent %q\n", l.Addr, cmd)
	}
	resp, err := l.SendRecv([]byte(cmd))
	if err != nil {
		return "", fmt.Errorf("laser command %q: %w", cmd, err)
	}
	s := strings.TrimSpace(string(resp))
	if l.Verbose {
		log.Printf("laser %s: returned %q\n", l.Addr, s)
	}
	if strings.HasPrefix(strings.ToLower(s), "syntax error") {
		return s, fmt.Errorf("laser rejected %q: %s", cmd, s)
	}
	return s, nil
}

func (l *Laser) float(cmd string) (float64, error) {
	s, err := l.command(cmd)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// Open connects to the laser, clears faults, enables autostart and zeroes
// the target power
func (l *Laser) Open() error {
	if err := l.Link.Open(); err != nil {
		return err
	}
	for _, cmd := range []string{"cf", "@cob1", "p 0.0"} {
		if _, err := l.command(cmd); err != nil {
			return err
		}
	}
	sn, err := l.SerialNumber()
	if err == nil {
		log.Printf("laser %s: opened, serial number %s\n", l.Addr, sn)
	}
	return nil
}

// Close clears faults, turns the laser off, and closes the port.  The port
// is closed even if the laser does not answer.
func (l *Laser) Close() error {
	var first error
	if l.IsOpen() {
		for _, cmd := range []string{"cf", "l0"} {
			if _, err := l.command(cmd); err != nil && first == nil {
				first = err
			}
		}
	}
	if err := l.Link.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// GetPower returns the measured output power in mW
func (l *Laser) GetPower() (float64, error) {
	w, err := l.float("pa?")
	return mathx.Round(w*1e3, powerResolution), err
}

// GetTargetPower returns the power setpoint in mW
func (l *Laser) GetTargetPower() (float64, error) {
	w, err := l.float("p?")
	return mathx.Round(w*1e3, powerResolution), err
}

// SetPower sets the power setpoint in mW
func (l *Laser) SetPower(mW float64) error {
	if mW < 0 || math.IsNaN(mW) {
		return fmt.Errorf("laser power must be a non-negative number, got %g mW", mW)
	}
	_, err := l.command("p " + strconv.FormatFloat(mW/1e3, 'f', -1, 64))
	return err
}

// GetEmission reports if the laser is emitting
func (l *Laser) GetEmission() (bool, error) {
	s, err := l.command("l?")
	if err != nil {
		return false, err
	}
	return s == "1", nil
}

// SetEmission turns the laser on or off
func (l *Laser) SetEmission(on bool) error {
	cmd := "l0"
	if on {
		cmd = "l1"
	}
	_, err := l.command(cmd)
	return err
}

// SerialNumber returns the serial number of the laser
func (l *Laser) SerialNumber() (string, error) {
	return l.command("gsn?")
}
