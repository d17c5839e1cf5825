/*Package comm provides a line oriented link to serial and TCP instruments.

Most usages of this package will boil down to:
	1.  embed a *Link in a type that represents your hardware.
	2.  set TxTerm and RxTerm if the device does not use CRLF
	3.  write methods on top of SendRecv that speak the device's command set

A minimal example for a device that answers "t?" with a temperature:

	type Sensor struct {
		*comm.Link
	}

	func (s *Sensor) Temp() (float64, error) {
		resp, err := s.SendRecv([]byte("t?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when Send or Recv is called on a closed link
	ErrNotConnected = errors.New("link is not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// DefaultTimeout bounds dialing and each transaction on TCP links
const DefaultTimeout = 3 * time.Second

// Link is a connection to a remote device that exchanges terminated lines.
// If Serial is nil the Addr is dialed over TCP, otherwise it is the serial
// device opened with Serial.
//
// A Link is safe for concurrent use.  SendRecv holds the link for the whole
// transaction so responses are never interleaved.
type Link struct {
	// Addr is a host:port or a serial device path
	Addr string

	// Serial configures the port, nil for TCP
	Serial *serial.Config

	// TxTerm is appended to every command.  Empty means "\r\n"
	TxTerm []byte

	// RxTerm ends every response.  Zero means '\n'.  A trailing '\r' before
	// it is stripped too.
	RxTerm byte

	// Timeout bounds a TCP dial and each read/write.  Zero means DefaultTimeout
	Timeout time.Duration

	mu   sync.Mutex
	conn io.ReadWriteCloser
	rd   *bufio.Reader
}

// NewSerialLink returns a link to a serial device at baud
func NewSerialLink(addr string, baud int) *Link {
	return &Link{
		Addr:   addr,
		Serial: &serial.Config{Name: addr, Baud: baud, ReadTimeout: DefaultTimeout},
	}
}

// NewTCPLink returns a link to a TCP host:port
func NewTCPLink(addr string) *Link {
	return &Link{Addr: addr}
}

func (l *Link) timeout() time.Duration {
	if l.Timeout <= 0 {
		return DefaultTimeout
	}
	return l.Timeout
}

func (l *Link) txTerm() []byte {
	if len(l.TxTerm) == 0 {
		return []byte("\r\n")
	}
	return l.TxTerm
}

func (l *Link) rxTerm() byte {
	if l.RxTerm == 0 {
		return '\n'
	}
	return l.RxTerm
}

// IsOpen reports if the link has a connection
func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Open the connection.  Opening an open link is a no-op
func (l *Link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return nil
	}
	// back off exponentially, USB serial adapters and terminal servers
	// do not like being connection thrashed.  A refused connection is
	// returned immediately, anything else is retried until the policy
	// gives up.
	wasTimeout := false
	op := func() error {
		err := l.open()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      l.timeout(),
		Clock:               backoff.SystemClock})
	if err == nil {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s: %w", l.Addr, err)
	}
	return err
}

// open must be called with mu held
func (l *Link) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if l.Serial != nil {
		cfg := *l.Serial
		if cfg.Name == "" {
			cfg.Name = l.Addr
		}
		conn, err = serial.OpenPort(&cfg)
	} else {
		conn, err = net.DialTimeout("tcp", l.Addr, l.timeout())
	}
	if err != nil {
		return err
	}
	l.conn = conn
	l.rd = bufio.NewReader(conn)
	return nil
}

// Close the connection.  Closing a closed link is a no-op
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	l.rd = nil
	return err
}

func (l *Link) deadline() {
	if c, ok := l.conn.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(l.timeout()))
	}
}

// send must be called with mu held
func (l *Link) send(b []byte) error {
	if l.conn == nil {
		return ErrNotConnected
	}
	l.deadline()
	msg := make([]byte, 0, len(b)+2)
	msg = append(msg, b...)
	msg = append(msg, l.txTerm()...)
	_, err := l.conn.Write(msg)
	return err
}

// recv must be called with mu held
func (l *Link) recv() ([]byte, error) {
	if l.conn == nil {
		return nil, ErrNotConnected
	}
	l.deadline()
	term := l.rxTerm()
	buf, err := l.rd.ReadBytes(term)
	if err != nil {
		if len(buf) > 0 {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte{term})
	buf = bytes.TrimSuffix(buf, []byte{'\r'})
	return buf, nil
}

// Send writes a command with the Tx terminator appended
func (l *Link) Send(b []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.send(b)
}

// Recv reads one response with the terminator stripped
func (l *Link) Recv() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recv()
}

// SendRecv sends a command then returns the response, holding the link
// for the duration
func (l *Link) SendRecv(b []byte) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.send(b); err != nil {
		return nil, err
	}
	return l.recv()
}
