package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceFault is matched by any timeout or SDK fault during a capture,
	// and by captures attempted while the session is closed
	ErrDeviceFault = errors.New("device fault")

	// ErrConfiguration is generated when an operation is invoked without its
	// preconditions, e.g. HDR capture with no bracket or no composer
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupported is generated by adapters which do not implement an
	// optional operation.  It is never a runtime fault.
	ErrUnsupported = errors.New("operation not supported by this camera")

	// ErrClosed is generated when a capture is attempted on a closed session
	ErrClosed = &FaultError{Op: "capture", Err: errors.New("device session is not open")}
)

// FaultError wraps an SDK error raised during a device transaction.
// errors.Is(err, ErrDeviceFault) is true for any FaultError.
type FaultError struct {
	// Op is the operation that faulted
	Op string

	// Err is the underlying SDK error
	Err error
}

// Error satisfies the error interface
func (e *FaultError) Error() string {
	return fmt.Sprintf("device fault during %s: %v", e.Op, e.Err)
}

// Unwrap returns the SDK error
func (e *FaultError) Unwrap() error {
	return e.Err
}

// Is makes every FaultError match ErrDeviceFault
func (e *FaultError) Is(target error) bool {
	return target == ErrDeviceFault
}

// Configurationf formats an error matching ErrConfiguration
func Configurationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
