//go:build !pylon

package pylon

import (
	"errors"

	"github.com/slscan/rig/genicam"
)

// ErrNoSDK is generated by every call when built without the pylon tag
var ErrNoSDK = errors.New("pylon: built without pylon SDK support, rebuild with -tags pylon")

// ErrNoDevice is generated when no camera is enumerated
var ErrNoDevice = errors.New("pylon: no camera found")

// Initialize fails without the SDK
func Initialize() error { return ErrNoSDK }

// Terminate is a no-op without the SDK
func Terminate() error { return nil }

// OpenFirst fails without the SDK
func OpenFirst() (genicam.Device, error) { return nil, ErrNoSDK }
