//go:build !spinnaker

package spinnaker

import (
	"errors"

	"github.com/slscan/rig/genicam"
)

// ErrNoSDK is generated by every call when built without the spinnaker tag
var ErrNoSDK = errors.New("spinnaker: built without Spinnaker SDK support, rebuild with -tags spinnaker")

// Count fails without the SDK
func Count() (int, error) { return 0, ErrNoSDK }

// Opener returns an opener that fails without the SDK
func Opener(idx int) genicam.Opener {
	return func() (genicam.Device, error) { return nil, ErrNoSDK }
}
