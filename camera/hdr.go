package camera

import (
	"image"
	"time"
)

// Bracket is an ordered list of exposure times for one HDR acquisition
type Bracket []time.Duration

// Composer merges differently exposed frames of one scene into a single
// high dynamic range frame.  It is typically a radiometric calibration.
type Composer interface {
	ComposeHDR(frames []image.Image, exposures Bracket) (image.Image, error)
}

// ComposerFunc adapts a function to the Composer interface
type ComposerFunc func([]image.Image, Bracket) (image.Image, error)

// ComposeHDR calls f
func (f ComposerFunc) ComposeHDR(frames []image.Image, exposures Bracket) (image.Image, error) {
	return f(frames, exposures)
}

// AcquireBracket reconfigures the exposure then grabs one frame, for every
// exposure in b, in order.  Most area-scan SDKs latch the exposure when the
// acquisition is armed, so the two steps are never overlapped.
//
// The first error from either step ends the bracket and is returned.
func AcquireBracket(b Bracket, setExposure func(time.Duration) error, grab func() (image.Image, error)) ([]image.Image, error) {
	if len(b) == 0 {
		return nil, Configurationf("HDR capture requires an exposure bracket")
	}
	frames := make([]image.Image, 0, len(b))
	for _, exp := range b {
		if err := setExposure(exp); err != nil {
			return frames, err
		}
		frame, err := grab()
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// HDR runs a full bracketed capture: precondition checks, AcquireBracket,
// composition, and persistence of the composed frame to l.
func HDR(c Composer, b Bracket, l Layout, name string, opts CaptureOptions,
	setExposure func(time.Duration) error, grab func() (image.Image, error)) (image.Image, error) {
	if c == nil {
		return nil, Configurationf("HDR capture requires a composer to be attached")
	}
	if len(b) == 0 {
		return nil, Configurationf("HDR capture requires an exposure bracket")
	}
	frames, err := AcquireBracket(b, setExposure, grab)
	if err != nil {
		return nil, err
	}
	hdr, err := c.ComposeHDR(frames, b)
	if err != nil {
		return nil, err
	}
	err = l.Save(hdr, name, SaveOptions{
		Image:       opts.SaveImage,
		Raw:         opts.SaveRaw,
		Calibration: opts.Calibration,
		Subfolder:   opts.Subfolder,
	})
	return hdr, err
}
