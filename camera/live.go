package camera

import (
	"context"
	"image"
	"log"
	"time"

	"golang.org/x/time/rate"

	"github.com/slscan/rig/display"
)

// LiveViewRate is the default ceiling on frames pulled during a live view
const LiveViewRate = 30

// LiveView pulls frames from grab and shows them on s until a key is pressed
// or ctx is done.  s is closed on return whatever the cause.  A nil limiter
// means LiveViewRate.
//
// A grab error ends the view and is returned.
func LiveView(ctx context.Context, s display.Surface, lim *rate.Limiter, grab func() (image.Image, error)) error {
	defer s.Close()
	if lim == nil {
		lim = rate.NewLimiter(rate.Limit(LiveViewRate), 1)
	}
	for {
		if err := lim.Wait(ctx); err != nil {
			// ctx is done, or its deadline is nearer than the next token
			return nil
		}
		frame, err := grab()
		if err != nil {
			return err
		}
		if err = s.Show(frame); err != nil {
			return err
		}
		if key := s.WaitKey(time.Millisecond); key != -1 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// LogExtrema prints the min and max sample of a frame, a focus and
// exposure aid during live view
func LogExtrema(prefix string, img image.Image) {
	b := img.Bounds()
	var lo, hi uint32 = 1<<32 - 1, 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, _, _, _ := img.At(x, y).RGBA()
			if r < lo {
				lo = r
			}
			if r > hi {
				hi = r
			}
		}
	}
	log.Printf("%s max: %d min: %d\n", prefix, hi, lo)
}
