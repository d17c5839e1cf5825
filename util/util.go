// Package util contains misc internal utilities.
package util

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// AllElementsNumbers returns true if every rune of s is a digit or a
// decimal point
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}

// SecsToDuration converts a floating point number of seconds to a
// time.Duration, rounding to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// ParseDuration is time.ParseDuration, except a bare number is taken to be
// seconds.  "25ms", "10us" and "1.5" are all valid.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if AllElementsNumbers(s) {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return SecsToDuration(f), nil
	}
	return time.ParseDuration(s)
}

// Clamp limits a value to the range [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}
