package tracker

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultTimestampLayout renders capture times as "2024-01-01 10:00:00".
const DefaultTimestampLayout = "2006-01-02 15:04:05"

// Sample is one recorded fix. Samples are never modified after creation.
type Sample struct {
	Timestamp  string    `json:"timestamp"`
	LatDeg     float64   `json:"latitude"`
	LonDeg     float64   `json:"longitude"`
	CapturedAt time.Time `json:"captured_at"`
}

// FormatCoord renders a coordinate the way JavaScript's Number#toString does:
// shortest round-trip digits, exponent form below 1e-6 and from 1e21 up.
func FormatCoord(v float64) string {
	switch {
	case v == 0:
		// Covers negative zero.
		return "0"
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	abs := v
	if abs < 0 {
		abs = -abs
	}
	if abs < 1e-6 || abs >= 1e21 {
		s := strconv.FormatFloat(v, 'e', -1, 64)
		// Go writes e-07 / e+21; JavaScript writes e-7 / e+21.
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
