package sim

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"loctrack/internal/gps"
)

const metersPerDegLat = 111_320.0

// Walker is a deterministic gps.Provider that traces a figure-eight around a
// center point. It can inject latency and periodic failures.
type Walker struct {
	CenterLatDeg float64
	CenterLonDeg float64
	RadiusM      float64
	Period       time.Duration

	// Latency delays every fix; requests overlap when it exceeds the
	// tracker interval.
	Latency time.Duration

	// FailEvery makes every Nth request fail with FailCode. Zero disables.
	FailEvery int
	FailCode  gps.ErrorCode

	// Now defaults to time.Now.
	Now func() time.Time

	requests atomic.Uint64
}

func (w *Walker) Available() bool { return w != nil }

func (w *Walker) CurrentPosition(ctx context.Context, opts gps.Options) (gps.Position, error) {
	n := w.requests.Add(1)

	if w.Latency > 0 {
		if opts.Timeout > 0 && opts.Timeout < w.Latency {
			select {
			case <-ctx.Done():
				return gps.Position{}, ctx.Err()
			case <-time.After(opts.Timeout):
				return gps.Position{}, &gps.PositionError{Code: gps.Timeout, Message: "simulated fix slower than timeout"}
			}
		}
		select {
		case <-ctx.Done():
			return gps.Position{}, ctx.Err()
		case <-time.After(w.Latency):
		}
	}

	if w.FailEvery > 0 && n%uint64(w.FailEvery) == 0 {
		return gps.Position{}, &gps.PositionError{Code: w.FailCode, Message: "simulated failure"}
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	t := now().UTC()
	lat, lon, heading := w.Position(t)
	acc := 5.0
	return gps.Position{
		LatDeg:     lat,
		LonDeg:     lon,
		AccuracyM:  &acc,
		HeadingDeg: &heading,
		Time:       t,
	}, nil
}

// Requests returns how many fixes have been asked for.
func (w *Walker) Requests() uint64 { return w.requests.Load() }

// Position returns the point on the track at now.
func (w *Walker) Position(now time.Time) (latDeg, lonDeg, headingDeg float64) {
	period := w.Period
	if period <= 0 {
		period = 120 * time.Second
	}
	radiusM := w.RadiusM
	if radiusM <= 0 {
		radiusM = 250
	}
	radiusDeg := radiusM / metersPerDegLat

	phase := float64(now.UnixNano()%period.Nanoseconds()) / float64(period.Nanoseconds())

	// Lissajous figure-eight: x = cos(2πt), y = 0.5*sin(4πt).
	wt := 2 * math.Pi * phase
	x := math.Cos(wt)
	y := 0.5 * math.Sin(2*wt)

	latDeg = w.CenterLatDeg + radiusDeg*y
	lonDeg = w.CenterLonDeg + (radiusDeg*x)/math.Cos(w.CenterLatDeg*math.Pi/180.0)

	vx := -2 * math.Pi * math.Sin(wt)
	vy := 2 * math.Pi * math.Cos(2*wt)
	headingDeg = math.Mod((math.Atan2(vx, vy)*180/math.Pi)+360, 360)
	return latDeg, lonDeg, headingDeg
}
