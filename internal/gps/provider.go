package gps

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// Provider is a source of single location fixes.
//
// CurrentPosition must honor ctx cancellation; callers rely on it to abandon
// requests that are still in flight when tracking stops.
type Provider interface {
	Available() bool
	CurrentPosition(ctx context.Context, opts Options) (Position, error)
}

// Options mirrors the knobs of a W3C geolocation request.
type Options struct {
	HighAccuracy bool
	// Timeout bounds a single request. Zero means no limit beyond ctx.
	Timeout time.Duration
	// MaximumAge allows returning a cached fix no older than this.
	// Zero forces a fresh fix.
	MaximumAge time.Duration
}

type Position struct {
	LatDeg     float64   `json:"lat_deg"`
	LonDeg     float64   `json:"lon_deg"`
	AccuracyM  *float64  `json:"accuracy_m,omitempty"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	SpeedMS    *float64  `json:"speed_ms,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	Time       time.Time `json:"time"`
}

// ErrorCode classifies a failed fix. Values match the W3C
// GeolocationPositionError codes, with 0 for anything else.
type ErrorCode int

const (
	UnknownError        ErrorCode = 0
	PermissionDenied    ErrorCode = 1
	PositionUnavailable ErrorCode = 2
	Timeout             ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case PermissionDenied:
		return "permission_denied"
	case PositionUnavailable:
		return "position_unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Notice is the user-facing text for a failure of this kind.
func (c ErrorCode) Notice() string {
	switch c {
	case PermissionDenied:
		return "User denied the request for Geolocation."
	case PositionUnavailable:
		return "Location information is unavailable."
	case Timeout:
		return "The request to get user location timed out."
	default:
		return "An unknown error occurred."
	}
}

type PositionError struct {
	Code    ErrorCode
	Message string
}

func (e *PositionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gps: %s", e.Code)
	}
	return fmt.Sprintf("gps: %s: %s", e.Code, e.Message)
}

func newPositionError(code ErrorCode, format string, args ...any) *PositionError {
	return &PositionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Classify maps any error returned by a Provider to an ErrorCode.
func Classify(err error) ErrorCode {
	if err == nil {
		return UnknownError
	}
	var pe *PositionError
	if errors.As(err, &pe) {
		return pe.Code
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, os.ErrPermission):
		return PermissionDenied
	case errors.Is(err, os.ErrNotExist):
		return PositionUnavailable
	}
	return UnknownError
}
