package location

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLocationUnavailable means neither a fresh fix nor a recent enough
	// last-known sample could be obtained
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
)

// Sample is one timestamped position fix.
// Accuracy is nil when the provider did not report it; that means unknown,
// never zero.
type Sample struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64 // meters
	Speed     float64  // meters per second
	Timestamp time.Time
}

// HasAccuracy reports whether the provider reported an accuracy radius
func (s Sample) HasAccuracy() bool {
	return s.Accuracy != nil
}

// Age returns how old the sample is relative to now
func (s Sample) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// AccuracyHint tells the provider how hard to try for a fix
type AccuracyHint int

const (
	AccuracyBalanced AccuracyHint = iota
	AccuracyHigh
	AccuracyBestForNavigation
)

// PermissionStatus mirrors the OS location permission state
type PermissionStatus int

const (
	PermissionUndetermined PermissionStatus = iota
	PermissionGranted
	PermissionDenied
)

func (p PermissionStatus) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	}
	return "undetermined"
}

// Provider is the boundary to whatever produces position fixes.
// Nothing else in the module talks to location hardware or services.
type Provider interface {
	// CurrentSample blocks until a fresh fix is available or fails
	CurrentSample(ctx context.Context, hint AccuracyHint) (Sample, error)
	// LastKnownSample returns the newest cached fix no older than maxAge, or nil
	LastKnownSample(ctx context.Context, maxAge time.Duration) (*Sample, error)
	PermissionStatus(ctx context.Context) PermissionStatus
}
