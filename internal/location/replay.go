package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrTrackExhausted is returned once every recorded sample has been played
var ErrTrackExhausted = errors.New("replay track exhausted")

type trackPoint struct {
	Lat      float64  `yaml:"lat"`
	Lon      float64  `yaml:"lon"`
	Accuracy *float64 `yaml:"accuracy,omitempty"`
	Speed    float64  `yaml:"speed,omitempty"`
}

// ReplayProvider plays back a recorded track one sample per call.
// Samples are stamped with the time they are played.
type ReplayProvider struct {
	mu     sync.Mutex
	points []Sample
	next   int
	last   *Sample
	now    func() time.Time
}

// NewReplayProvider creates a provider over in-memory samples
func NewReplayProvider(samples []Sample) *ReplayProvider {
	return &ReplayProvider{points: samples, now: time.Now}
}

// LoadTrack reads a YAML list of {lat, lon, accuracy, speed} points
func LoadTrack(path string) (*ReplayProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read track: %w", err)
	}

	var points []trackPoint
	if err := yaml.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("failed to parse track: %w", err)
	}

	samples := make([]Sample, 0, len(points))
	for _, p := range points {
		samples = append(samples, Sample{
			Latitude:  p.Lat,
			Longitude: p.Lon,
			Accuracy:  p.Accuracy,
			Speed:     p.Speed,
		})
	}
	return NewReplayProvider(samples), nil
}

func (r *ReplayProvider) CurrentSample(ctx context.Context, _ AccuracyHint) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.next >= len(r.points) {
		return Sample{}, ErrTrackExhausted
	}
	s := r.points[r.next]
	r.next++
	s.Timestamp = r.now()
	r.last = &s
	return s, nil
}

func (r *ReplayProvider) LastKnownSample(_ context.Context, maxAge time.Duration) (*Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last == nil || r.last.Age(r.now()) > maxAge {
		return nil, nil
	}
	s := *r.last
	return &s, nil
}

func (r *ReplayProvider) PermissionStatus(context.Context) PermissionStatus {
	return PermissionGranted
}

// Remaining returns how many samples have not been played yet
func (r *ReplayProvider) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.points) - r.next
}
