package location

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Sink receives the sampler's output
type Sink interface {
	OnSample(Sample)
	OnUnavailable(error)
}

// Sampler polls a Provider and falls back to the last known fix when a fresh
// one cannot be obtained
type Sampler struct {
	provider    Provider
	interval    time.Duration
	fallbackAge time.Duration
	hint        AccuracyHint
}

// NewSampler creates a sampler. fallbackAge bounds how old a last-known fix
// may be when it stands in for a failed fresh fix.
func NewSampler(provider Provider, interval, fallbackAge time.Duration, hint AccuracyHint) *Sampler {
	return &Sampler{
		provider:    provider,
		interval:    interval,
		fallbackAge: fallbackAge,
		hint:        hint,
	}
}

// Sample returns a fresh fix, or the last known one within the fallback window
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	if s.provider.PermissionStatus(ctx) == PermissionDenied {
		return Sample{}, ErrPermissionDenied
	}

	fresh, err := s.provider.CurrentSample(ctx, s.hint)
	if err == nil {
		return fresh, nil
	}

	last, lastErr := s.provider.LastKnownSample(ctx, s.fallbackAge)
	if lastErr == nil && last != nil {
		return *last, nil
	}

	return Sample{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
}

// LastKnown returns the provider's cached fix no older than maxAge
func (s *Sampler) LastKnown(ctx context.Context, maxAge time.Duration) (*Sample, error) {
	return s.provider.LastKnownSample(ctx, maxAge)
}

// Run samples immediately and then once per interval until ctx is done
func (s *Sampler) Run(ctx context.Context, sink Sink) {
	s.sampleOnce(ctx, sink)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sampleOnce(ctx, sink)
		case <-ctx.Done():
			log.Println("Sampler: loop stopped")
			return
		}
	}
}

func (s *Sampler) sampleOnce(ctx context.Context, sink Sink) {
	sample, err := s.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		sink.OnUnavailable(err)
		return
	}
	sink.OnSample(sample)
}
