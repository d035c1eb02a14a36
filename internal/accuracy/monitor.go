// Package accuracy flags location fixes whose quality is too poor to trust.
//
// The signal is level-triggered: every sample recomputes it, so it stays
// raised for as long as the condition holds and clears on the first
// qualifying sample. It is advisory and never blocks station resolution.
package accuracy

import (
	"log"
	"sync"
	"time"

	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/metrics"
)

// Level is the classification of a single sample
type Level int

const (
	OK Level = iota
	Degraded
)

func (l Level) String() string {
	if l == Degraded {
		return "degraded"
	}
	return "ok"
}

// Monitor classifies samples against an accuracy threshold
type Monitor struct {
	threshold    float64       // meters
	missingAfter time.Duration // how long accuracy may be absent

	mu           sync.Mutex
	degraded     bool
	lastAccurate time.Time // timestamp of the last sample carrying accuracy
	firstSeen    time.Time
	stats        metrics.Welford
}

// New creates a monitor. A sample is degraded when its accuracy exceeds
// thresholdMeters, or when no sample has reported accuracy for longer than
// missingAfter.
func New(thresholdMeters float64, missingAfter time.Duration) *Monitor {
	return &Monitor{
		threshold:    thresholdMeters,
		missingAfter: missingAfter,
	}
}

// Classify evaluates a sample and updates the degraded signal
func (m *Monitor) Classify(s location.Sample) Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.firstSeen.IsZero() {
		m.firstSeen = s.Timestamp
	}

	var degraded bool
	if s.HasAccuracy() {
		m.lastAccurate = s.Timestamp
		m.stats.Add(*s.Accuracy)
		degraded = *s.Accuracy > m.threshold
	} else {
		since := m.lastAccurate
		if since.IsZero() {
			since = m.firstSeen
		}
		degraded = s.Timestamp.Sub(since) > m.missingAfter
	}

	if degraded != m.degraded {
		if degraded {
			log.Printf("Accuracy: degraded (threshold %.0fm, mean %.1fm over %d fixes)",
				m.threshold, m.stats.Mean(), m.stats.Count())
		} else {
			log.Println("Accuracy: recovered")
		}
	}
	m.degraded = degraded

	if degraded {
		return Degraded
	}
	return OK
}

// Degraded returns the current level of the signal
func (m *Monitor) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}

// Stats returns the running mean and standard deviation of reported accuracy
func (m *Monitor) Stats() (mean, stddev float64, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.Mean(), m.stats.StdDev(), m.stats.Count()
}

// Reset clears the signal and statistics
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = false
	m.lastAccurate = time.Time{}
	m.firstSeen = time.Time{}
	m.stats.Reset()
}
