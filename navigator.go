// Package ridealong tells a train rider where they are on their line and
// which station comes next, and lets a second device follow the same journey
// live.
//
// A Navigator owns one journey. Location fixes are sampled, checked for
// accuracy, resolved to stations and applied by a single state machine.
// The journey can be published under a session token, or a published one
// can be mirrored.
package ridealong

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/mini-rodalies-3d/ridealong/internal/accuracy"
	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
	"github.com/mini-rodalies-3d/ridealong/internal/navigation"
	"github.com/mini-rodalies-3d/ridealong/internal/resolver"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Navigator. Zero values take the defaults.
type Options struct {
	Topology *topology.Store // nil: no station resolution
	Provider location.Provider
	Store    mirror.Store // nil: an in-process store
	// Presenter is told when a mirrored session is ended by its publisher
	Presenter mirror.Presenter

	SampleInterval    time.Duration // default 5s
	LastKnownMaxAge   time.Duration // default 1s
	AccuracyHint      location.AccuracyHint
	AccuracyThreshold float64       // meters, default 50
	AccuracyMissing   time.Duration // default 30s
	Thresholds        navigation.Thresholds
	TieEpsilon        *float64 // meters, nil: default 5, 0 disables tie-breaking
}

func (o *Options) setDefaults() {
	if o.Store == nil {
		o.Store = mirror.NewMemoryStore()
	}
	if o.SampleInterval <= 0 {
		o.SampleInterval = 5 * time.Second
	}
	if o.LastKnownMaxAge <= 0 {
		o.LastKnownMaxAge = time.Second
	}
	if o.AccuracyThreshold <= 0 {
		o.AccuracyThreshold = 50
	}
	if o.AccuracyMissing <= 0 {
		o.AccuracyMissing = 30 * time.Second
	}
	if o.Thresholds.ApproachingMeters <= 0 || o.Thresholds.ArrivedMeters <= 0 {
		o.Thresholds = navigation.DefaultThresholds
	}
	if o.TieEpsilon == nil {
		eps := resolver.DefaultEpsilon
		o.TieEpsilon = &eps
	}
}

// Navigator is the presentation boundary. Commands block until applied and
// need Run to be active.
type Navigator struct {
	machine *navigation.Machine
	monitor *accuracy.Monitor
	sampler *location.Sampler
	session *mirror.Sync

	// gate orders local fixes against the start of a subscription: once
	// subscribing is set no fix is posted ahead of the remote snapshot
	gate        sync.RWMutex
	subscribing bool
}

// New wires the components. Nothing runs until Run.
func New(opts Options) *Navigator {
	opts.setDefaults()

	machine := navigation.New(opts.Topology, resolver.New(*opts.TieEpsilon), opts.Thresholds)
	n := &Navigator{
		machine: machine,
		monitor: accuracy.New(opts.AccuracyThreshold, opts.AccuracyMissing),
		session: mirror.NewSync(opts.Store, machine, opts.Presenter),
	}
	if opts.Provider != nil {
		n.sampler = location.NewSampler(opts.Provider, opts.SampleInterval, opts.LastKnownMaxAge, opts.AccuracyHint)
	}
	return n
}

// Run starts the state machine and the sampler, and blocks until ctx is done.
// Any active mirroring role is ended before returning.
func (n *Navigator) Run(ctx context.Context) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		n.machine.Run(ctx)
	}()

	if n.sampler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.sampler.Run(ctx, sink{n})
		}()
	}

	<-ctx.Done()
	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := n.session.Close(closeCtx); err != nil {
		log.Printf("Warning: failed to end mirroring session: %v", err)
	}
	log.Println("Navigator: stopped")
}

// sink feeds sampler output into the machine
type sink struct {
	n *Navigator
}

func (s sink) OnSample(sample location.Sample) {
	s.n.gate.RLock()
	defer s.n.gate.RUnlock()
	// A subscriber shows the publisher's journey, not its own
	if s.n.following() {
		return
	}
	level := s.n.monitor.Classify(sample)
	s.n.machine.Post(navigation.SampleEvent{Sample: sample, Degraded: level == accuracy.Degraded})
}

func (s sink) OnUnavailable(err error) {
	s.n.gate.RLock()
	defer s.n.gate.RUnlock()
	if s.n.following() {
		return
	}
	s.n.machine.Post(navigation.UnavailableEvent{Err: err})
}

// following reports whether local fixes must be ignored. Called with gate held.
func (n *Navigator) following() bool {
	return n.subscribing || n.session.Role() == mirror.RoleSubscriber
}

// State returns a copy of the current journey
func (n *Navigator) State() navigation.State {
	return n.machine.State()
}

// Flags returns the warning conditions shown next to the journey
func (n *Navigator) Flags() navigation.Flags {
	return n.machine.Flags()
}

// Degraded reports whether recent fixes are too inaccurate to trust
func (n *Navigator) Degraded() bool {
	return n.machine.Flags().Degraded
}

// LocationUnavailable reports whether the last sampling attempt failed
func (n *Navigator) LocationUnavailable() bool {
	return n.machine.Flags().LocationUnavailable
}

// AccuracyStats returns running statistics over reported accuracy radii
func (n *Navigator) AccuracyStats() (mean, stddev float64, count int) {
	return n.monitor.Stats()
}

// Watch streams the journey after every change, starting with the current one
func (n *Navigator) Watch() (<-chan navigation.State, func()) {
	return n.machine.Watch()
}

func (n *Navigator) SelectLine(ctx context.Context, lineID string) error {
	return n.machine.Dispatch(ctx, navigation.SelectLine{LineID: lineID})
}

// SelectBound sets the destination. An empty direction is inferred from the
// current station.
func (n *Navigator) SelectBound(ctx context.Context, stationID int, dir topology.Direction) error {
	return n.machine.Dispatch(ctx, navigation.SelectBound{StationID: stationID, Direction: dir})
}

// SetTrainType switches the service pattern; an empty code clears it
func (n *Navigator) SetTrainType(ctx context.Context, code string) error {
	return n.machine.Dispatch(ctx, navigation.SetTrainType{Code: code})
}

func (n *Navigator) SetAutoMode(ctx context.Context, enabled bool) error {
	return n.machine.Dispatch(ctx, navigation.SetAutoMode{Enabled: enabled})
}

func (n *Navigator) SetTheme(ctx context.Context, theme string) error {
	return n.machine.Dispatch(ctx, navigation.SetTheme{Theme: theme})
}

// ResetJourney clears the journey and the accuracy history
func (n *Navigator) ResetJourney(ctx context.Context) error {
	if err := n.machine.Dispatch(ctx, navigation.ResetJourney{}); err != nil {
		return err
	}
	n.monitor.Reset()
	return nil
}

// StartPublishing shares the journey and returns the session token
func (n *Navigator) StartPublishing(ctx context.Context) (string, error) {
	return n.session.StartPublishing(ctx)
}

func (n *Navigator) StopPublishing(ctx context.Context) error {
	return n.session.StopPublishing(ctx)
}

// StartSubscribing mirrors the journey published under token
func (n *Navigator) StartSubscribing(ctx context.Context, token string) error {
	n.gate.Lock()
	n.subscribing = true
	n.gate.Unlock()

	err := n.session.StartSubscribing(ctx, token)

	n.gate.Lock()
	n.subscribing = false
	n.gate.Unlock()
	return err
}

func (n *Navigator) StopSubscribing(ctx context.Context) error {
	return n.session.StopSubscribing(ctx)
}

// Role returns the active mirroring role
func (n *Navigator) Role() mirror.Role {
	return n.session.Role()
}

// Token returns the active session token, empty without a session
func (n *Navigator) Token() string {
	return n.session.Token()
}
