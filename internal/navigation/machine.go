// Package navigation owns the rider-facing journey state.
//
// A Machine is the only writer of State. Location samples, rider commands
// and mirrored snapshots all arrive as events on one inbox and are applied
// in arrival order by Run. Readers take copies through State, Flags and
// Watch.
package navigation

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/mini-rodalies-3d/ridealong/internal/resolver"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

const inboxSize = 64

type request struct {
	ev   Event
	done chan error // nil for Post
}

// Machine applies events to the navigation state
type Machine struct {
	topo       *topology.Store
	resolver   *resolver.Resolver
	thresholds Thresholds

	inbox chan request

	mu    sync.RWMutex
	state State
	flags Flags

	watchMu  sync.Mutex
	watchers map[int]chan State
	nextID   int
}

// New creates a machine. topo may be nil until a topology is available; line
// selection then fails with ErrNoTopology and samples only update Location.
func New(topo *topology.Store, res *resolver.Resolver, thresholds Thresholds) *Machine {
	if res == nil {
		res = resolver.New(resolver.DefaultEpsilon)
	}
	return &Machine{
		topo:       topo,
		resolver:   res,
		thresholds: thresholds,
		inbox:      make(chan request, inboxSize),
		state:      State{Header: HeaderCurrent},
		watchers:   make(map[int]chan State),
	}
}

// Run applies queued events until ctx is cancelled
func (m *Machine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Println("Navigation: machine stopped")
			return
		case req := <-m.inbox:
			err := m.apply(req.ev)
			if req.done != nil {
				req.done <- err
			}
		}
	}
}

// Dispatch queues an event and waits until it has been applied
func (m *Machine) Dispatch(ctx context.Context, ev Event) error {
	req := request{ev: ev, done: make(chan error, 1)}
	select {
	case m.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues an event without waiting. Returns false when the inbox is full
// and the event was dropped.
func (m *Machine) Post(ev Event) bool {
	select {
	case m.inbox <- request{ev: ev}:
		return true
	default:
		log.Printf("Warning: navigation inbox full, dropping %T", ev)
		return false
	}
}

// State returns a copy of the current state
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}

// Flags returns the side-channel conditions. Auto mode hides the warnings a
// rider would otherwise have to dismiss.
func (m *Machine) Flags() Flags {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f := m.flags
	if m.state.AutoMode {
		f.Degraded = false
		f.LocationUnavailable = false
	}
	return f
}

// Watch returns a channel that receives the latest state after every change,
// starting with the current one. A flip of Flags also sends the unchanged
// state so readers know to call Flags. A slow reader only ever sees the most
// recent state. Call the returned func to stop watching.
func (m *Machine) Watch() (<-chan State, func()) {
	ch := make(chan State, 1)

	m.watchMu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = ch
	ch <- m.State()
	m.watchMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.watchMu.Lock()
			delete(m.watchers, id)
			m.watchMu.Unlock()
		})
	}
}

func (m *Machine) notify(s State) {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- s.Clone():
			continue
		default:
		}
		// Replace the stale value nobody has read yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s.Clone():
		default:
		}
	}
}

func (m *Machine) apply(ev Event) error {
	m.mu.Lock()
	prevFlags := m.flags
	next := m.state.Clone()
	changed, err := m.reduce(&next, ev)
	if err != nil || !changed {
		// Flag flips reach watchers without a new revision
		var current *State
		if err == nil && m.flags != prevFlags {
			s := m.state.Clone()
			current = &s
		}
		m.mu.Unlock()
		if current != nil {
			m.notify(*current)
		}
		return err
	}
	next.Revision = m.state.Revision + 1
	m.state = next
	snapshot := next.Clone()
	m.mu.Unlock()

	m.notify(snapshot)
	return nil
}

// reduce computes the next state into s. Called with mu held.
func (m *Machine) reduce(s *State, ev Event) (bool, error) {
	switch e := ev.(type) {
	case SampleEvent:
		m.flags.Degraded = e.Degraded
		m.flags.LocationUnavailable = false
		m.flags.LastError = ""
		sample := e.Sample
		s.Location = &sample
		if !s.Terminal {
			m.locate(s)
		}
		return true, nil

	case UnavailableEvent:
		m.flags.LocationUnavailable = true
		if e.Err != nil {
			m.flags.LastError = e.Err.Error()
		}
		return false, nil

	case SelectLine:
		if m.topo == nil {
			return false, ErrNoTopology
		}
		line, err := m.topo.Line(e.LineID)
		if err != nil {
			return false, err
		}
		s.Line = line
		s.Bound = nil
		s.Direction = topology.DirectionUnset
		s.Terminal = false
		s.RawStations = line.Stations
		s.Stations = servedStations(line, s.TrainType)
		if s.Current != nil && !line.Contains(s.Current.ID) {
			s.Current = nil
		}
		m.locate(s)
		log.Printf("Navigation: line %s selected (%d stations)", line.ID, len(line.Stations))
		return true, nil

	case SelectBound:
		if s.Line == nil {
			return false, ErrNoLineSelected
		}
		idx := s.Line.IndexOf(e.StationID)
		if idx < 0 {
			return false, fmt.Errorf("%w %d on line %s", ErrUnknownStation, e.StationID, s.Line.ID)
		}
		dir := e.Direction
		if !dir.Valid() {
			dir = inferDirection(s.Line, s.Current, idx)
		}
		bound := s.Line.Stations[idx]
		if !topology.Served(bound, s.TrainType) {
			return false, fmt.Errorf("%w %d is not served by %s", ErrUnknownStation, bound.ID, s.TrainType.Code)
		}
		s.Bound = &bound
		s.Direction = dir
		s.Terminal = false
		m.locate(s)
		log.Printf("Navigation: bound for %s (%s)", bound.Name, dir)
		return true, nil

	case SetTrainType:
		var tt *topology.TrainType
		if e.Code != "" {
			if m.topo == nil {
				return false, ErrNoTopology
			}
			found, err := m.topo.TrainType(e.Code)
			if err != nil {
				return false, err
			}
			tt = found
		}
		if s.Bound != nil && !topology.Served(*s.Bound, tt) {
			return false, fmt.Errorf("%w %d is not served by %s", ErrUnknownStation, s.Bound.ID, tt.Code)
		}
		s.TrainType = tt
		s.Stations = servedStations(s.Line, tt)
		m.locate(s)
		return true, nil

	case SetAutoMode:
		if s.AutoMode == e.Enabled {
			return false, nil
		}
		s.AutoMode = e.Enabled
		return true, nil

	case SetTheme:
		if s.Theme == e.Theme {
			return false, nil
		}
		s.Theme = e.Theme
		return true, nil

	case ResetJourney:
		*s = State{
			Header:   HeaderCurrent,
			AutoMode: s.AutoMode,
			Theme:    s.Theme,
			Location: s.Location,
		}
		log.Println("Navigation: journey reset")
		return true, nil

	case RemoteSnapshot:
		snap := e.Snapshot
		header := snap.Header
		if !header.Valid() {
			header = HeaderCurrent
		}
		*s = State{
			Header:       header,
			Line:         snap.Line,
			Bound:        snap.Bound,
			Direction:    snap.Direction,
			Current:      snap.Current,
			Next:         snap.Next,
			LeftStations: snap.LeftStations,
			Stations:     snap.Stations,
			RawStations:  snap.RawStations,
			TrainType:    snap.TrainType,
			AutoMode:     snap.AutoMode,
			Location:     snap.Location,
			Theme:        snap.Theme,
			Terminal:     snap.Terminal,
		}
		m.flags.LocationUnavailable = false
		return true, nil
	}

	return false, fmt.Errorf("unsupported event %T", ev)
}

// locate updates the journey fields from the last known location
func (m *Machine) locate(s *State) {
	if s.Location == nil {
		m.refresh(s)
		return
	}

	// Before a line is chosen, report the nearest station anywhere
	if s.Line == nil {
		if m.topo == nil {
			return
		}
		res := m.resolver.Resolve(resolver.Query{
			Sample:   *s.Location,
			Stations: m.topo.Stations(),
			Previous: s.Current,
		})
		s.Current = res.Current
		s.Next = nil
		s.LeftStations = nil
		s.Header = HeaderCurrent
		return
	}

	res := m.resolver.Resolve(resolver.Query{
		Sample:    *s.Location,
		Line:      s.Line,
		TrainType: s.TrainType,
		Direction: s.Direction,
		Bound:     s.Bound,
		Previous:  s.Current,
	})
	if res.Current != nil && m.shouldAdvance(s, res) {
		s.Current = res.Current
	}
	m.refresh(s)
}

// shouldAdvance decides whether the held current station moves to the
// resolver's nearest station
func (m *Machine) shouldAdvance(s *State, res resolver.Result) bool {
	if s.Current == nil || s.AutoMode || !s.Line.Contains(s.Current.ID) {
		return true
	}
	if res.Current.ID == s.Current.ID {
		return false
	}

	step := s.Line.Step(s.Direction)
	held := s.Line.IndexOf(s.Current.ID)
	if step != 0 && (res.Index-held)*step < 0 {
		// Never move against the direction of travel
		return false
	}

	th := m.thresholds.For(s.Line.Type)
	if topology.Served(*res.Current, s.TrainType) && res.Distance <= th.ArrivedMeters {
		return true
	}
	if s.Next != nil && step != 0 {
		// Samples were missed and the train is already past the next stop
		if next := s.Line.IndexOf(s.Next.ID); (res.Index-next)*step > 0 {
			return true
		}
	}
	return false
}

// refresh recomputes next, left, header and terminal from the held station
func (m *Machine) refresh(s *State) {
	if s.Line == nil || s.Current == nil {
		s.Next = nil
		s.LeftStations = nil
		s.Header = HeaderCurrent
		return
	}

	s.Next = resolver.NextStop(s.Line, *s.Current, s.TrainType, s.Direction, s.Bound)
	s.LeftStations = resolver.LeftStations(s.Line, *s.Current, s.TrainType, s.Direction, s.Bound)

	if s.Next == nil && reachedBound(s) {
		if !s.Terminal {
			log.Printf("Navigation: arrived at %s, journey complete", s.Current.Name)
		}
		s.Terminal = true
		s.Header = HeaderCurrent
		return
	}

	s.Header = m.header(s)
}

// reachedBound reports whether the held station is the bound or beyond it
func reachedBound(s *State) bool {
	if s.Bound == nil || !s.Direction.Valid() {
		return false
	}
	if s.Current.ID == s.Bound.ID {
		return true
	}
	cur, bound := s.Line.IndexOf(s.Current.ID), s.Line.IndexOf(s.Bound.ID)
	return cur >= 0 && bound >= 0 && (cur-bound)*s.Line.Step(s.Direction) > 0
}

func (m *Machine) header(s *State) HeaderState {
	if s.Next == nil || s.Location == nil {
		return HeaderCurrent
	}
	th := m.thresholds.For(s.Line.Type)
	lat, lon := s.Location.Latitude, s.Location.Longitude
	if s.Next.DistanceTo(lat, lon) <= th.ApproachingMeters {
		return HeaderArriving
	}
	if s.Current.DistanceTo(lat, lon) > th.ArrivedMeters {
		return HeaderNext
	}
	return HeaderCurrent
}

// inferDirection picks the direction that leads from the current station
// toward the bound. Without a current station the bound is assumed to be
// the far end of an outbound trip unless it is the outbound origin.
func inferDirection(line *topology.Line, current *topology.Station, boundIdx int) topology.Direction {
	if current != nil {
		if cur := line.IndexOf(current.ID); cur >= 0 && cur != boundIdx {
			if (boundIdx-cur)*line.Step(topology.Outbound) > 0 {
				return topology.Outbound
			}
			return topology.Inbound
		}
	}
	origin := 0
	if line.Step(topology.Outbound) < 0 {
		origin = len(line.Stations) - 1
	}
	if boundIdx == origin {
		return topology.Inbound
	}
	return topology.Outbound
}

func servedStations(line *topology.Line, tt *topology.TrainType) []topology.Station {
	if line == nil {
		return nil
	}
	out := make([]topology.Station, 0, len(line.Stations))
	for _, st := range line.Stations {
		if topology.Served(st, tt) {
			out = append(out, st)
		}
	}
	return out
}
