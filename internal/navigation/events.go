package navigation

import (
	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

// Event is a request to change the navigation state. Events are applied one
// at a time by the machine in arrival order.
type Event interface {
	event()
}

// SampleEvent carries a new position fix and its accuracy classification
type SampleEvent struct {
	Sample   location.Sample
	Degraded bool
}

// UnavailableEvent reports that no fix could be obtained
type UnavailableEvent struct {
	Err error
}

type SelectLine struct {
	LineID string
}

// SelectBound picks the journey destination. An unset direction is
// inferred from the current station.
type SelectBound struct {
	StationID int
	Direction topology.Direction
}

// SetTrainType switches the service pattern. An empty code clears it.
type SetTrainType struct {
	Code string
}

type SetAutoMode struct {
	Enabled bool
}

type SetTheme struct {
	Theme string
}

// ResetJourney clears the line, bound and stations. Theme and auto mode are
// kept.
type ResetJourney struct{}

// RemoteSnapshot replaces the whole journey with a mirrored one
type RemoteSnapshot struct {
	Snapshot Snapshot
}

// Snapshot is a complete journey received from a publisher
type Snapshot struct {
	Header       HeaderState
	Line         *topology.Line
	Bound        *topology.Station
	Direction    topology.Direction
	Current      *topology.Station
	Next         *topology.Station
	LeftStations []topology.Station
	Stations     []topology.Station
	RawStations  []topology.Station
	TrainType    *topology.TrainType
	AutoMode     bool
	Location     *location.Sample
	Theme        string
	Terminal     bool
}

func (SampleEvent) event()      {}
func (UnavailableEvent) event() {}
func (SelectLine) event()       {}
func (SelectBound) event()      {}
func (SetTrainType) event()     {}
func (SetAutoMode) event()      {}
func (SetTheme) event()         {}
func (ResetJourney) event()     {}
func (RemoteSnapshot) event()   {}
