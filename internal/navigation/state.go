package navigation

import (
	"errors"
	"slices"

	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

var (
	ErrNoTopology       = errors.New("no topology loaded")
	ErrNoLineSelected   = errors.New("no line selected")
	ErrUnknownLine      = topology.ErrUnknownLine
	ErrUnknownStation   = topology.ErrUnknownStation
	ErrUnknownTrainType = topology.ErrUnknownTrainType
)

// HeaderState is the display mode of the rider-facing header
type HeaderState string

const (
	HeaderCurrent  HeaderState = "CURRENT"
	HeaderNext     HeaderState = "NEXT"
	HeaderArriving HeaderState = "ARRIVING"
)

// Valid reports whether h is a known display mode
func (h HeaderState) Valid() bool {
	return h == HeaderCurrent || h == HeaderNext || h == HeaderArriving
}

// State is the resolved journey as shown to the rider.
// Next, when set, is the first station after Current in Direction that the
// train type serves, never beyond Bound.
type State struct {
	Header    HeaderState
	Line      *topology.Line
	Bound     *topology.Station
	Direction topology.Direction

	Current      *topology.Station
	Next         *topology.Station
	LeftStations []topology.Station

	Stations    []topology.Station // served by TrainType, canonical order
	RawStations []topology.Station // every station on Line

	TrainType *topology.TrainType
	AutoMode  bool
	Location  *location.Sample
	Theme     string
	Terminal  bool

	Revision uint64
}

// Clone returns a deep copy so readers never share slices with the machine
func (s State) Clone() State {
	out := s
	if s.Line != nil {
		l := *s.Line
		l.Stations = slices.Clone(s.Line.Stations)
		out.Line = &l
	}
	out.Bound = cloneStation(s.Bound)
	out.Current = cloneStation(s.Current)
	out.Next = cloneStation(s.Next)
	out.LeftStations = slices.Clone(s.LeftStations)
	out.Stations = slices.Clone(s.Stations)
	out.RawStations = slices.Clone(s.RawStations)
	if s.TrainType != nil {
		tt := *s.TrainType
		tt.Stops = slices.Clone(s.TrainType.Stops)
		out.TrainType = &tt
	}
	if s.Location != nil {
		loc := *s.Location
		if s.Location.Accuracy != nil {
			acc := *s.Location.Accuracy
			loc.Accuracy = &acc
		}
		out.Location = &loc
	}
	return out
}

// Ready reports whether a line and bound station are selected
func (s State) Ready() bool {
	return s.Line != nil && s.Bound != nil
}

func cloneStation(st *topology.Station) *topology.Station {
	if st == nil {
		return nil
	}
	c := *st
	c.Lines = slices.Clone(st.Lines)
	c.TrainTypes = slices.Clone(st.TrainTypes)
	return &c
}

// Flags are side-channel conditions shown next to the state, never part of it
type Flags struct {
	Degraded            bool
	LocationUnavailable bool
	LastError           string
}

// Thresholds drive header transitions, in meters
type Thresholds struct {
	ApproachingMeters float64
	ArrivedMeters     float64
}

// DefaultThresholds suit commuter rail station spacing
var DefaultThresholds = Thresholds{
	ApproachingMeters: 400,
	ArrivedMeters:     150,
}

// For returns the thresholds adjusted to the station spacing of a line type
func (t Thresholds) For(lt topology.LineType) Thresholds {
	factor := 1.0
	switch lt {
	case topology.LineTypeSubway, topology.LineTypeTram:
		factor = 0.5
	case topology.LineTypeBulletTrain:
		factor = 2
	}
	return Thresholds{
		ApproachingMeters: t.ApproachingMeters * factor,
		ArrivedMeters:     t.ArrivedMeters * factor,
	}
}
