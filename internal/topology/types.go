package topology

import "slices"

// LineType is the kind of service a line runs
type LineType string

const (
	LineTypeNormal      LineType = "normal"
	LineTypeSubway      LineType = "subway"
	LineTypeTram        LineType = "tram"
	LineTypeMonorail    LineType = "monorail"
	LineTypeNewShuttle  LineType = "newshuttle"
	LineTypeBulletTrain LineType = "bullettrain"
)

// Orientation fixes how travel directions map onto station indexes of a line.
// Ascending: OUTBOUND moves toward higher indexes, INBOUND toward lower ones.
// Descending flips both.
type Orientation string

const (
	OrientationAscending  Orientation = "ascending"
	OrientationDescending Orientation = "descending"
)

// Direction is the rider's direction of travel along a line
type Direction string

const (
	DirectionUnset Direction = ""
	Inbound        Direction = "INBOUND"
	Outbound       Direction = "OUTBOUND"
)

// Valid reports whether d is one of the two travel directions
func (d Direction) Valid() bool {
	return d == Inbound || d == Outbound
}

// Opposite returns the reverse direction
func (d Direction) Opposite() Direction {
	switch d {
	case Inbound:
		return Outbound
	case Outbound:
		return Inbound
	}
	return DirectionUnset
}

// Station is a stop on one or more lines
type Station struct {
	ID         int
	Name       string
	NameRoman  string
	Latitude   float64
	Longitude  float64
	Lines      []string // line IDs this station connects to
	TrainTypes []string // train type codes stopping here, empty = all
}

// Line is an ordered sequence of stations
type Line struct {
	ID          string
	Name        string
	Color       string
	Type        LineType
	Orientation Orientation
	Stations    []Station // canonical order
}

// IndexOf returns the position of a station on the line, or -1
func (l *Line) IndexOf(stationID int) int {
	if l == nil {
		return -1
	}
	for i, s := range l.Stations {
		if s.ID == stationID {
			return i
		}
	}
	return -1
}

// Step returns the index delta for one stop in the given direction.
// Zero means the direction is unset.
func (l *Line) Step(dir Direction) int {
	step := 0
	switch dir {
	case Outbound:
		step = 1
	case Inbound:
		step = -1
	}
	if l != nil && l.Orientation == OrientationDescending {
		step = -step
	}
	return step
}

// Contains reports whether the station is on this line
func (l *Line) Contains(stationID int) bool {
	return l.IndexOf(stationID) >= 0
}

// TrainType is a service pattern. A minimal train type has no Stops and
// only carries its code and name.
type TrainType struct {
	Code  string
	Name  string
	Stops []int // station IDs served, in line order
}

// Minimal reports whether the full stop list is unavailable
func (t *TrainType) Minimal() bool {
	return t == nil || len(t.Stops) == 0
}

// Served reports whether a train of type tt stops at the station.
// A nil train type stops everywhere.
func Served(s Station, tt *TrainType) bool {
	if tt == nil {
		return true
	}
	if !tt.Minimal() {
		return slices.Contains(tt.Stops, s.ID)
	}
	if len(s.TrainTypes) == 0 {
		return true
	}
	return slices.Contains(s.TrainTypes, tt.Code)
}
