package mirror

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/navigation"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

// PayloadVersion is the schema version written by this package
const PayloadVersion = 1

var ErrInvalidPayload = errors.New("invalid mirror payload")

var validate = validator.New()

// Payload is the shared session document. Every write carries the full
// document; there are no partial updates.
type Payload struct {
	Version int `json:"version" validate:"eq=1"`

	Latitude  *float64 `json:"latitude,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude,omitempty" validate:"omitempty,gte=-180,lte=180"`
	Accuracy  *float64 `json:"accuracy,omitempty" validate:"omitempty,gte=0"`

	SelectedLine      *LineDoc      `json:"selectedLine,omitempty"`
	SelectedBound     *StationDoc   `json:"selectedBound,omitempty"`
	TrainType         *TrainTypeDoc `json:"trainType,omitempty"`
	SelectedDirection string        `json:"selectedDirection" validate:"omitempty,oneof=INBOUND OUTBOUND"`

	Stations     []StationDoc `json:"stations" validate:"dive"`
	LeftStations []StationDoc `json:"leftStations" validate:"dive"`
	RawStations  []StationDoc `json:"rawStations" validate:"dive"`

	Theme string `json:"theme"`

	CurrentStation *StationDoc `json:"currentStation,omitempty"`
	NextStation    *StationDoc `json:"nextStation,omitempty"`
	HeaderState    string      `json:"headerState,omitempty" validate:"omitempty,oneof=CURRENT NEXT ARRIVING"`
	AutoMode       bool        `json:"autoMode"`
	Terminal       bool        `json:"terminal"`
}

type LineDoc struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name"`
	Color       string `json:"color,omitempty"`
	Type        string `json:"type,omitempty"`
	Orientation string `json:"orientation,omitempty" validate:"omitempty,oneof=ascending descending"`
}

type StationDoc struct {
	ID         int      `json:"id" validate:"gt=0"`
	Name       string   `json:"name" validate:"required"`
	NameRoman  string   `json:"nameRoman,omitempty"`
	Latitude   float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Lines      []string `json:"lines,omitempty"`
	TrainTypes []string `json:"trainTypes,omitempty"`
}

type TrainTypeDoc struct {
	Code  string `json:"code" validate:"required"`
	Name  string `json:"name"`
	Stops []int  `json:"stops,omitempty"`
}

// Validate checks the payload schema
func (p *Payload) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidPayload)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Ready reports whether a subscriber can mirror this session
func (p *Payload) Ready() bool {
	return p != nil && p.SelectedLine != nil && p.SelectedBound != nil
}

// Encode returns the JSON form of the payload
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses and validates a stored document
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// FromState projects the navigation state into a payload
func FromState(s navigation.State) Payload {
	p := Payload{
		Version:           PayloadVersion,
		SelectedDirection: string(s.Direction),
		Stations:          stationDocs(s.Stations),
		LeftStations:      stationDocs(s.LeftStations),
		RawStations:       stationDocs(s.RawStations),
		Theme:             s.Theme,
		CurrentStation:    stationDoc(s.Current),
		NextStation:       stationDoc(s.Next),
		HeaderState:       string(s.Header),
		AutoMode:          s.AutoMode,
		Terminal:          s.Terminal,
		SelectedBound:     stationDoc(s.Bound),
	}
	if s.Location != nil {
		lat, lon := s.Location.Latitude, s.Location.Longitude
		p.Latitude, p.Longitude = &lat, &lon
		if s.Location.Accuracy != nil {
			acc := *s.Location.Accuracy
			p.Accuracy = &acc
		}
	}
	if s.Line != nil {
		p.SelectedLine = &LineDoc{
			ID:          s.Line.ID,
			Name:        s.Line.Name,
			Color:       s.Line.Color,
			Type:        string(s.Line.Type),
			Orientation: string(s.Line.Orientation),
		}
	}
	if s.TrainType != nil {
		p.TrainType = &TrainTypeDoc{
			Code:  s.TrainType.Code,
			Name:  s.TrainType.Name,
			Stops: append([]int(nil), s.TrainType.Stops...),
		}
	}
	return p
}

// Snapshot converts the payload back into a journey the machine can apply.
// The line's stations are rebuilt from RawStations.
func (p *Payload) Snapshot() navigation.Snapshot {
	snap := navigation.Snapshot{
		Header:       navigation.HeaderState(p.HeaderState),
		Bound:        p.SelectedBound.station(),
		Direction:    topology.Direction(p.SelectedDirection),
		Current:      p.CurrentStation.station(),
		Next:         p.NextStation.station(),
		LeftStations: stations(p.LeftStations),
		Stations:     stations(p.Stations),
		RawStations:  stations(p.RawStations),
		AutoMode:     p.AutoMode,
		Theme:        p.Theme,
		Terminal:     p.Terminal,
	}
	if p.SelectedLine != nil {
		snap.Line = &topology.Line{
			ID:          p.SelectedLine.ID,
			Name:        p.SelectedLine.Name,
			Color:       p.SelectedLine.Color,
			Type:        topology.LineType(p.SelectedLine.Type),
			Orientation: topology.Orientation(p.SelectedLine.Orientation),
			Stations:    stations(p.RawStations),
		}
	}
	if p.TrainType != nil {
		snap.TrainType = &topology.TrainType{
			Code:  p.TrainType.Code,
			Name:  p.TrainType.Name,
			Stops: append([]int(nil), p.TrainType.Stops...),
		}
	}
	if p.Latitude != nil && p.Longitude != nil {
		loc := location.Sample{Latitude: *p.Latitude, Longitude: *p.Longitude}
		if p.Accuracy != nil {
			acc := *p.Accuracy
			loc.Accuracy = &acc
		}
		snap.Location = &loc
	}
	return snap
}

func stationDoc(s *topology.Station) *StationDoc {
	if s == nil {
		return nil
	}
	d := toDoc(*s)
	return &d
}

func toDoc(s topology.Station) StationDoc {
	return StationDoc{
		ID:         s.ID,
		Name:       s.Name,
		NameRoman:  s.NameRoman,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		Lines:      append([]string(nil), s.Lines...),
		TrainTypes: append([]string(nil), s.TrainTypes...),
	}
}

func stationDocs(in []topology.Station) []StationDoc {
	out := make([]StationDoc, 0, len(in))
	for _, s := range in {
		out = append(out, toDoc(s))
	}
	return out
}

func (d *StationDoc) station() *topology.Station {
	if d == nil {
		return nil
	}
	s := d.toStation()
	return &s
}

func (d StationDoc) toStation() topology.Station {
	return topology.Station{
		ID:         d.ID,
		Name:       d.Name,
		NameRoman:  d.NameRoman,
		Latitude:   d.Latitude,
		Longitude:  d.Longitude,
		Lines:      append([]string(nil), d.Lines...),
		TrainTypes: append([]string(nil), d.TrainTypes...),
	}
}

func stations(in []StationDoc) []topology.Station {
	out := make([]topology.Station, 0, len(in))
	for _, d := range in {
		out = append(out, d.toStation())
	}
	return out
}
