package topology

import (
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownLine      = errors.New("unknown line")
	ErrUnknownStation   = errors.New("unknown station")
	ErrUnknownTrainType = errors.New("unknown train type")
)

// document is the on-disk topology format
type document struct {
	GeneratedAt string         `yaml:"generated_at"`
	Lines       []lineDoc      `yaml:"lines" validate:"required,min=1,dive"`
	TrainTypes  []trainTypeDoc `yaml:"train_types,omitempty" validate:"dive"`
}

type lineDoc struct {
	ID          string       `yaml:"id" validate:"required"`
	Name        string       `yaml:"name"`
	Color       string       `yaml:"color,omitempty" validate:"omitempty,hexcolor"`
	Type        string       `yaml:"type,omitempty" validate:"omitempty,oneof=normal subway tram monorail newshuttle bullettrain"`
	Orientation string       `yaml:"orientation,omitempty" validate:"omitempty,oneof=ascending descending"`
	Stations    []stationDoc `yaml:"stations" validate:"min=2,dive"`
}

type stationDoc struct {
	ID         int      `yaml:"id" validate:"gt=0"`
	Name       string   `yaml:"name" validate:"required"`
	NameRoman  string   `yaml:"name_roman,omitempty"`
	Lat        float64  `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon        float64  `yaml:"lon" validate:"gte=-180,lte=180"`
	TrainTypes []string `yaml:"train_types,omitempty"`
}

type trainTypeDoc struct {
	Code  string `yaml:"code" validate:"required"`
	Name  string `yaml:"name"`
	Stops []int  `yaml:"stops,omitempty"`
}

// Store holds the immutable line and station topology.
// It is never mutated after construction and is safe for concurrent reads.
type Store struct {
	generatedAt time.Time
	lines       []Line
	lineIndex   map[string]int
	stations    map[int]Station
	stationIDs  []int // first-seen order
	trainTypes  map[string]TrainType
	typeCodes   []string
}

// Load reads and validates a topology YAML file
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}

	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	var generatedAt time.Time
	if doc.GeneratedAt != "" {
		generatedAt, err = time.Parse(time.RFC3339, doc.GeneratedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid generated_at %q: %w", doc.GeneratedAt, err)
		}
	}

	lines := make([]Line, 0, len(doc.Lines))
	for _, ld := range doc.Lines {
		line := Line{
			ID:          ld.ID,
			Name:        ld.Name,
			Color:       ld.Color,
			Type:        LineType(ld.Type),
			Orientation: Orientation(ld.Orientation),
		}
		for _, sd := range ld.Stations {
			line.Stations = append(line.Stations, Station{
				ID:         sd.ID,
				Name:       sd.Name,
				NameRoman:  sd.NameRoman,
				Latitude:   sd.Lat,
				Longitude:  sd.Lon,
				TrainTypes: sd.TrainTypes,
			})
		}
		lines = append(lines, line)
	}

	trainTypes := make([]TrainType, 0, len(doc.TrainTypes))
	for _, td := range doc.TrainTypes {
		trainTypes = append(trainTypes, TrainType{Code: td.Code, Name: td.Name, Stops: td.Stops})
	}

	store, err := NewStore(lines, trainTypes, generatedAt)
	if err != nil {
		return nil, err
	}

	log.Printf("Topology: loaded %d lines, %d stations, %d train types from %s",
		len(store.lines), len(store.stations), len(store.trainTypes), path)
	for _, l := range store.lines {
		log.Printf("Topology: line %s outbound runs %s (%d stations)", l.ID, l.Orientation, len(l.Stations))
	}
	return store, nil
}

// NewStore builds a store from already parsed lines and train types.
// Stations that appear on several lines are merged by ID.
func NewStore(lines []Line, trainTypes []TrainType, generatedAt time.Time) (*Store, error) {
	s := &Store{
		generatedAt: generatedAt,
		lineIndex:   make(map[string]int),
		stations:    make(map[int]Station),
		trainTypes:  make(map[string]TrainType),
	}

	// First pass: collect stations and the lines they connect to
	for _, l := range lines {
		if _, dup := s.lineIndex[l.ID]; dup {
			return nil, fmt.Errorf("duplicate line %q", l.ID)
		}
		s.lineIndex[l.ID] = len(s.lineIndex)

		seen := make(map[int]bool, len(l.Stations))
		for _, st := range l.Stations {
			if seen[st.ID] {
				return nil, fmt.Errorf("line %s lists station %d twice", l.ID, st.ID)
			}
			seen[st.ID] = true

			merged, ok := s.stations[st.ID]
			if !ok {
				merged = st
				merged.Lines = nil
				s.stationIDs = append(s.stationIDs, st.ID)
			}
			merged.Lines = appendUnique(merged.Lines, st.Lines...)
			merged.Lines = appendUnique(merged.Lines, l.ID)
			s.stations[st.ID] = merged
		}
	}

	// Second pass: lines carry the merged station records
	s.lines = make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Orientation == "" {
			l.Orientation = OrientationAscending
		}
		if l.Type == "" {
			l.Type = LineTypeNormal
		}
		stations := make([]Station, len(l.Stations))
		for i, st := range l.Stations {
			stations[i] = s.stations[st.ID]
		}
		l.Stations = stations
		s.lines = append(s.lines, l)
	}

	for _, tt := range trainTypes {
		if _, dup := s.trainTypes[tt.Code]; dup {
			return nil, fmt.Errorf("duplicate train type %q", tt.Code)
		}
		for _, id := range tt.Stops {
			if _, ok := s.stations[id]; !ok {
				return nil, fmt.Errorf("train type %s: %w %d", tt.Code, ErrUnknownStation, id)
			}
		}
		s.trainTypes[tt.Code] = tt
		s.typeCodes = append(s.typeCodes, tt.Code)
	}

	return s, nil
}

// Line returns the line with the given ID
func (s *Store) Line(id string) (*Line, error) {
	i, ok := s.lineIndex[id]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownLine, id)
	}
	l := s.lines[i]
	return &l, nil
}

// Lines returns every line in file order
func (s *Store) Lines() []Line {
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Station returns a station by ID
func (s *Store) Station(id int) (Station, error) {
	st, ok := s.stations[id]
	if !ok {
		return Station{}, fmt.Errorf("%w %d", ErrUnknownStation, id)
	}
	return st, nil
}

// Stations returns every station once, across all lines
func (s *Store) Stations() []Station {
	out := make([]Station, 0, len(s.stationIDs))
	for _, id := range s.stationIDs {
		out = append(out, s.stations[id])
	}
	return out
}

// TrainType returns the train type with the given code
func (s *Store) TrainType(code string) (*TrainType, error) {
	tt, ok := s.trainTypes[code]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTrainType, code)
	}
	return &tt, nil
}

// TrainTypes returns every train type in file order
func (s *Store) TrainTypes() []TrainType {
	out := make([]TrainType, 0, len(s.typeCodes))
	for _, c := range s.typeCodes {
		out = append(out, s.trainTypes[c])
	}
	return out
}

// GeneratedAt returns when the topology was produced, zero if unknown
func (s *Store) GeneratedAt() time.Time {
	return s.generatedAt
}

// Stale reports whether the topology is older than maxAge or undated
func (s *Store) Stale(maxAge time.Duration) bool {
	if s.generatedAt.IsZero() {
		return true
	}
	return time.Since(s.generatedAt) > maxAge
}

// Save writes the store in the topology YAML format
func (s *Store) Save(path string) error {
	doc := document{}
	if !s.generatedAt.IsZero() {
		doc.GeneratedAt = s.generatedAt.UTC().Format(time.RFC3339)
	}
	for _, l := range s.lines {
		ld := lineDoc{
			ID:          l.ID,
			Name:        l.Name,
			Color:       l.Color,
			Type:        string(l.Type),
			Orientation: string(l.Orientation),
		}
		for _, st := range l.Stations {
			ld.Stations = append(ld.Stations, stationDoc{
				ID:         st.ID,
				Name:       st.Name,
				NameRoman:  st.NameRoman,
				Lat:        st.Latitude,
				Lon:        st.Longitude,
				TrainTypes: st.TrainTypes,
			})
		}
		doc.Lines = append(doc.Lines, ld)
	}
	for _, tt := range s.TrainTypes() {
		doc.TrainTypes = append(doc.TrainTypes, trainTypeDoc{Code: tt.Code, Name: tt.Name, Stops: tt.Stops})
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode topology: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
