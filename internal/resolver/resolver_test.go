package resolver

import (
	"testing"

	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

// Stations roughly 1.1km apart along the equator
var (
	stA = topology.Station{ID: 1, Name: "A", Latitude: 0, Longitude: 0.00}
	stB = topology.Station{ID: 2, Name: "B", Latitude: 0, Longitude: 0.01}
	stC = topology.Station{ID: 3, Name: "C", Latitude: 0, Longitude: 0.02}
)

func testLine(o topology.Orientation) *topology.Line {
	return &topology.Line{
		ID:          "L",
		Type:        topology.LineTypeNormal,
		Orientation: o,
		Stations:    []topology.Station{stA, stB, stC},
	}
}

func at(lat, lon float64) location.Sample {
	return location.Sample{Latitude: lat, Longitude: lon}
}

func ids(stations []topology.Station) []int {
	out := make([]int, len(stations))
	for i, s := range stations {
		out[i] = s.ID
	}
	return out
}

func equalIDs(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func idOf(s *topology.Station) int {
	if s == nil {
		return 0
	}
	return s.ID
}

func TestResolve_OutboundToBound(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	r := New(DefaultEpsilon)

	tests := []struct {
		name        string
		sample      location.Sample
		wantCurrent int
		wantNext    int // 0 = terminal
		wantLeft    []int
	}{
		{"at A", at(0, 0.0005), 1, 2, []int{2, 3}},
		{"at B", at(0, 0.0102), 2, 3, []int{3}},
		{"at C", at(0, 0.0199), 3, 0, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Resolve(Query{
				Sample:    tt.sample,
				Line:      line,
				Direction: topology.Outbound,
				Bound:     &stC,
			})
			if idOf(res.Current) != tt.wantCurrent {
				t.Errorf("current = %d, want %d", idOf(res.Current), tt.wantCurrent)
			}
			if idOf(res.Next) != tt.wantNext {
				t.Errorf("next = %d, want %d", idOf(res.Next), tt.wantNext)
			}
			if !equalIDs(ids(res.Left), tt.wantLeft) {
				t.Errorf("left = %v, want %v", ids(res.Left), tt.wantLeft)
			}
			if res.Left == nil {
				t.Error("left should be empty, not nil")
			}
		})
	}
}

func TestResolve_SkipsUnservedStations(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	rapid := &topology.TrainType{Code: "rapid", Stops: []int{1, 3}}

	res := New(DefaultEpsilon).Resolve(Query{
		Sample:    at(0, 0.0003),
		Line:      line,
		TrainType: rapid,
		Direction: topology.Outbound,
		Bound:     &stC,
	})
	if idOf(res.Next) != 3 {
		t.Errorf("next = %d, want C (B is skipped)", idOf(res.Next))
	}
	if !equalIDs(ids(res.Left), []int{3}) {
		t.Errorf("left = %v, want [3]", ids(res.Left))
	}
}

func TestResolve_MinimalTrainTypeUsesStationCodes(t *testing.T) {
	b := stB
	b.TrainTypes = []string{"local"}
	line := &topology.Line{ID: "L", Stations: []topology.Station{stA, b, stC}}
	express := &topology.TrainType{Code: "express"}

	next := NextStop(line, stA, express, topology.Outbound, nil)
	if idOf(next) != 3 {
		t.Errorf("next = %d, want C", idOf(next))
	}
}

func TestResolve_Inbound(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	res := New(DefaultEpsilon).Resolve(Query{
		Sample:    at(0, 0.0199),
		Line:      line,
		Direction: topology.Inbound,
		Bound:     &stA,
	})
	if idOf(res.Current) != 3 || idOf(res.Next) != 2 {
		t.Errorf("current/next = %d/%d, want 3/2", idOf(res.Current), idOf(res.Next))
	}
	if !equalIDs(ids(res.Left), []int{2, 1}) {
		t.Errorf("left = %v, want [2 1]", ids(res.Left))
	}
}

func TestResolve_DescendingOrientation(t *testing.T) {
	line := testLine(topology.OrientationDescending)
	res := New(DefaultEpsilon).Resolve(Query{
		Sample:    at(0, 0.0199),
		Line:      line,
		Direction: topology.Outbound,
	})
	if idOf(res.Next) != 2 {
		t.Errorf("outbound on a descending line should move to lower indexes, next = %d", idOf(res.Next))
	}
	if !equalIDs(ids(res.Left), []int{2, 1}) {
		t.Errorf("left without bound should run to line end, got %v", ids(res.Left))
	}
}

func TestResolve_BoundBehindIsIgnored(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	// Bound A while heading outbound from B: scan runs to the line end
	left := LeftStations(line, stB, nil, topology.Outbound, &stA)
	if !equalIDs(ids(left), []int{3}) {
		t.Errorf("left = %v, want [3]", ids(left))
	}
}

func TestResolve_OnlySelectedLineConsidered(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	// An interchange station on another line sits right under the sample
	other := topology.Station{ID: 99, Latitude: 0.001, Longitude: 0.0151}

	res := New(DefaultEpsilon).Resolve(Query{
		Sample:    at(0.001, 0.0151),
		Line:      line,
		Stations:  []topology.Station{stA, stB, stC, other},
		Direction: topology.Outbound,
	})
	if !line.Contains(idOf(res.Current)) {
		t.Fatalf("current %d is not on the selected line", idOf(res.Current))
	}
	if res.Next != nil && !line.Contains(res.Next.ID) {
		t.Errorf("next %d is not on the selected line", res.Next.ID)
	}
	for _, s := range res.Left {
		if !line.Contains(s.ID) {
			t.Errorf("left station %d is not on the selected line", s.ID)
		}
	}
}

func TestResolve_NoLineSearchesAllStations(t *testing.T) {
	other := topology.Station{ID: 99, Latitude: 0.5, Longitude: 0.5}
	res := New(DefaultEpsilon).Resolve(Query{
		Sample:   at(0.4999, 0.5),
		Stations: []topology.Station{stA, stB, other},
	})
	if idOf(res.Current) != 99 {
		t.Errorf("current = %d, want 99", idOf(res.Current))
	}
	if res.Index != -1 || res.Next != nil || res.Left != nil {
		t.Errorf("no line should give no next/left, got %+v", res)
	}
}

func TestResolve_FarSampleStillAnswers(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	res := New(DefaultEpsilon).Resolve(Query{
		Sample:    at(10, 10),
		Line:      line,
		Direction: topology.Outbound,
	})
	if res.Current == nil {
		t.Fatal("a sample far from every station should still resolve")
	}
	if res.Distance < 1_000_000 {
		t.Errorf("distance = %.0f, expected over 1000km", res.Distance)
	}
}

func TestResolve_Empty(t *testing.T) {
	res := New(DefaultEpsilon).Resolve(Query{Sample: at(0, 0)})
	if res.Current != nil || res.Index != -1 {
		t.Errorf("no candidates should give no station, got %+v", res)
	}
}

func TestResolve_TieBreak(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	mid := at(0, 0.005) // equidistant from A and B
	r := New(DefaultEpsilon)

	res := r.Resolve(Query{Sample: mid, Line: line, Direction: topology.Outbound, Previous: &stB})
	if idOf(res.Current) != 2 {
		t.Errorf("tie including previous should keep B, got %d", idOf(res.Current))
	}

	res = r.Resolve(Query{Sample: mid, Line: line, Direction: topology.Outbound, Previous: &stA})
	if idOf(res.Current) != 1 {
		t.Errorf("tie including previous should keep A, got %d", idOf(res.Current))
	}

	// Previous is not tied: the tied station ahead in travel direction wins
	between := at(0, 0.015) // equidistant from B and C
	res = r.Resolve(Query{Sample: between, Line: line, Direction: topology.Inbound, Previous: &stC})
	if idOf(res.Current) != 3 {
		// C is within epsilon of the best too, so it is kept
		t.Errorf("got %d, want previous C", idOf(res.Current))
	}
}

func TestResolve_TieBreakAheadOfPrevious(t *testing.T) {
	// Four stations where B and C are equidistant from the sample and
	// the previous station A is far away
	d := topology.Station{ID: 4, Latitude: 0, Longitude: 0.03}
	line := &topology.Line{ID: "L", Stations: []topology.Station{stA, stB, stC, d}}
	r := New(DefaultEpsilon)

	res := r.Resolve(Query{Sample: at(0, 0.015), Line: line, Direction: topology.Outbound, Previous: &stA})
	if idOf(res.Current) != 2 {
		t.Errorf("outbound from A should pick B (closest ahead), got %d", idOf(res.Current))
	}

	res = r.Resolve(Query{Sample: at(0, 0.015), Line: line, Direction: topology.Inbound, Previous: &d})
	if idOf(res.Current) != 3 {
		t.Errorf("inbound from D should pick C (closest ahead), got %d", idOf(res.Current))
	}
}

func TestResolve_Monotonic(t *testing.T) {
	line := testLine(topology.OrientationAscending)
	r := New(DefaultEpsilon)

	var prev *topology.Station
	lastIdx := -1
	for lon := 0.0; lon <= 0.02; lon += 0.001 {
		res := r.Resolve(Query{
			Sample:    at(0, lon),
			Line:      line,
			Direction: topology.Outbound,
			Bound:     &stC,
			Previous:  prev,
		})
		if res.Index < lastIdx {
			t.Fatalf("index went backwards at lon=%f: %d after %d", lon, res.Index, lastIdx)
		}
		lastIdx = res.Index
		prev = res.Current
	}
	if lastIdx != 2 {
		t.Errorf("final index = %d, want 2", lastIdx)
	}
}
