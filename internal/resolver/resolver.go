// Package resolver turns a position fix into the rider's current station,
// next stop and remaining stations on the active line.
//
// The resolver always answers when it has candidates: a fix far from every
// station still resolves to the nearest one. Withholding a call (no line,
// no topology) is the caller's decision.
package resolver

import (
	"math"

	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

// DefaultEpsilon is the distance in meters under which two stations count
// as equally near
const DefaultEpsilon = 5.0

// Query is the input to a single resolution
type Query struct {
	Sample location.Sample

	// Line is the active line. When nil, Stations is searched instead
	// (initial acquisition before a line is chosen).
	Line     *topology.Line
	Stations []topology.Station

	TrainType *topology.TrainType
	Direction topology.Direction
	Bound     *topology.Station

	// Previous is the last resolved station, used to break ties
	Previous *topology.Station
}

// Result is what the resolver found
type Result struct {
	Current  *topology.Station
	Next     *topology.Station // nil when terminal
	Left     []topology.Station
	Distance float64 // meters from the sample to Current
	Index    int     // Current's index on the line, -1 without a line
}

// Resolver finds the nearest station with tie-breaking toward stability
type Resolver struct {
	epsilon float64
}

// New creates a resolver. Stations whose distances differ by no more than
// epsilonMeters are treated as tied.
func New(epsilonMeters float64) *Resolver {
	if epsilonMeters < 0 {
		epsilonMeters = 0
	}
	return &Resolver{epsilon: epsilonMeters}
}

// Resolve computes current, next and remaining stations for a sample
func (r *Resolver) Resolve(q Query) Result {
	candidates := q.Stations
	if q.Line != nil {
		candidates = q.Line.Stations
	}
	if len(candidates) == 0 {
		return Result{Index: -1}
	}

	idx, dist := r.nearest(candidates, q)
	current := candidates[idx]

	res := Result{
		Current:  &current,
		Distance: dist,
		Index:    -1,
	}
	if q.Line == nil {
		return res
	}

	res.Index = idx
	res.Next = nextStop(q.Line, idx, q.TrainType, q.Direction, q.Bound)
	res.Left = leftStations(q.Line, idx, q.TrainType, q.Direction, q.Bound)
	return res
}

func (r *Resolver) nearest(candidates []topology.Station, q Query) (int, float64) {
	dists := make([]float64, len(candidates))
	best := math.MaxFloat64
	bestIdx := 0
	for i, st := range candidates {
		dists[i] = st.DistanceTo(q.Sample.Latitude, q.Sample.Longitude)
		if dists[i] < best {
			best = dists[i]
			bestIdx = i
		}
	}

	if q.Previous == nil {
		return bestIdx, best
	}

	var ties []int
	for i, d := range dists {
		if d-best <= r.epsilon {
			ties = append(ties, i)
		}
	}
	if len(ties) < 2 {
		return bestIdx, best
	}

	// Stay on the previous station when it is one of the tied candidates
	for _, i := range ties {
		if candidates[i].ID == q.Previous.ID {
			return i, dists[i]
		}
	}

	// Otherwise take the tied station closest ahead of it in travel direction
	if q.Line == nil {
		return bestIdx, best
	}
	step := q.Line.Step(q.Direction)
	prevIdx := q.Line.IndexOf(q.Previous.ID)
	if step == 0 || prevIdx < 0 {
		return bestIdx, best
	}

	chosen := -1
	for _, i := range ties {
		ahead := (i - prevIdx) * step
		if ahead <= 0 {
			continue
		}
		if chosen < 0 || ahead < (chosen-prevIdx)*step {
			chosen = i
		}
	}
	if chosen < 0 {
		return bestIdx, best
	}
	return chosen, dists[chosen]
}

// NextStop returns the first station after current, in the travel direction,
// that the train type serves. The scan stops at the bound station (inclusive)
// when it lies ahead, otherwise at the end of the line. Nil means terminal.
func NextStop(line *topology.Line, current topology.Station, tt *topology.TrainType, dir topology.Direction, bound *topology.Station) *topology.Station {
	return nextStop(line, line.IndexOf(current.ID), tt, dir, bound)
}

// LeftStations returns the served stations after current up to and
// including the bound station, in travel order
func LeftStations(line *topology.Line, current topology.Station, tt *topology.TrainType, dir topology.Direction, bound *topology.Station) []topology.Station {
	return leftStations(line, line.IndexOf(current.ID), tt, dir, bound)
}

func nextStop(line *topology.Line, idx int, tt *topology.TrainType, dir topology.Direction, bound *topology.Station) *topology.Station {
	var next *topology.Station
	scan(line, idx, dir, bound, func(st topology.Station) bool {
		if topology.Served(st, tt) {
			next = &st
			return false
		}
		return true
	})
	return next
}

func leftStations(line *topology.Line, idx int, tt *topology.TrainType, dir topology.Direction, bound *topology.Station) []topology.Station {
	left := []topology.Station{}
	scan(line, idx, dir, bound, func(st topology.Station) bool {
		if topology.Served(st, tt) {
			left = append(left, st)
		}
		return true
	})
	return left
}

// scan visits stations after idx in travel order until fn returns false
func scan(line *topology.Line, idx int, dir topology.Direction, bound *topology.Station, fn func(topology.Station) bool) {
	if line == nil || idx < 0 || idx >= len(line.Stations) {
		return
	}
	step := line.Step(dir)
	if step == 0 {
		return
	}

	limit := len(line.Stations) - 1
	if step < 0 {
		limit = 0
	}
	if bound != nil {
		if b := line.IndexOf(bound.ID); b >= 0 && (b-idx)*step >= 0 {
			limit = b
		}
	}

	for i := idx + step; (step > 0 && i <= limit) || (step < 0 && i >= limit); i += step {
		if !fn(line.Stations[i]) {
			return
		}
	}
}
