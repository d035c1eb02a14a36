package gtfs

import (
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

// syntheticIDBase is the first station ID handed to non-numeric stop IDs
const syntheticIDBase = 1_000_000

// BuildOptions selects what to import
type BuildOptions struct {
	// Lines restricts the import to these route short names, all when empty
	Lines []string
	// RouteTypes restricts the import to these GTFS route types, all when empty
	RouteTypes []int
}

// BuildTopology turns parsed GTFS into lines and train types.
//
// Routes sharing a short name form one line. The line's station order is the
// longest direction_id 0 trip among its routes, so OUTBOUND runs toward
// increasing index. Every other route of the line whose longest trip serves a
// strict subset of those stations becomes a train type with that stop list.
func BuildTopology(data *Data, opts BuildOptions) ([]topology.Line, []topology.TrainType) {
	stations := buildStations(data.Stops)
	tripStops := tripStopSequences(data.StopTimes)

	tripsByRoute := make(map[string][]Trip)
	for _, t := range data.Trips {
		if t.DirectionID == 0 {
			tripsByRoute[t.RouteID] = append(tripsByRoute[t.RouteID], t)
		}
	}

	// Group routes by line name, keeping first-seen order
	var names []string
	routesByLine := make(map[string][]Route)
	for _, r := range data.Routes {
		if !wanted(r, opts) {
			continue
		}
		name := lineName(r)
		if _, ok := routesByLine[name]; !ok {
			names = append(names, name)
		}
		routesByLine[name] = append(routesByLine[name], r)
	}

	var lines []topology.Line
	var trainTypes []topology.TrainType
	for _, name := range names {
		routes := routesByLine[name]

		patterns := make(map[string][]int, len(routes))
		var canonical []int
		for _, r := range routes {
			p := longestPattern(tripsByRoute[r.RouteID], tripStops, stations)
			patterns[r.RouteID] = p
			if len(p) > len(canonical) {
				canonical = p
			}
		}
		if len(canonical) < 2 {
			log.Printf("Warning: line %s has no usable trip, skipping", name)
			continue
		}

		first := routes[0]
		line := topology.Line{
			ID:          name,
			Name:        first.RouteLongName,
			Type:        lineType(first.RouteType),
			Orientation: topology.OrientationAscending,
		}
		if first.RouteColor != "" {
			line.Color = "#" + strings.TrimPrefix(first.RouteColor, "#")
		}
		for _, id := range canonical {
			line.Stations = append(line.Stations, stations.byID[id])
		}
		lines = append(lines, line)

		onLine := make(map[int]bool, len(canonical))
		for _, id := range canonical {
			onLine[id] = true
		}
		for _, r := range routes {
			p := patterns[r.RouteID]
			if len(p) < 2 || len(p) >= len(canonical) || !allOn(p, onLine) {
				continue
			}
			trainTypes = append(trainTypes, topology.TrainType{
				Code:  r.RouteID,
				Name:  r.RouteLongName,
				Stops: p,
			})
		}

		log.Printf("GTFS: line %s with %d stations from %d routes", name, len(line.Stations), len(routes))
	}

	return lines, trainTypes
}

type stationIndex struct {
	byStop map[string]int // stop_id -> station ID (parent when present)
	byID   map[int]topology.Station
}

func buildStations(stops []Stop) stationIndex {
	idx := stationIndex{
		byStop: make(map[string]int),
		byID:   make(map[int]topology.Station),
	}
	synthetic := syntheticIDBase
	assign := func(stopID string) int {
		if id, ok := idx.byStop[stopID]; ok {
			return id
		}
		id, err := strconv.Atoi(stopID)
		if err != nil || id <= 0 {
			id = synthetic
			synthetic++
			log.Printf("Warning: stop %s has no numeric ID, using %d", stopID, id)
		}
		idx.byStop[stopID] = id
		return id
	}

	// Parent stations first so platforms resolve to them
	sorted := append([]Stop(nil), stops...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].LocationType == 1 && sorted[j].LocationType != 1
	})

	for _, s := range sorted {
		if s.ParentStation != "" {
			if parent, ok := idx.byStop[s.ParentStation]; ok {
				idx.byStop[s.StopID] = parent
				continue
			}
		}
		id := assign(s.StopID)
		idx.byID[id] = topology.Station{
			ID:        id,
			Name:      s.StopName,
			Latitude:  s.StopLat,
			Longitude: s.StopLon,
		}
	}
	return idx
}

func tripStopSequences(stopTimes []StopTime) map[string][]StopTime {
	byTrip := make(map[string][]StopTime)
	for _, st := range stopTimes {
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}
	for _, seq := range byTrip {
		sort.Slice(seq, func(i, j int) bool { return seq[i].StopSequence < seq[j].StopSequence })
	}
	return byTrip
}

// longestPattern returns the station IDs of the trip with the most stops.
// Repeated stations (loops) keep their first visit.
func longestPattern(trips []Trip, tripStops map[string][]StopTime, stations stationIndex) []int {
	var best []int
	for _, t := range trips {
		seen := make(map[int]bool)
		var pattern []int
		for _, st := range tripStops[t.TripID] {
			id, ok := stations.byStop[st.StopID]
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			pattern = append(pattern, id)
		}
		if len(pattern) > len(best) {
			best = pattern
		}
	}
	return best
}

func allOn(ids []int, onLine map[int]bool) bool {
	for _, id := range ids {
		if !onLine[id] {
			return false
		}
	}
	return true
}

func lineName(r Route) string {
	if r.RouteShortName != "" {
		return r.RouteShortName
	}
	return r.RouteID
}

func wanted(r Route, opts BuildOptions) bool {
	if len(opts.RouteTypes) > 0 && !containsInt(opts.RouteTypes, r.RouteType) {
		return false
	}
	if len(opts.Lines) > 0 {
		name := lineName(r)
		for _, l := range opts.Lines {
			if strings.EqualFold(l, name) {
				return true
			}
		}
		return false
	}
	return true
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// lineType maps GTFS route_type onto the line types the navigator scales
// its thresholds by
func lineType(routeType int) topology.LineType {
	switch routeType {
	case 0:
		return topology.LineTypeTram
	case 1:
		return topology.LineTypeSubway
	case 12:
		return topology.LineTypeMonorail
	case 101:
		return topology.LineTypeBulletTrain
	}
	return topology.LineTypeNormal
}
