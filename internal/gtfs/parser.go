package gtfs

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
)

// Parse reads a GTFS zip file and returns the tables needed for a topology.
// routes.txt, stops.txt, trips.txt and stop_times.txt are required.
func Parse(zipPath string) (*Data, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	files := make(map[string]*zip.File)
	for _, f := range r.File {
		files[f.Name] = f
	}

	data := &Data{}
	tables := []struct {
		name  string
		parse func(row func(string) string)
	}{
		{"routes.txt", func(row func(string) string) {
			routeType, _ := strconv.Atoi(row("route_type"))
			data.Routes = append(data.Routes, Route{
				RouteID:        row("route_id"),
				RouteShortName: row("route_short_name"),
				RouteLongName:  row("route_long_name"),
				RouteType:      routeType,
				RouteColor:     row("route_color"),
			})
		}},
		{"stops.txt", func(row func(string) string) {
			lat, _ := strconv.ParseFloat(row("stop_lat"), 64)
			lon, _ := strconv.ParseFloat(row("stop_lon"), 64)
			locType, _ := strconv.Atoi(row("location_type"))
			data.Stops = append(data.Stops, Stop{
				StopID:        row("stop_id"),
				StopName:      row("stop_name"),
				StopLat:       lat,
				StopLon:       lon,
				LocationType:  locType,
				ParentStation: row("parent_station"),
			})
		}},
		{"trips.txt", func(row func(string) string) {
			directionID, _ := strconv.Atoi(row("direction_id"))
			data.Trips = append(data.Trips, Trip{
				RouteID:      row("route_id"),
				TripID:       row("trip_id"),
				TripHeadsign: row("trip_headsign"),
				DirectionID:  directionID,
			})
		}},
		{"stop_times.txt", func(row func(string) string) {
			seq, _ := strconv.Atoi(row("stop_sequence"))
			data.StopTimes = append(data.StopTimes, StopTime{
				TripID:       row("trip_id"),
				StopID:       row("stop_id"),
				StopSequence: seq,
			})
		}},
	}

	for _, t := range tables {
		f, ok := files[t.name]
		if !ok {
			return nil, fmt.Errorf("missing %s", t.name)
		}
		if err := readTable(f, t.parse); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", t.name, err)
		}
	}

	log.Printf("GTFS parsed: %d routes, %d stops, %d trips, %d stop_times",
		len(data.Routes), len(data.Stops), len(data.Trips), len(data.StopTimes))

	return data, nil
}

// readTable calls fn for every record, with a lookup by column name.
// Malformed records are skipped.
func readTable(f *zip.File, fn func(row func(string) string)) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return err
	}
	idx := makeIndex(header)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			continue
		}
		fn(func(field string) string { return getField(record, idx, field) })
	}
}

func makeIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		// Some feeds start with a UTF-8 BOM
		idx[strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")] = i
	}
	return idx
}

func getField(record []string, idx map[string]int, field string) string {
	if i, ok := idx[field]; ok && i < len(record) {
		return strings.TrimSpace(record[i])
	}
	return ""
}
