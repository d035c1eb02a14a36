package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/ridealong/internal/gtfs"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

func main() {
	// Command line flags
	gtfsDir := flag.String("gtfs-dir", "./data/gtfs", "Directory containing GTFS zip files")
	outPath := flag.String("out", "./data/topology.yml", "Path of the topology file to write")
	lines := flag.String("lines", "", "Comma separated route short names to import (default: all)")
	routeTypes := flag.String("route-types", "", "Comma separated GTFS route types to import (default: all)")
	flag.Parse()

	opts := gtfs.BuildOptions{Lines: splitList(*lines)}
	for _, s := range splitList(*routeTypes) {
		rt, err := strconv.Atoi(s)
		if err != nil {
			log.Fatalf("Invalid route type %q: %v", s, err)
		}
		opts.RouteTypes = append(opts.RouteTypes, rt)
	}

	entries, err := os.ReadDir(*gtfsDir)
	if err != nil {
		log.Fatalf("Failed to read GTFS directory: %v", err)
	}

	var allLines []topology.Line
	var allTypes []topology.TrainType
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}

		log.Printf("Processing %s...", entry.Name())
		data, err := gtfs.Parse(filepath.Join(*gtfsDir, entry.Name()))
		if err != nil {
			log.Printf("ERROR parsing %s: %v", entry.Name(), err)
			continue
		}

		l, tt := gtfs.BuildTopology(data, opts)
		allLines = append(allLines, l...)
		allTypes = append(allTypes, tt...)
		log.Printf("SUCCESS: %s gave %d lines, %d train types", entry.Name(), len(l), len(tt))
	}

	if len(allLines) == 0 {
		log.Fatalf("No lines found in %s", *gtfsDir)
	}

	store, err := topology.NewStore(allLines, allTypes, time.Now().UTC())
	if err != nil {
		log.Fatalf("Failed to build topology: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}
	if err := store.Save(*outPath); err != nil {
		log.Fatalf("Failed to write topology: %v", err)
	}

	log.Printf("Wrote %d lines, %d stations, %d train types to %s",
		len(store.Lines()), len(store.Stations()), len(store.TrainTypes()), *outPath)
	log.Println("Import complete!")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
