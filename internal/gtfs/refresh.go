package gtfs

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

// RefreshOptions configures RefreshIfStale
type RefreshOptions struct {
	TopologyPath string
	MaxAge       time.Duration
	// Source is a GTFS zip URL or local path; empty disables refreshing
	Source   string
	CacheDir string
	Build    BuildOptions
}

// RefreshIfStale rebuilds the topology file from the GTFS source when the
// file is missing, unreadable or older than MaxAge. It reports whether a new
// file was written.
func RefreshIfStale(ctx context.Context, opts RefreshOptions) (bool, error) {
	if !isStaleOrMissing(opts.TopologyPath, opts.MaxAge) {
		log.Println("Topology is fresh, skipping refresh")
		return false, nil
	}
	if opts.Source == "" {
		log.Println("Topology is stale but no GTFS source is configured, using existing data")
		return false, nil
	}

	log.Printf("Refreshing topology from %s...", opts.Source)
	zipPath := opts.Source
	if isURL(opts.Source) {
		if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
			return false, fmt.Errorf("failed to create cache directory: %w", err)
		}
		zipPath = filepath.Join(opts.CacheDir, "gtfs.zip")
		if err := Download(ctx, opts.Source, zipPath); err != nil {
			return false, err
		}
	}

	data, err := Parse(zipPath)
	if err != nil {
		return false, err
	}
	lines, trainTypes := BuildTopology(data, opts.Build)
	if len(lines) == 0 {
		return false, fmt.Errorf("no lines found in %s", opts.Source)
	}

	store, err := topology.NewStore(lines, trainTypes, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to build topology: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(opts.TopologyPath), 0755); err != nil {
		return false, fmt.Errorf("failed to create topology directory: %w", err)
	}
	if err := store.Save(opts.TopologyPath); err != nil {
		return false, err
	}

	log.Printf("Topology refreshed: %d lines, %d stations", len(store.Lines()), len(store.Stations()))
	return true, nil
}

func isStaleOrMissing(path string, maxAge time.Duration) bool {
	store, err := topology.Load(path)
	if err != nil {
		// File doesn't exist or can't be read
		return true
	}
	return store.Stale(maxAge)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Download fetches a GTFS zip to dest. The file is replaced only once the
// download is complete.
func Download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GTFS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GTFS download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".gtfs-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write GTFS: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move GTFS into place: %w", err)
	}

	log.Printf("Downloaded %d bytes of GTFS to %s", n, dest)
	return nil
}
