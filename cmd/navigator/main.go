package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mini-rodalies-3d/ridealong"
	"github.com/mini-rodalies-3d/ridealong/internal/config"
	"github.com/mini-rodalies-3d/ridealong/internal/dashboard"
	"github.com/mini-rodalies-3d/ridealong/internal/db"
	"github.com/mini-rodalies-3d/ridealong/internal/gtfs"
	"github.com/mini-rodalies-3d/ridealong/internal/location"
	"github.com/mini-rodalies-3d/ridealong/internal/navigation"
	"github.com/mini-rodalies-3d/ridealong/internal/topology"
)

func main() {
	log.Println("Starting navigator...")

	config.LoadEnvFiles(".")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded: sample_interval=%v, store=%s", cfg.SampleInterval, cfg.StoreBackend)

	// Topology
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := gtfs.RefreshIfStale(ctx, gtfs.RefreshOptions{
		TopologyPath: cfg.TopologyPath,
		MaxAge:       cfg.TopologyMaxAge,
		Source:       cfg.GTFSSource,
		CacheDir:     cfg.CacheDir,
	}); err != nil {
		// Continue anyway - use existing data if available
		log.Printf("Warning: topology refresh failed: %v", err)
	}

	topo, err := topology.Load(cfg.TopologyPath)
	if err != nil {
		// Continue without stations; fixes still update the location
		log.Printf("Warning: failed to load topology: %v", err)
		topo = nil
	} else if topo.Stale(cfg.TopologyMaxAge) {
		log.Printf("Warning: topology generated %s is older than %v, re-run import-gtfs",
			topo.GeneratedAt().Format(time.RFC3339), cfg.TopologyMaxAge)
	}

	// Session document store
	backend, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer backend.Close()

	provider, err := newProvider(cfg)
	if err != nil {
		log.Fatalf("Failed to set up location provider: %v", err)
	}

	nav := ridealong.New(ridealong.Options{
		Topology:          topo,
		Provider:          provider,
		Store:             backend.Store,
		SampleInterval:    cfg.SampleInterval,
		LastKnownMaxAge:   cfg.LastKnownMaxAge,
		AccuracyHint:      location.AccuracyHigh,
		AccuracyThreshold: cfg.AccuracyThreshold,
		AccuracyMissing:   cfg.AccuracyMissing,
		Thresholds: navigation.Thresholds{
			ApproachingMeters: cfg.ApproachingMeters,
			ArrivedMeters:     cfg.ArrivedMeters,
		},
		TieEpsilon: &cfg.TieEpsilonMeters,
	})

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		nav.Run(ctx)
	}()

	if err := presetJourney(ctx, nav, cfg); err != nil {
		log.Printf("Warning: journey preset failed: %v", err)
	}

	token, err := nav.StartPublishing(ctx)
	if err != nil {
		log.Fatalf("Failed to start publishing: %v", err)
	}
	log.Printf("Publishing journey, subscribers use SESSION_TOKEN=%s", token)

	go backend.RunCleanup(ctx, time.Hour, cfg.RetentionDuration)
	go logJourney(ctx, nav)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: dashboard.NewRouter(dashboard.NewHandler(nav, backend.Store, backend.Name), nil),
	}
	go func() {
		dashboard.LogRoutes(cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Dashboard failed: %v", err)
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: dashboard shutdown: %v", err)
	}

	// Run ends publishing, which deletes the session document
	cancel()
	<-stopped
	log.Println("Goodbye!")
}

// newProvider picks the GTFS-RT feed when configured, else a replay track
func newProvider(cfg *config.Config) (location.Provider, error) {
	switch {
	case cfg.VehicleFeedURL != "":
		log.Printf("Following vehicle %q in %s", cfg.VehicleID, cfg.VehicleFeedURL)
		return location.NewFeedProvider(cfg.VehicleFeedURL, cfg.VehicleID), nil
	case cfg.ReplayTrack != "":
		replay, err := location.LoadTrack(cfg.ReplayTrack)
		if err != nil {
			return nil, err
		}
		log.Printf("Replaying %d fixes from %s", replay.Remaining(), cfg.ReplayTrack)
		return replay, nil
	}
	log.Println("Warning: no VEHICLE_FEED_URL or REPLAY_TRACK, running without location")
	return nil, nil
}

func presetJourney(ctx context.Context, nav *ridealong.Navigator, cfg *config.Config) error {
	if cfg.LineID == "" {
		return nil
	}
	if err := nav.SelectLine(ctx, cfg.LineID); err != nil {
		return err
	}
	if cfg.TrainType != "" {
		if err := nav.SetTrainType(ctx, cfg.TrainType); err != nil {
			return err
		}
	}
	if cfg.BoundStationID > 0 {
		return nav.SelectBound(ctx, cfg.BoundStationID, topology.Direction(cfg.Direction))
	}
	return nil
}

func logJourney(ctx context.Context, nav *ridealong.Navigator) {
	updates, stop := nav.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-updates:
			if s.Current == nil {
				continue
			}
			next := "-"
			if s.Next != nil {
				next = s.Next.Name
			}
			log.Printf("Journey: %s %s, next %s (%d left)", s.Header, s.Current.Name, next, len(s.LeftStations))
			if s.Terminal {
				log.Println("Journey: arrived at destination")
			}
		}
	}
}
