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
	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
)

// subscribeRetry is how long to wait for a publisher that is not ready yet
const subscribeRetry = 5 * time.Second

// logPresenter reports session end on the console
type logPresenter struct{}

func (logPresenter) MuteSpeech()        { log.Println("Dashboard: announcements muted") }
func (logPresenter) ShowLineSelection() { log.Println("Dashboard: session ended, waiting for a new token") }

func main() {
	config.LoadEnvFiles(".")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.SessionToken == "" {
		log.Fatal("SESSION_TOKEN is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := db.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer backend.Close()

	// A subscriber never resolves stations itself, so no topology or provider
	nav := ridealong.New(ridealong.Options{
		Store:     backend.Store,
		Presenter: logPresenter{},
	})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		nav.Run(ctx)
	}()

	go subscribe(ctx, nav, cfg.SessionToken)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: dashboard.NewRouter(dashboard.NewHandler(nav, backend.Store, backend.Name), nil),
	}
	go func() {
		dashboard.LogRoutes(cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Warning: server shutdown: %v", err)
	}
	cancel()
	<-stopped
	log.Println("Goodbye!")
}

// subscribe keeps trying until the publisher's document is ready
func subscribe(ctx context.Context, nav *ridealong.Navigator, token string) {
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := nav.StartSubscribing(attemptCtx, token)
		cancel()
		if err == nil {
			log.Printf("Dashboard: mirroring session %s", token)
			return
		}

		switch {
		case errors.Is(err, mirror.ErrPublisherNotFound), errors.Is(err, mirror.ErrPublisherNotReady):
			log.Printf("Dashboard: %v, retrying in %v", err, subscribeRetry)
		default:
			log.Printf("Warning: subscribe failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(subscribeRetry):
		}
	}
}
