package db

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mini-rodalies-3d/ridealong/internal/config"
	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
)

// Backend is an opened session document store
type Backend struct {
	Name  string
	Store mirror.Store

	cleaner Cleaner // nil when documents live in memory
	close   func()
}

// Open connects the store selected by cfg.StoreBackend
func Open(ctx context.Context, cfg *config.Config) (*Backend, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.DatabasePath, cfg.StorePollInterval)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: "sqlite", Store: s, cleaner: s, close: func() { s.Close() }}, nil

	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: "postgres", Store: s, cleaner: s, close: s.Close}, nil

	case "memory":
		log.Println("Using in-memory session store (single process only)")
		return &Backend{Name: "memory", Store: mirror.NewMemoryStore(), close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

// RunCleanup removes abandoned documents every interval until ctx is done.
// It returns at once for the memory backend.
func (b *Backend) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	if b.cleaner == nil {
		return
	}
	RunCleanup(ctx, b.cleaner, interval, retention)
}

func (b *Backend) Close() {
	b.close()
}
