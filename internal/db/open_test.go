package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mini-rodalies-3d/ridealong/internal/config"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name        string
		backend     string
		wantCleaner bool
		wantErr     bool
	}{
		{"sqlite", "sqlite", true, false},
		{"memory", "memory", false, false},
		{"unknown", "redis", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{
				StoreBackend:      tt.backend,
				DatabasePath:      filepath.Join(t.TempDir(), "mirror.db"),
				StorePollInterval: 10 * time.Millisecond,
			}
			b, err := Open(context.Background(), cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			defer b.Close()

			if b.Name != tt.backend || (b.cleaner != nil) != tt.wantCleaner {
				t.Errorf("backend %s, cleaner %v", b.Name, b.cleaner != nil)
			}

			ctx := context.Background()
			if err := b.Store.Set(ctx, "tok", testPayload("light")); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			got, err := b.Store.Get(ctx, "tok")
			if err != nil || got.Theme != "light" {
				t.Errorf("Get = %+v, %v", got, err)
			}
		})
	}
}

func TestBackend_RunCleanupMemoryReturns(t *testing.T) {
	b, err := Open(context.Background(), &config.Config{StoreBackend: "memory"})
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		b.RunCleanup(context.Background(), time.Millisecond, time.Hour)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunCleanup blocked without a cleaner")
	}
}
