package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
)

func openPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	s, err := NewPostgresStore(context.Background(), url)
	if err != nil {
		t.Fatalf("NewPostgresStore failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore_RoundTripAndNotify(t *testing.T) {
	s := openPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token := uuid.NewString()
	t.Cleanup(func() { s.Delete(context.Background(), token) })

	changes, err := s.Watch(ctx, token)
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	want := testPayload("dark")
	if err := s.Set(ctx, token, want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	select {
	case c := <-changes:
		if c.Payload == nil || c.Payload.Theme != "dark" {
			t.Errorf("change = %+v, want dark payload", c)
		}
	case <-ctx.Done():
		t.Fatal("no notification for Set")
	}

	got, err := s.Get(ctx, token)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SelectedLine.ID != "R2" || got.SelectedBound.ID != 71804 {
		t.Errorf("unexpected document %+v", got)
	}

	if err := s.Delete(ctx, token); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	select {
	case c := <-changes:
		if !c.Deleted {
			t.Errorf("change = %+v, want delete", c)
		}
	case <-ctx.Done():
		t.Fatal("no notification for Delete")
	}
	if _, err := s.Get(ctx, token); !errors.Is(err, mirror.ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}
