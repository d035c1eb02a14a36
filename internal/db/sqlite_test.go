package db

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "mirror.db"), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPayload(theme string) mirror.Payload {
	lat, lon := 41.3792, 2.14
	return mirror.Payload{
		Version:           mirror.PayloadVersion,
		Latitude:          &lat,
		Longitude:         &lon,
		SelectedLine:      &mirror.LineDoc{ID: "R2", Name: "R2 Sud", Color: "#00953b", Type: "normal", Orientation: "ascending"},
		SelectedBound:     &mirror.StationDoc{ID: 71804, Name: "Castelldefels", Latitude: 41.2803, Longitude: 1.982},
		SelectedDirection: "OUTBOUND",
		Stations:          []mirror.StationDoc{{ID: 71801, Name: "Barcelona-Sants", Latitude: 41.3792, Longitude: 2.14, Lines: []string{"R2"}}},
		LeftStations:      []mirror.StationDoc{},
		RawStations:       []mirror.StationDoc{{ID: 71801, Name: "Barcelona-Sants", Latitude: 41.3792, Longitude: 2.14, Lines: []string{"R2"}}},
		Theme:             theme,
		HeaderState:       "CURRENT",
	}
}

func (s *SQLiteStore) testRevision(t *testing.T, token string) int64 {
	t.Helper()
	rev, _, err := s.revision(context.Background(), token)
	if err != nil {
		t.Fatalf("revision failed: %v", err)
	}
	return rev
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "tok"); !errors.Is(err, mirror.ErrNotFound) {
		t.Fatalf("Get before Set = %v, want ErrNotFound", err)
	}

	want := testPayload("dark")
	if err := s.Set(ctx, "tok", want); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "tok")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("round trip mismatch\n got  %+v\n want %+v", *got, want)
	}

	if err := s.Delete(ctx, "tok"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "tok"); !errors.Is(err, mirror.ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_IdenticalSetKeepsRevision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "tok", testPayload("dark")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "tok", testPayload("dark")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if rev := s.testRevision(t, "tok"); rev != 1 {
		t.Errorf("revision after identical writes = %d, want 1", rev)
	}

	if err := s.Set(ctx, "tok", testPayload("light")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if rev := s.testRevision(t, "tok"); rev != 2 {
		t.Errorf("revision after a change = %d, want 2", rev)
	}
}

func TestSQLiteStore_Watch(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Set(ctx, "tok", testPayload("dark")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	changes, err := s.Watch(ctx, "tok")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	next := func() mirror.Change {
		t.Helper()
		select {
		case c := <-changes:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for change")
		}
		return mirror.Change{}
	}

	if err := s.Set(ctx, "tok", testPayload("light")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if c := next(); c.Deleted || c.Payload == nil || c.Payload.Theme != "light" {
		t.Errorf("first change = %+v, want the light payload", c)
	}

	if err := s.Delete(ctx, "tok"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if c := next(); !c.Deleted {
		t.Errorf("second change = %+v, want delete", c)
	}

	cancel()
	select {
	case _, ok := <-changes:
		if ok {
			// A change racing the cancel is fine; the channel must still close
			<-changes
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSQLiteStore_Cleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "fresh", testPayload("dark")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := s.Set(ctx, "stale", testPayload("dark")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339)
	if _, err := s.conn.ExecContext(ctx, "UPDATE mirror_documents SET updated_at = ? WHERE token = 'stale'", old); err != nil {
		t.Fatalf("failed to age document: %v", err)
	}

	n, err := s.Cleanup(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d documents, want 1", n)
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("fresh document should survive: %v", err)
	}
	if _, err := s.Get(ctx, "stale"); !errors.Is(err, mirror.ErrNotFound) {
		t.Errorf("stale document should be gone: %v", err)
	}
}

func TestSQLiteStore_BacksMirrorSync(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A document without a bound station cannot be mirrored yet
	p := testPayload("dark")
	p.SelectedBound = nil
	if err := s.Set(ctx, "early", p); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "early")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Ready() {
		t.Error("payload without bound should not be ready")
	}
}
