package mirror

import (
	"context"
	"testing"
)

func TestMemoryStore_SlowWatcherStillSeesDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.Watch(ctx, "tok")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Fill the watcher's buffer with distinct documents nobody reads
	for i := 0; i < watchBuffer+4; i++ {
		p := Payload{Version: PayloadVersion, Theme: string(rune('a' + i))}
		if err := store.Set(ctx, "tok", p); err != nil {
			t.Fatalf("Set %d failed: %v", i, err)
		}
	}
	if err := store.Delete(ctx, "tok"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var got []Change
	for len(changes) > 0 {
		got = append(got, <-changes)
	}
	if len(got) != watchBuffer {
		t.Fatalf("queued %d changes, want %d", len(got), watchBuffer)
	}
	if last := got[len(got)-1]; !last.Deleted {
		t.Fatalf("last queued change = %+v, want the delete", last)
	}
	// Oldest updates were dropped, newest kept in order
	if want := string(rune('a' + watchBuffer + 3)); got[len(got)-2].Payload.Theme != want {
		t.Errorf("update before delete has theme %q, want %q", got[len(got)-2].Payload.Theme, want)
	}
}
