package mirror

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("session document not found")

// Change is one update delivered by a store's change feed
type Change struct {
	Payload *Payload // nil when Deleted
	Deleted bool
}

// Store is a remote document store keyed by session token.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the document or ErrNotFound
	Get(ctx context.Context, token string) (*Payload, error)
	// Set replaces the whole document
	Set(ctx context.Context, token string, p Payload) error
	// Watch delivers changes made after the call until ctx is cancelled,
	// then closes the channel
	Watch(ctx context.Context, token string) (<-chan Change, error)
	Delete(ctx context.Context, token string) error
}
