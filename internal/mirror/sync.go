// Package mirror replicates a live journey between devices through a shared
// document keyed by session token.
//
// A device is either publishing its own journey, subscribed to someone
// else's, or neither. The publisher is the document's only writer.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mini-rodalies-3d/ridealong/internal/navigation"
)

var (
	ErrPublisherNotFound = errors.New("publisher not found")
	ErrPublisherNotReady = errors.New("publisher not ready")
	ErrRoleConflict      = errors.New("another mirroring role is active")
)

// teardownTimeout bounds the journey reset after a remote delete
const teardownTimeout = 5 * time.Second

// Role is the device's part in a mirroring session
type Role int

const (
	RoleNone Role = iota
	RolePublisher
	RoleSubscriber
)

func (r Role) String() string {
	switch r {
	case RolePublisher:
		return "publisher"
	case RoleSubscriber:
		return "subscriber"
	}
	return "none"
}

// Machine is the navigation state owner the sync reads from and writes to
type Machine interface {
	Dispatch(ctx context.Context, ev navigation.Event) error
	State() navigation.State
	Watch() (<-chan navigation.State, func())
}

// Presenter receives the UI side effects of a remotely ended session
type Presenter interface {
	MuteSpeech()
	ShowLineSelection()
}

type nopPresenter struct{}

func (nopPresenter) MuteSpeech()        {}
func (nopPresenter) ShowLineSelection() {}

// Sync runs the publish and subscribe lifecycles
type Sync struct {
	store     Store
	machine   Machine
	presenter Presenter

	mu    sync.Mutex
	role  Role
	token string
	// generation changes every time a session starts or ends, so a stale
	// delete notification cannot tear down a newer session
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewSync creates a sync. presenter may be nil.
func NewSync(store Store, machine Machine, presenter Presenter) *Sync {
	if presenter == nil {
		presenter = nopPresenter{}
	}
	return &Sync{
		store:     store,
		machine:   machine,
		presenter: presenter,
	}
}

// Role returns the active role
func (s *Sync) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Token returns the active session token, empty without a session
func (s *Sync) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Publish writes the full projection of state under token
func (s *Sync) Publish(ctx context.Context, token string, state navigation.State) error {
	if err := s.store.Set(ctx, token, FromState(state)); err != nil {
		return fmt.Errorf("failed to publish session %s: %w", token, err)
	}
	return nil
}

// StartPublishing creates a new session and keeps it updated with every
// state change until StopPublishing
func (s *Sync) StartPublishing(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.role != RoleNone {
		role := s.role
		s.mu.Unlock()
		return "", fmt.Errorf("%w: currently %s", ErrRoleConflict, role)
	}
	token := uuid.NewString()
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.role = RolePublisher
	s.token = token
	s.generation++
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	// First write happens before returning so the token is usable at once
	payload := FromState(s.machine.State())
	last, err := payload.Encode()
	if err != nil {
		last = nil
	}
	if err := s.store.Set(ctx, token, payload); err != nil {
		log.Printf("Warning: initial publish of %s failed, retrying on next change: %v", token, err)
		last = nil
	}

	go s.publishLoop(loopCtx, token, last, done)
	log.Printf("Mirror: publishing session %s", token)
	return token, nil
}

func (s *Sync) publishLoop(ctx context.Context, token string, last []byte, done chan struct{}) {
	defer close(done)
	updates, stop := s.machine.Watch()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case state := <-updates:
			payload := FromState(state)
			data, err := payload.Encode()
			if err != nil {
				log.Printf("Warning: failed to encode session %s: %v", token, err)
				continue
			}
			if bytes.Equal(data, last) {
				continue
			}
			if err := s.store.Set(ctx, token, payload); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Warning: publish of %s failed, retrying on next change: %v", token, err)
				continue
			}
			last = data
		}
	}
}

// StopPublishing stops updates and deletes the document, which ends the
// session for every subscriber
func (s *Sync) StopPublishing(ctx context.Context) error {
	s.mu.Lock()
	if s.role != RolePublisher {
		s.mu.Unlock()
		return nil
	}
	token, cancel, done := s.token, s.cancel, s.done
	s.clearLocked()
	s.mu.Unlock()

	cancel()
	<-done

	if err := s.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", token, err)
	}
	log.Printf("Mirror: stopped publishing session %s", token)
	return nil
}

// StartSubscribing mirrors the session published under token. A previous
// subscription is torn down first.
func (s *Sync) StartSubscribing(ctx context.Context, token string) error {
	s.mu.Lock()
	switch s.role {
	case RolePublisher:
		s.mu.Unlock()
		return fmt.Errorf("%w: currently publisher", ErrRoleConflict)
	case RoleSubscriber:
		cancel, done := s.cancel, s.done
		s.clearLocked()
		s.mu.Unlock()
		cancel()
		<-done
	default:
		s.mu.Unlock()
	}

	// Watch before the initial read so no update falls between the two
	feedCtx, cancel := context.WithCancel(context.Background())
	changes, err := s.store.Watch(feedCtx, token)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to watch session %s: %w", token, err)
	}

	payload, err := s.store.Get(ctx, token)
	if err != nil {
		cancel()
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrPublisherNotFound, token)
		}
		if errors.Is(err, ErrInvalidPayload) {
			return fmt.Errorf("%w: %v", ErrPublisherNotReady, err)
		}
		return fmt.Errorf("failed to fetch session %s: %w", token, err)
	}
	if err := payload.Validate(); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrPublisherNotReady, err)
	}
	if !payload.Ready() {
		cancel()
		return fmt.Errorf("%w: no line or bound station selected", ErrPublisherNotReady)
	}

	if err := s.machine.Dispatch(ctx, navigation.RemoteSnapshot{Snapshot: payload.Snapshot()}); err != nil {
		cancel()
		return fmt.Errorf("failed to apply session %s: %w", token, err)
	}

	s.mu.Lock()
	if s.role != RoleNone {
		role := s.role
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: currently %s", ErrRoleConflict, role)
	}
	done := make(chan struct{})
	s.role = RoleSubscriber
	s.token = token
	s.generation++
	s.cancel = cancel
	s.done = done
	gen := s.generation
	s.mu.Unlock()

	go s.feed(feedCtx, gen, token, changes, done)
	log.Printf("Mirror: subscribed to session %s", token)
	return nil
}

func (s *Sync) feed(ctx context.Context, gen uint64, token string, changes <-chan Change, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.Deleted {
				s.remoteDeleted(gen, token)
				return
			}
			if err := c.Payload.Validate(); err != nil {
				log.Printf("Warning: dropping update for %s: %v", token, err)
				continue
			}
			if err := s.machine.Dispatch(ctx, navigation.RemoteSnapshot{Snapshot: c.Payload.Snapshot()}); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("Warning: failed to apply update for %s: %v", token, err)
			}
		}
	}
}

// remoteDeleted ends the subscription after the publisher removed the
// document. Only the first call for a session generation has any effect.
func (s *Sync) remoteDeleted(gen uint64, token string) {
	s.mu.Lock()
	if s.role != RoleSubscriber || s.generation != gen {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.clearLocked()
	s.mu.Unlock()

	log.Printf("Mirror: publisher ended session %s", token)

	ctx, stop := context.WithTimeout(context.Background(), teardownTimeout)
	defer stop()
	if err := s.machine.Dispatch(ctx, navigation.ResetJourney{}); err != nil {
		log.Printf("Warning: failed to reset journey after session end: %v", err)
	}
	s.presenter.MuteSpeech()
	s.presenter.ShowLineSelection()

	// The feed goroutine may be the caller, so cancel without waiting
	cancel()
}

// StopSubscribing detaches the change feed. The mirrored journey is left
// as it was.
func (s *Sync) StopSubscribing(ctx context.Context) error {
	s.mu.Lock()
	if s.role != RoleSubscriber {
		s.mu.Unlock()
		return nil
	}
	cancel, done, token := s.cancel, s.done, s.token
	s.clearLocked()
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Printf("Mirror: unsubscribed from session %s", token)
	return nil
}

// Close ends whichever role is active
func (s *Sync) Close(ctx context.Context) error {
	switch s.Role() {
	case RolePublisher:
		return s.StopPublishing(ctx)
	case RoleSubscriber:
		return s.StopSubscribing(ctx)
	}
	return nil
}

// clearLocked returns to RoleNone. Called with mu held.
func (s *Sync) clearLocked() {
	s.role = RoleNone
	s.token = ""
	s.generation++
	s.cancel = nil
	s.done = nil
}
