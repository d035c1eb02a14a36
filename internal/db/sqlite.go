package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
)

// schemaSQL is embedded at compile time from schema.sql
//
//go:embed schema.sql
var schemaSQL string

var _ mirror.Store = (*SQLiteStore)(nil)

// DefaultPollInterval is how often Watch checks a document for changes
const DefaultPollInterval = 500 * time.Millisecond

// SQLiteStore keeps mirror documents in a SQLite database. Change feeds poll
// the document revision.
type SQLiteStore struct {
	conn         *sql.DB
	writeMu      sync.Mutex // SQLite allows a single writer
	pollInterval time.Duration
}

// OpenSQLite opens a SQLite database with WAL mode enabled and ensures the
// schema exists
func OpenSQLite(ctx context.Context, dbPath string, pollInterval time.Duration) (*SQLiteStore, error) {
	dsn := dbPath + "?_journal=WAL&_fk=1&_busy_timeout=5000"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection plus writeMu serializes every write
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			log.Printf("Warning: failed to set %s: %v", pragma, err)
		}
	}

	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	s := &SQLiteStore{conn: conn, pollInterval: pollInterval}
	if err := s.EnsureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	log.Printf("Connected to SQLite database: %s", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates tables if they don't exist
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, token string) (*mirror.Payload, error) {
	var data string
	err := s.conn.QueryRowContext(ctx,
		"SELECT payload FROM mirror_documents WHERE token = ?", token).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mirror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", token, err)
	}
	return mirror.DecodePayload([]byte(data))
}

// Set upserts the document. Writing identical content leaves the revision
// alone so watchers are not woken.
func (s *SQLiteStore) Set(ctx context.Context, token string, p mirror.Payload) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO mirror_documents (token, payload, revision, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(token) DO UPDATE SET
			payload = excluded.payload,
			revision = mirror_documents.revision + 1,
			updated_at = excluded.updated_at
		WHERE mirror_documents.payload != excluded.payload
	`, token, string(data), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", token, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, token string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.ExecContext(ctx, "DELETE FROM mirror_documents WHERE token = ?", token); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", token, err)
	}
	return nil
}

// Watch polls the document revision. The current revision is read before
// returning, so only later changes are delivered.
func (s *SQLiteStore) Watch(ctx context.Context, token string) (<-chan mirror.Change, error) {
	rev, exists, err := s.revision(ctx, token)
	if err != nil {
		return nil, err
	}

	ch := make(chan mirror.Change)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			cur, found, err := s.revision(ctx, token)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Warning: failed to poll document %s: %v", token, err)
				}
				continue
			}

			var change mirror.Change
			switch {
			case !found && exists:
				change = mirror.Change{Deleted: true}
			case found && (!exists || cur != rev):
				p, err := s.Get(ctx, token)
				if errors.Is(err, mirror.ErrInvalidPayload) {
					log.Printf("Warning: skipping revision %d of %s: %v", cur, token, err)
					rev, exists = cur, found
					continue
				}
				if err != nil {
					log.Printf("Warning: failed to read document %s: %v", token, err)
					continue
				}
				change = mirror.Change{Payload: p}
			default:
				continue
			}
			rev, exists = cur, found

			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (s *SQLiteStore) revision(ctx context.Context, token string) (int64, bool, error) {
	var rev int64
	err := s.conn.QueryRowContext(ctx,
		"SELECT revision FROM mirror_documents WHERE token = ?", token).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read revision of %s: %w", token, err)
	}
	return rev, true, nil
}
