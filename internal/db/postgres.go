package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mini-rodalies-3d/ridealong/internal/mirror"
)

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// notifyChannel is the LISTEN/NOTIFY channel carrying changed tokens
const notifyChannel = "mirror_documents"

var _ mirror.Store = (*PostgresStore)(nil)

// PostgresStore keeps mirror documents in PostgreSQL. Writers notify on
// notifyChannel so watchers on other hosts see changes without polling.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Println("Connected to PostgreSQL mirror store")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Get(ctx context.Context, token string) (*mirror.Payload, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		"SELECT payload FROM mirror_documents WHERE token = $1", token).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mirror.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", token, err)
	}
	return mirror.DecodePayload(data)
}

// Set upserts the document and notifies watchers when the content changed
func (s *PostgresStore) Set(ctx context.Context, token string, p mirror.Payload) error {
	data, err := p.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO mirror_documents (token, payload, revision, updated_at)
			VALUES ($1, $2::jsonb, 1, NOW())
			ON CONFLICT (token) DO UPDATE SET
				payload = EXCLUDED.payload,
				revision = mirror_documents.revision + 1,
				updated_at = NOW()
			WHERE mirror_documents.payload IS DISTINCT FROM EXCLUDED.payload
		`, token, string(data))
		if err != nil {
			return fmt.Errorf("failed to write document %s: %w", token, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, token); err != nil {
			return fmt.Errorf("failed to notify change of %s: %w", token, err)
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM mirror_documents WHERE token = $1", token)
		if err != nil {
			return fmt.Errorf("failed to delete document %s: %w", token, err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, token); err != nil {
			return fmt.Errorf("failed to notify delete of %s: %w", token, err)
		}
		return nil
	})
}

// Watch holds a dedicated connection listening on notifyChannel until ctx is
// cancelled
func (s *PostgresStore) Watch(ctx context.Context, token string) (<-chan mirror.Change, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen for changes: %w", err)
	}

	ch := make(chan mirror.Change)
	go func() {
		defer close(ch)
		defer func() {
			unlistenCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlistenCtx, "UNLISTEN "+notifyChannel); err != nil {
				// Drop the connection rather than return it still listening
				conn.Conn().Close(unlistenCtx)
			}
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Warning: change feed for %s stopped: %v", token, err)
				}
				return
			}
			if n.Payload != token {
				continue
			}

			var change mirror.Change
			p, err := s.Get(ctx, token)
			switch {
			case errors.Is(err, mirror.ErrNotFound):
				change = mirror.Change{Deleted: true}
			case err != nil:
				log.Printf("Warning: failed to read document %s: %v", token, err)
				continue
			default:
				change = mirror.Change{Payload: p}
			}

			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// Cleanup deletes documents not updated within the retention window
func (s *PostgresStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM mirror_documents WHERE updated_at < NOW() - make_interval(secs => $1)",
		retention.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup mirror_documents: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		log.Printf("Cleanup: deleted %d documents older than %s", n, retention)
	}
	return int(tag.RowsAffected()), nil
}
