package db

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Cleanup deletes documents not updated within the retention window.
// Sessions whose publisher crashed never get deleted otherwise.
func (s *SQLiteStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	hours := int(retention.Hours())
	if hours < 1 {
		hours = 1
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.conn.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM mirror_documents WHERE datetime(updated_at) < datetime('now', '-%d hours')", hours))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup mirror_documents: %w", err)
	}
	rows, _ := result.RowsAffected()

	if rows > 0 {
		log.Printf("Cleanup: deleted %d documents older than %d hours", rows, hours)
	}
	return int(rows), nil
}

// Cleaner deletes abandoned session documents
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// RunCleanup calls Cleanup every interval until ctx is cancelled
func RunCleanup(ctx context.Context, s Cleaner, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Cleanup loop stopped")
			return
		case <-ticker.C:
			if _, err := s.Cleanup(ctx, retention); err != nil {
				log.Printf("Warning: %v", err)
			}
		}
	}
}
