package postgres

import (
	"context"
	"fmt"

	"shares-market/internal/storage"
)

// SyncProgressStore implements storage.SyncProgressStore using PostgreSQL.
// A single row keyed by id=1 holds the cursor.
type SyncProgressStore struct {
	pool *Pool
}

// NewSyncProgressStore creates a new SyncProgressStore.
func NewSyncProgressStore(pool *Pool) *SyncProgressStore {
	return &SyncProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SyncProgressStore = (*SyncProgressStore)(nil)

// GetLastSeq returns the last applied sequence number.
// Returns ErrNotFound if no progress has been saved yet.
func (s *SyncProgressStore) GetLastSeq(ctx context.Context) (uint64, error) {
	query := `SELECT last_seq FROM sync_status WHERE id = 1`

	var seq int64
	err := s.pool.QueryRow(ctx, query).Scan(&seq)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get last seq: %w", err)
	}
	return uint64(seq), nil
}

// SetLastSeq saves the last applied sequence number.
func (s *SyncProgressStore) SetLastSeq(ctx context.Context, seq uint64) error {
	query := `
		INSERT INTO sync_status (id, last_seq)
		VALUES (1, $1)
		ON CONFLICT (id)
		DO UPDATE SET last_seq = EXCLUDED.last_seq
	`

	if _, err := s.pool.Exec(ctx, query, int64(seq)); err != nil {
		return fmt.Errorf("set last seq: %w", err)
	}
	return nil
}
