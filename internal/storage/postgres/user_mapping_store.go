package postgres

import (
	"context"
	"fmt"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// UserMappingStore implements storage.UserMappingStore using PostgreSQL.
type UserMappingStore struct {
	pool *Pool
}

// NewUserMappingStore creates a new UserMappingStore.
func NewUserMappingStore(pool *Pool) *UserMappingStore {
	return &UserMappingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.UserMappingStore = (*UserMappingStore)(nil)

// Upsert creates or replaces the mapping for an address. Banned mappings
// keep their flag and creation time across re-binding.
func (s *UserMappingStore) Upsert(ctx context.Context, m *domain.UserMapping) error {
	if m == nil || m.Address == "" || m.ExternalID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO user_mappings (address, external_id, is_banned, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (address)
		DO UPDATE SET external_id = EXCLUDED.external_id
	`

	_, err := s.pool.Exec(ctx, query, string(m.Address), m.ExternalID, m.Banned, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user mapping: %w", err)
	}
	return nil
}

// GetByAddress retrieves a mapping. Returns ErrNotFound if not exists.
func (s *UserMappingStore) GetByAddress(ctx context.Context, addr domain.Address) (*domain.UserMapping, error) {
	query := `
		SELECT address, external_id, is_banned, created_at
		FROM user_mappings
		WHERE address = $1
	`

	var m domain.UserMapping
	err := s.pool.QueryRow(ctx, query, string(addr)).
		Scan(&m.Address, &m.ExternalID, &m.Banned, &m.CreatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get user mapping: %w", err)
	}
	return &m, nil
}

// SetBanned flips the banned flag. Returns ErrNotFound if no mapping exists.
func (s *UserMappingStore) SetBanned(ctx context.Context, addr domain.Address, banned bool) error {
	query := `UPDATE user_mappings SET is_banned = $2 WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query, string(addr), banned)
	if err != nil {
		return fmt.Errorf("set banned: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
