package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"shares-market/internal/domain"
	"shares-market/internal/storage"
)

// HoldingStore implements storage.HoldingStore using PostgreSQL.
type HoldingStore struct {
	pool *Pool
}

// NewHoldingStore creates a new HoldingStore.
func NewHoldingStore(pool *Pool) *HoldingStore {
	return &HoldingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HoldingStore = (*HoldingStore)(nil)

// ApplyBuy adds amount to the (trader, subject) holding, creating the row
// lazily at zero.
func (s *HoldingStore) ApplyBuy(ctx context.Context, trader, subject domain.Address, amount uint64, ts int64) error {
	query := `
		INSERT INTO holdings (trader, subject, share_amount, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (trader, subject)
		DO UPDATE SET share_amount = holdings.share_amount + $3, updated_at = $4
	`

	_, err := s.pool.Exec(ctx, query, string(trader), string(subject), int64(amount), ts)
	if err != nil {
		return fmt.Errorf("apply buy: %w", err)
	}
	return nil
}

// ApplySell subtracts amount from the holding. Returns
// ErrInsufficientBalance if the row is missing or too small.
func (s *HoldingStore) ApplySell(ctx context.Context, trader, subject domain.Address, amount uint64, ts int64) error {
	query := `
		UPDATE holdings
		SET share_amount = share_amount - $3, updated_at = $4
		WHERE trader = $1 AND subject = $2 AND share_amount >= $3
	`

	tag, err := s.pool.Exec(ctx, query, string(trader), string(subject), int64(amount), ts)
	if err != nil {
		return fmt.Errorf("apply sell: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrInsufficientBalance
	}
	return nil
}

// Get retrieves one holding. Returns ErrNotFound if no row exists.
func (s *HoldingStore) Get(ctx context.Context, trader, subject domain.Address) (*domain.Holding, error) {
	query := `
		SELECT trader, subject, share_amount, updated_at
		FROM holdings
		WHERE trader = $1 AND subject = $2
	`

	var h domain.Holding
	var shareAmount int64
	err := s.pool.QueryRow(ctx, query, string(trader), string(subject)).
		Scan(&h.Trader, &h.Subject, &shareAmount, &h.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get holding: %w", err)
	}
	h.ShareAmount = uint64(shareAmount)
	return &h, nil
}

// GetByTrader retrieves all holdings of a trader, ordered by subject.
func (s *HoldingStore) GetByTrader(ctx context.Context, trader domain.Address) ([]*domain.Holding, error) {
	query := `
		SELECT trader, subject, share_amount, updated_at
		FROM holdings
		WHERE trader = $1
		ORDER BY subject ASC
	`

	rows, err := s.pool.Query(ctx, query, string(trader))
	if err != nil {
		return nil, fmt.Errorf("get holdings by trader: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// GetBySubject retrieves all holdings under a subject, ordered by trader.
func (s *HoldingStore) GetBySubject(ctx context.Context, subject domain.Address) ([]*domain.Holding, error) {
	query := `
		SELECT trader, subject, share_amount, updated_at
		FROM holdings
		WHERE subject = $1
		ORDER BY trader ASC
	`

	rows, err := s.pool.Query(ctx, query, string(subject))
	if err != nil {
		return nil, fmt.Errorf("get holdings by subject: %w", err)
	}
	defer rows.Close()

	return scanHoldings(rows)
}

// scanHoldings scans multiple rows into a slice of Holding.
func scanHoldings(rows pgx.Rows) ([]*domain.Holding, error) {
	var result []*domain.Holding

	for rows.Next() {
		var h domain.Holding
		var shareAmount int64

		if err := rows.Scan(&h.Trader, &h.Subject, &shareAmount, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan holding row: %w", err)
		}
		h.ShareAmount = uint64(shareAmount)
		result = append(result, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate holding rows: %w", err)
	}

	return result, nil
}
