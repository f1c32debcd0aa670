package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested order does not exist.
var ErrNotFound = errors.New("order: not found")

// Repository provides read access to orders owned by the marketplace.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Snapshot fetches the order read model, resolving the seller's owning user
// through its provider profile.
func (r *Repository) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	const query = `
		SELECT o.id, o.buyer_id, p.user_id, o.status, o.total_amount, o.currency, o.created_at
		FROM orders o
		JOIN provider_profiles p ON p.id = o.provider_id
		WHERE o.id = $1
	`

	var snap Snapshot
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&snap.ID,
		&snap.BuyerID,
		&snap.SellerUserID,
		&snap.Status,
		&snap.TotalAmount,
		&snap.Currency,
		&snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Snapshot{}, ErrNotFound
		}
		return Snapshot{}, fmt.Errorf("order: query snapshot: %w", err)
	}

	return snap, nil
}

// ListForUser fetches up to limit orders where the user is buyer or seller,
// newest first. Report layers consume this alongside milestone progress.
func (r *Repository) ListForUser(ctx context.Context, userID string, limit int) ([]Snapshot, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT o.id, o.buyer_id, p.user_id, o.status, o.total_amount, o.currency, o.created_at
		FROM orders o
		JOIN provider_profiles p ON p.id = o.provider_id
		WHERE o.buyer_id = $1 OR p.user_id = $1
		ORDER BY o.created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("order: list for user: %w", err)
	}
	defer rows.Close()

	snaps := make([]Snapshot, 0, limit)
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.BuyerID, &snap.SellerUserID, &snap.Status, &snap.TotalAmount, &snap.Currency, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("order: scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate snapshots: %w", err)
	}

	return snaps, nil
}
