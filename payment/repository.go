package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrTransferExists signals a transfer row already exists for the milestone.
	ErrTransferExists = errors.New("payment: transfer already recorded for milestone")
	// ErrTransferNotFound signals no transfer row exists for the milestone.
	ErrTransferNotFound = errors.New("payment: transfer not found")
)

// Repository persists payment transfer records.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert writes the transfer record inside the caller's transaction so it
// commits atomically with the milestone's paid transition. The unique
// constraint on milestone_id turns a duplicate into ErrTransferExists.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, transfer Transfer) (Transfer, error) {
	const insertSQL = `
		INSERT INTO payment_transfers (milestone_id, transfer_id, seller_amount, platform_fee, currency)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, executed_at
	`

	err := tx.QueryRow(ctx, insertSQL,
		transfer.MilestoneID,
		transfer.TransferID,
		transfer.SellerAmount,
		transfer.PlatformFee,
		transfer.Currency,
	).Scan(&transfer.ID, &transfer.ExecutedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Transfer{}, ErrTransferExists
		}
		return Transfer{}, fmt.Errorf("payment: insert transfer: %w", err)
	}

	return transfer, nil
}

// GetByMilestone fetches the transfer settled for a milestone, if any.
func (r *Repository) GetByMilestone(ctx context.Context, milestoneID string) (Transfer, error) {
	const query = `
		SELECT id, milestone_id, transfer_id, seller_amount, platform_fee, currency, executed_at
		FROM payment_transfers
		WHERE milestone_id = $1
	`

	var transfer Transfer
	err := r.pool.QueryRow(ctx, query, milestoneID).Scan(
		&transfer.ID,
		&transfer.MilestoneID,
		&transfer.TransferID,
		&transfer.SellerAmount,
		&transfer.PlatformFee,
		&transfer.Currency,
		&transfer.ExecutedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrTransferNotFound
		}
		return Transfer{}, fmt.Errorf("payment: query transfer: %w", err)
	}

	return transfer, nil
}
