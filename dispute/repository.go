package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("dispute: not found")
	ErrBadStatus = errors.New("dispute: invalid status transition")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create opens a dispute inside the caller's transaction so the row commits
// atomically with the milestone's rejected transition.
func (r *Repository) Create(ctx context.Context, tx pgx.Tx, params CreateParams) (Record, error) {
	const query = `
		INSERT INTO disputes (milestone_id, reason, raised_by, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING id, milestone_id, reason, raised_by, status, created_at, resolved_at
	`

	var rec Record
	err := tx.QueryRow(ctx, query, params.MilestoneID, params.Reason, params.RaisedBy).
		Scan(&rec.ID, &rec.MilestoneID, &rec.Reason, &rec.RaisedBy, &rec.Status, &rec.CreatedAt, &rec.ResolvedAt)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: create: %w", err)
	}
	return rec, nil
}

// HasOpen reports whether the milestone's latest dispute is still open.
func (r *Repository) HasOpen(ctx context.Context, milestoneID string) (bool, error) {
	const query = `
		SELECT status
		FROM disputes
		WHERE milestone_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var status Status
	err := r.pool.QueryRow(ctx, query, milestoneID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("dispute: query latest: %w", err)
	}
	return status == StatusOpen, nil
}

// ListByMilestone returns all disputes for a milestone, newest first. This is
// the data surface the administrative resolution workflow reads.
func (r *Repository) ListByMilestone(ctx context.Context, milestoneID string) ([]Record, error) {
	const query = `
		SELECT id, milestone_id, reason, raised_by, status, created_at, resolved_at
		FROM disputes
		WHERE milestone_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, milestoneID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.MilestoneID, &rec.Reason, &rec.RaisedBy, &rec.Status, &rec.CreatedAt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// Resolve closes a dispute on behalf of the administrative workflow. What
// happens to the milestone afterwards is that workflow's policy decision, not
// this engine's.
func (r *Repository) Resolve(ctx context.Context, disputeID string) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = 'resolved', resolved_at = now()
		WHERE id = $1 AND status <> 'resolved'
		RETURNING id, milestone_id, reason, raised_by, status, created_at, resolved_at
	`

	var rec Record
	err := r.pool.QueryRow(ctx, query, disputeID).
		Scan(&rec.ID, &rec.MilestoneID, &rec.Reason, &rec.RaisedBy, &rec.Status, &rec.CreatedAt, &rec.ResolvedAt)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	const check = `SELECT status FROM disputes WHERE id = $1`
	var status Status
	if err := r.pool.QueryRow(ctx, check, disputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: resolve fetch: %w", err)
	}
	if status == StatusResolved {
		return Record{}, ErrBadStatus
	}
	return Record{}, ErrNotFound
}
