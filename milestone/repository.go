package milestone

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const milestoneColumns = `id, order_id, title, amount, status, delivery_notes, dispute_reason,
	created_at, submitted_at, approved_at, paid_at`

// Repository persists milestones. Reads go through the pool; writes take the
// caller's transaction so multi-row changes commit as one unit.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches a milestone by id.
func (r *Repository) Get(ctx context.Context, id string) (Milestone, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones WHERE id = $1`

	m, err := scanMilestone(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: query by id: %w", err)
	}
	return m, nil
}

// ListByOrder returns the order's milestones in creation order.
func (r *Repository) ListByOrder(ctx context.Context, orderID string) ([]Milestone, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones WHERE order_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("milestone: list by order: %w", err)
	}
	defer rows.Close()

	out := make([]Milestone, 0, 8)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("milestone: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: iterate: %w", err)
	}
	return out, nil
}

// LockAllForOrder fetches the order's milestones under FOR UPDATE so a
// wholesale replace serializes against concurrent transitions.
func (r *Repository) LockAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]Milestone, error) {
	query := `SELECT ` + milestoneColumns + ` FROM milestones WHERE order_id = $1 ORDER BY created_at, id FOR UPDATE`

	rows, err := tx.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("milestone: lock for order: %w", err)
	}
	defer rows.Close()

	out := make([]Milestone, 0, 8)
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, fmt.Errorf("milestone: scan locked: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone: iterate locked: %w", err)
	}
	return out, nil
}

// InsertAll writes the definitions as pending milestones inside the caller's
// transaction. Either every row lands or none does.
func (r *Repository) InsertAll(ctx context.Context, tx pgx.Tx, orderID string, defs []Definition) ([]Milestone, error) {
	insertSQL := `
		INSERT INTO milestones (order_id, title, amount, status)
		VALUES ($1, $2, $3, 'pending')
		RETURNING ` + milestoneColumns

	out := make([]Milestone, 0, len(defs))
	for _, def := range defs {
		m, err := scanMilestone(tx.QueryRow(ctx, insertSQL, orderID, def.Title, def.Amount))
		if err != nil {
			return nil, fmt.Errorf("milestone: insert %q: %w", def.Title, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteAllForOrder removes every milestone of the order inside the caller's
// transaction. Replace pairs this with InsertAll so readers never observe the
// empty set.
func (r *Repository) DeleteAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) error {
	if _, err := tx.Exec(ctx, `DELETE FROM milestones WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("milestone: delete for order: %w", err)
	}
	return nil
}

// TransitionParams describes a compare-and-set status update.
type TransitionParams struct {
	ID            string
	From          Status
	To            Status
	Attempted     string
	DeliveryNotes *string
	DisputeReason *string
}

// Transition compare-and-sets the status inside the caller's transaction. The
// update matches only when the stored status still equals From; zero rows
// means another caller advanced the milestone first, reported as a
// StateConflictError carrying the actual stored status.
func (r *Repository) Transition(ctx context.Context, tx pgx.Tx, params TransitionParams) (Milestone, error) {
	updateSQL := `
		UPDATE milestones
		SET status = $3,
		    delivery_notes = COALESCE($4, delivery_notes),
		    dispute_reason = COALESCE($5, dispute_reason),
		    submitted_at = CASE WHEN $3 = 'submitted' THEN now() ELSE submitted_at END,
		    approved_at  = CASE WHEN $3 = 'approved'  THEN now() ELSE approved_at  END,
		    paid_at      = CASE WHEN $3 = 'paid'      THEN now() ELSE paid_at      END
		WHERE id = $1 AND status = $2
		RETURNING ` + milestoneColumns

	m, err := scanMilestone(tx.QueryRow(ctx, updateSQL,
		params.ID, params.From, params.To, params.DeliveryNotes, params.DisputeReason))
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Milestone{}, fmt.Errorf("milestone: transition %s: %w", params.Attempted, err)
	}

	var current Status
	if err := tx.QueryRow(ctx, `SELECT status FROM milestones WHERE id = $1`, params.ID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, fmt.Errorf("milestone: fetch status after conflict: %w", err)
	}

	return Milestone{}, &StateConflictError{MilestoneID: params.ID, Current: current, Attempted: params.Attempted}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMilestone(row rowScanner) (Milestone, error) {
	var m Milestone
	err := row.Scan(
		&m.ID,
		&m.OrderID,
		&m.Title,
		&m.Amount,
		&m.Status,
		&m.DeliveryNotes,
		&m.DisputeReason,
		&m.CreatedAt,
		&m.SubmittedAt,
		&m.ApprovedAt,
		&m.PaidAt,
	)
	return m, err
}
