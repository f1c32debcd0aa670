package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrowflow/milestone"
	"escrowflow/payment"
)

// Seller repeatedly picks a pending milestone on the order and submits it,
// racing other sellers and the replacer for the same rows.
func Seller(ctx context.Context, svc *milestone.Service, pool *pgxpool.Pool, sellerID, orderID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id, err := pickByStatus(ctx, pool, orderID, milestone.StatusPending)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || expected(err) {
				time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
				continue
			}
			return fmt.Errorf("seller pick: %w", err)
		}

		notes := fmt.Sprintf("delivered batch %d", rand.Intn(1000))
		if _, err := svc.Submit(ctx, sellerID, id, &notes); err != nil && !expected(err) {
			return fmt.Errorf("seller submit: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Buyer approves submitted milestones. Declines from the flaky gateway and
// lost races show up as typed errors and are part of normal operation; only
// surprises abort the run.
func Buyer(ctx context.Context, svc *milestone.Service, pool *pgxpool.Pool, buyerID, orderID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id, err := pickByStatus(ctx, pool, orderID, milestone.StatusSubmitted)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || expected(err) {
				time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
				continue
			}
			return fmt.Errorf("buyer pick: %w", err)
		}

		if _, err := svc.Approve(ctx, buyerID, id); err != nil && !expected(err) {
			return fmt.Errorf("buyer approve: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Disputer occasionally rejects a submitted milestone. Kept rare so the run
// does not drain into all-rejected before the approvers see contention.
func Disputer(ctx context.Context, svc *milestone.Service, pool *pgxpool.Pool, buyerID, orderID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		time.Sleep(time.Duration(400+rand.Intn(600)) * time.Millisecond)

		if rand.Intn(4) != 0 {
			continue
		}
		id, err := pickByStatus(ctx, pool, orderID, milestone.StatusSubmitted)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || expected(err) {
				continue
			}
			return fmt.Errorf("disputer pick: %w", err)
		}

		reason := fmt.Sprintf("deliverable does not match the brief, round %d", rand.Intn(1000))
		if _, err := svc.Dispute(ctx, buyerID, id, reason); err != nil && !expected(err) {
			return fmt.Errorf("disputer raise: %w", err)
		}
	}
}

// Replacer rewrites the milestone plan while sellers are submitting. Once any
// milestone has left pending every attempt must lose with a state conflict,
// which is exactly the window under test.
func Replacer(ctx context.Context, svc *milestone.Service, buyerID, orderID string, total decimal.Decimal, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)

		if _, err := svc.ReplaceMilestones(ctx, buyerID, orderID, randomSplit(total)); err != nil && !expected(err) {
			return fmt.Errorf("replacer: %w", err)
		}
	}
}

// Resolver closes open disputes so the dispute trail gets both states.
func Resolver(ctx context.Context, pool *pgxpool.Pool, orderID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		time.Sleep(time.Duration(500+rand.Intn(500)) * time.Millisecond)

		_, err := pool.Exec(ctx, `
			UPDATE disputes SET status = 'resolved', resolved_at = now()
			WHERE id IN (
				SELECT d.id FROM disputes d
				JOIN milestones m ON m.id = d.milestone_id
				WHERE m.order_id = $1 AND d.status = 'open'
				ORDER BY random() LIMIT 1
			)`, orderID)
		if err != nil && !expected(err) {
			return fmt.Errorf("resolver: %w", err)
		}
	}
}

func pickByStatus(ctx context.Context, pool *pgxpool.Pool, orderID string, status milestone.Status) (string, error) {
	var id string
	err := pool.QueryRow(ctx, `
		SELECT id FROM milestones
		WHERE order_id = $1 AND status = $2
		ORDER BY random() LIMIT 1`, orderID, status).Scan(&id)
	return id, err
}

// randomSplit cuts total into 2..6 parts that sum back exactly, two decimal
// places each, last part takes the remainder.
func randomSplit(total decimal.Decimal) []milestone.Definition {
	n := 2 + rand.Intn(5)
	defs := make([]milestone.Definition, 0, n)
	remaining := total
	for i := 0; i < n-1; i++ {
		share := remaining.Div(decimal.NewFromInt(int64(n - i))).Round(2)
		if share.IsZero() {
			break
		}
		defs = append(defs, milestone.Definition{
			Title:  fmt.Sprintf("phase %d", i+1),
			Amount: share,
		})
		remaining = remaining.Sub(share)
	}
	defs = append(defs, milestone.Definition{
		Title:  fmt.Sprintf("phase %d", len(defs)+1),
		Amount: remaining,
	})
	return defs
}

// expected reports whether err is a designed outcome of contention or chaos
// rather than a bug: lost compare-and-set races, gateway declines, funds held
// for reconciliation after a torn payment, dispute blockers, rows deleted by
// a concurrent replace, and connections the backend killer tore down.
func expected(err error) bool {
	var conflict *milestone.StateConflictError
	var declined *milestone.PaymentFailedError
	var held *milestone.ReconciliationError
	switch {
	case errors.As(err, &conflict),
		errors.As(err, &declined),
		errors.As(err, &held):
		return true
	case errors.Is(err, milestone.ErrNotFound),
		errors.Is(err, milestone.ErrOpenDispute),
		errors.Is(err, milestone.ErrDuplicateDispute),
		errors.Is(err, payment.ErrTransferDeclined):
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// admin shutdown, crash shutdown, serialization or deadlock loser
		switch pgErr.Code {
		case "57P01", "57P02", "40001", "40P01":
			return true
		}
	}
	return false
}
