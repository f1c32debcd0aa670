package milestone

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"escrowflow/db"
	"escrowflow/payment"
)

// TestRepository_Integration connects to a real PostgreSQL via DATABASE_URL and
// verifies the compare-and-set transition and the transfer uniqueness backstop.
func TestRepository_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	for _, table := range []string{"users", "provider_profiles", "orders", "milestones", "payment_transfers"} {
		if !tableExists(ctx, t, pool, table) {
			t.Skipf("table %s missing; apply migrations/0001_init.sql first", table)
		}
	}

	orderID := seedOrder(ctx, t, pool, "1000.00")
	repo := NewRepository(pool)

	tx, err := pool.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	created, err := repo.InsertAll(ctx, tx, orderID, []Definition{
		{Title: "Design", Amount: decimal.RequireFromString("400.00")},
		{Title: "Build", Amount: decimal.RequireFromString("600.00")},
	})
	if err != nil {
		t.Fatalf("insert all: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit insert: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(created))
	}
	if !created[0].Amount.Equal(decimal.RequireFromString("400.00")) {
		t.Errorf("expected decimal round trip, got %s", created[0].Amount)
	}

	// CAS: pending -> submitted succeeds once, fails the second time carrying
	// the advanced status.
	target := created[0].ID
	notes := "first deliverable"
	tx, _ = pool.Begin(ctx)
	m, err := repo.Transition(ctx, tx, TransitionParams{
		ID: target, From: StatusPending, To: StatusSubmitted, Attempted: "submit", DeliveryNotes: &notes,
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit transition: %v", err)
	}
	if m.Status != StatusSubmitted || m.SubmittedAt == nil {
		t.Fatalf("expected submitted with timestamp, got %+v", m)
	}

	tx, _ = pool.Begin(ctx)
	_, err = repo.Transition(ctx, tx, TransitionParams{
		ID: target, From: StatusPending, To: StatusSubmitted, Attempted: "submit",
	})
	_ = tx.Rollback(ctx)
	var conflict *StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected StateConflictError, got %v", err)
	}
	if conflict.Current != StatusSubmitted {
		t.Errorf("expected conflict to carry submitted, got %s", conflict.Current)
	}

	// Unique transfer backstop: the second insert for the same milestone must
	// surface ErrTransferExists.
	transfers := payment.NewRepository(pool)
	record := payment.Transfer{
		MilestoneID:  target,
		TransferID:   "TRF_itest",
		SellerAmount: decimal.RequireFromString("360.00"),
		PlatformFee:  decimal.RequireFromString("40.00"),
		Currency:     "USD",
	}
	tx, _ = pool.Begin(ctx)
	if _, err := transfers.Insert(ctx, tx, record); err != nil {
		t.Fatalf("insert transfer: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit transfer: %v", err)
	}
	tx, _ = pool.Begin(ctx)
	_, err = transfers.Insert(ctx, tx, record)
	_ = tx.Rollback(ctx)
	if !errors.Is(err, payment.ErrTransferExists) {
		t.Fatalf("expected ErrTransferExists, got %v", err)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	if err := pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}

func seedOrder(ctx context.Context, t *testing.T, pool *pgxpool.Pool, total string) string {
	t.Helper()
	suffix := time.Now().UnixNano()

	var buyerID, sellerUserID, providerID, orderID string
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Billie Buyer', 'x', 'client') RETURNING id`,
		fmt.Sprintf("buyer+%d@example.com", suffix)).Scan(&buyerID); err != nil {
		t.Fatalf("seed buyer: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, role) VALUES ($1, 'Sam Seller', 'x', 'provider') RETURNING id`,
		fmt.Sprintf("seller+%d@example.com", suffix)).Scan(&sellerUserID); err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO provider_profiles (user_id, display_name) VALUES ($1, 'Sam Studio') RETURNING id`,
		sellerUserID).Scan(&providerID); err != nil {
		t.Fatalf("seed provider profile: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO orders (buyer_id, provider_id, status, total_amount, currency) VALUES ($1, $2, 'accepted', $3, 'USD') RETURNING id`,
		buyerID, providerID, total).Scan(&orderID); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return orderID
}
