package chaos

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/payment"
)

// FlakyGateway stands in for the payout provider and declines a fraction of
// transfers at random, forcing the engine through its rollback path while
// approvals keep racing.
type FlakyGateway struct {
	mu          sync.Mutex
	declineRate float64
	calls       int
	declines    int
}

func NewFlakyGateway(declineRate float64) *FlakyGateway {
	return &FlakyGateway{declineRate: declineRate}
}

func (g *FlakyGateway) Transfer(_ context.Context, req payment.TransferRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if rand.Float64() < g.declineRate {
		g.declines++
		return "", fmt.Errorf("chaos gateway: %w", payment.ErrTransferDeclined)
	}
	return "trf_" + req.IdempotencyKey, nil
}

// Stats returns total calls and how many were declined.
func (g *FlakyGateway) Stats() (calls, declines int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls, g.declines
}

// TerminateRandomBackend kills a random database backend every few seconds,
// tearing transactions mid-flight. Approvals interrupted between the payout
// call and the transfer record surface as reconciliation holds, which the
// actors treat as expected.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}
