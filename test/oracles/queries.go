package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_transfer_per_milestone",
			SQL: `SELECT milestone_id, COUNT(*) FROM payment_transfers
                  GROUP BY milestone_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_paid_without_transfer",
			SQL: `SELECT m.id, m.status FROM milestones m
                  WHERE m.status = 'paid'
                    AND NOT EXISTS (SELECT 1 FROM payment_transfers t WHERE t.milestone_id = m.id)`,
		},
		{
			Name: "O3_transfer_without_paid",
			SQL: `SELECT t.milestone_id, m.status FROM payment_transfers t
                  JOIN milestones m ON m.id = t.milestone_id
                  WHERE m.status <> 'paid'`,
		},
		{
			Name: "O4_fee_split_mismatch",
			SQL: `SELECT t.milestone_id, m.amount, t.seller_amount, t.platform_fee
                  FROM payment_transfers t
                  JOIN milestones m ON m.id = t.milestone_id
                  WHERE t.seller_amount + t.platform_fee <> m.amount
                     OR t.seller_amount < 0 OR t.platform_fee < 0`,
		},
		{
			Name: "O5_milestone_sum_mismatch",
			SQL: `SELECT o.id, o.total_amount, SUM(m.amount) FROM orders o
                  JOIN milestones m ON m.order_id = o.id
                  GROUP BY o.id, o.total_amount
                  HAVING SUM(m.amount) <> o.total_amount`,
		},
		{
			Name: "O6_invalid_status",
			SQL: `SELECT id, status FROM milestones
                  WHERE status NOT IN ('pending','submitted','approved','paid','rejected')`,
		},
		{
			Name: "O7_rejected_without_dispute",
			SQL: `SELECT m.id FROM milestones m
                  WHERE m.status = 'rejected'
                    AND NOT EXISTS (SELECT 1 FROM disputes d WHERE d.milestone_id = m.id)`,
		},
		{
			Name: "O8_timestamp_holes",
			SQL: `SELECT id, status, submitted_at, approved_at, paid_at FROM milestones
                  WHERE (status = 'submitted' AND submitted_at IS NULL)
                     OR (status = 'approved' AND (submitted_at IS NULL OR approved_at IS NULL))
                     OR (status = 'paid' AND (approved_at IS NULL OR paid_at IS NULL))`,
		},
		{
			Name: "O9_resurrected_after_rejection",
			SQL: `SELECT m.id, m.status FROM milestones m
                  JOIN disputes d ON d.milestone_id = m.id
                  WHERE m.status IN ('submitted','approved','paid')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
