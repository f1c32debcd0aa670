package main

import (
	"context"
	"log"
	"os"
	"strconv"

	"escrowflow/auth"
	"escrowflow/authz"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/milestone"
	"escrowflow/order"
	"escrowflow/payment"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	feeRate := 10.0
	if raw := os.Getenv("PLATFORM_FEE_PERCENT"); raw != "" {
		feeRate, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			log.Fatalf("parse PLATFORM_FEE_PERCENT: %v", err)
		}
	}

	gateway := payment.NewClient(
		os.Getenv("GATEWAY_SECRET_KEY"),
		envOr("GATEWAY_BASE_URL", "https://api.paystack.co"),
		nil,
	)

	orders := order.NewRepository(pool)
	disputes := dispute.NewRepository(pool)

	authService := auth.NewService(auth.NewRepository(pool), os.Getenv("JWT_SECRET"))
	disputeService := dispute.NewService(disputes)

	engine := milestone.NewService(pool, milestone.Deps{
		Store:     milestone.NewRepository(pool),
		Guard:     authz.NewGuard(orders),
		Orders:    orders,
		Gateway:   gateway,
		Transfers: payment.NewRepository(pool),
		Disputes:  disputes,
		Fees:      milestone.NewPercentFeeSchedule(feeRate),
	})
	if os.Getenv("ENFORCE_SUM_ON_CREATE") == "true" {
		engine.WithSumEnforcedOnCreate(true)
	}

	log.Printf("escrow engine ready: milestones=%v auth=%v disputes=%v",
		engine != nil, authService != nil, disputeService != nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
