package authz

import (
	"context"
	"fmt"

	"escrowflow/order"
)

// Role classifies a caller relative to a specific order.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Error is returned when the caller holds none of the permitted roles for the
// requested action. The rejection is final; callers must not retry.
type Error struct {
	CallerID string
	OrderID  string
	Allowed  []Role
}

func (e *Error) Error() string {
	return fmt.Sprintf("authz: caller %s is not permitted on order %s (allowed: %v)", e.CallerID, e.OrderID, e.Allowed)
}

// OrderSource abstracts the order read model for the guard.
type OrderSource interface {
	Snapshot(ctx context.Context, id string) (order.Snapshot, error)
}

// Guard resolves a caller identity against an order's buyer and seller sides.
// The seller side is the profile's owning user, already resolved by the order
// repository, so classification here is a plain comparison.
type Guard struct {
	orders OrderSource
}

func NewGuard(orders OrderSource) *Guard {
	return &Guard{orders: orders}
}

// Classify returns the caller's role on the order, or an *Error when the
// caller is neither buyer nor seller.
func (g *Guard) Classify(ctx context.Context, callerID, orderID string) (Role, order.Snapshot, error) {
	return g.Require(ctx, callerID, orderID, RoleBuyer, RoleSeller)
}

// Require resolves the order and rejects unless the caller holds one of the
// allowed roles. The snapshot is returned so operations avoid a second lookup.
func (g *Guard) Require(ctx context.Context, callerID, orderID string, allowed ...Role) (Role, order.Snapshot, error) {
	snap, err := g.orders.Snapshot(ctx, orderID)
	if err != nil {
		return "", order.Snapshot{}, err
	}

	got := g.classify(callerID, snap)
	for _, role := range allowed {
		if got == role {
			return got, snap, nil
		}
	}

	return "", order.Snapshot{}, &Error{CallerID: callerID, OrderID: orderID, Allowed: allowed}
}

func (g *Guard) classify(callerID string, snap order.Snapshot) Role {
	switch callerID {
	case snap.BuyerID:
		return RoleBuyer
	case snap.SellerUserID:
		return RoleSeller
	default:
		return ""
	}
}
