package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a service order. Orders are owned by the
// surrounding marketplace; this engine only reads them.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDisputed   Status = "disputed"
	StatusCancelled  Status = "cancelled"
)

// Snapshot is the read model consumed by the lifecycle engine. SellerUserID is
// already resolved through the provider-profile indirection: the order row
// stores a provider_id, the profile stores the owning user.
type Snapshot struct {
	ID           string
	BuyerID      string
	SellerUserID string
	Status       Status
	TotalAmount  decimal.Decimal
	Currency     string
	CreatedAt    time.Time
}

// AcceptsMilestoneChanges reports whether the milestone set may still be
// created or replaced for an order in this status.
func (s Status) AcceptsMilestoneChanges() bool {
	return s == StatusPending || s == StatusAccepted
}
