package milestone

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the lifecycle of a milestone. pending is initial, paid is
// terminal, rejected is terminal for this engine (any resurrection after
// dispute resolution is an administrative decision outside it).
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusRejected  Status = "rejected"
)

// Milestone mirrors the milestones table.
type Milestone struct {
	ID            string
	OrderID       string
	Title         string
	Amount        decimal.Decimal
	Status        Status
	DeliveryNotes *string
	DisputeReason *string
	CreatedAt     time.Time
	SubmittedAt   *time.Time
	ApprovedAt    *time.Time
	PaidAt        *time.Time
}

// Definition is the caller-supplied shape for creating or replacing the
// milestone set of an order.
type Definition struct {
	Title  string
	Amount decimal.Decimal
}

// PaymentReceipt carries the settlement details of an approval so callers can
// render them without a second round trip.
type PaymentReceipt struct {
	TransferID   string
	SellerAmount decimal.Decimal
	PlatformFee  decimal.Decimal
	Currency     string
}

// ApprovalResult is the success payload of Approve.
type ApprovalResult struct {
	Milestone Milestone
	Payment   PaymentReceipt
}

// Progress aggregates an order's milestones for report layers.
type Progress struct {
	OrderID         string
	Counts          map[Status]int
	TotalCount      int
	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	PercentComplete int
}
