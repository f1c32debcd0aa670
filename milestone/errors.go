package milestone

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"escrowflow/order"
)

var (
	// ErrNotFound signals the requested milestone does not exist.
	ErrNotFound = errors.New("milestone: not found")
	// ErrDuplicateDispute signals the milestone is already rejected by an
	// earlier dispute.
	ErrDuplicateDispute = errors.New("milestone: already disputed")
)

// ValidationError reports malformed input along with the offending value.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("milestone: invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// SumMismatchError rejects a milestone set whose amounts do not reconcile to
// the order total. Delta is defs total minus order total.
type SumMismatchError struct {
	OrderID     string
	TotalAmount decimal.Decimal
	DefsAmount  decimal.Decimal
	Delta       decimal.Decimal
}

func (e *SumMismatchError) Error() string {
	return fmt.Sprintf("milestone: amounts sum to %s but order %s totals %s (delta %s)",
		e.DefsAmount, e.OrderID, e.TotalAmount, e.Delta)
}

// OrderStateError reports an operation attempted while the parent order's
// status forbids milestone changes.
type OrderStateError struct {
	OrderID   string
	Status    order.Status
	Attempted string
}

func (e *OrderStateError) Error() string {
	return fmt.Sprintf("milestone: cannot %s while order %s is %s", e.Attempted, e.OrderID, e.Status)
}

// StateConflictError reports a transition that is invalid from the stored
// status at write time. Blockers is filled by wholesale replace to name the
// milestones that have already left pending.
type StateConflictError struct {
	MilestoneID string
	Current     Status
	Attempted   string
	Blockers    []Blocker
}

// Blocker identifies a milestone preventing a wholesale replace.
type Blocker struct {
	MilestoneID string
	Title       string
	Status      Status
}

func (e *StateConflictError) Error() string {
	if len(e.Blockers) > 0 {
		parts := make([]string, 0, len(e.Blockers))
		for _, b := range e.Blockers {
			parts = append(parts, fmt.Sprintf("%s (%s, %s)", b.Title, b.MilestoneID, b.Status))
		}
		return fmt.Sprintf("milestone: cannot %s, milestones already in progress: %s",
			e.Attempted, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("milestone: cannot %s milestone %s in status %s", e.Attempted, e.MilestoneID, e.Current)
}

// PaymentFailedError reports a definitive gateway decline. No transfer was
// recorded and the milestone was rolled back to submitted, so the whole
// approval is safe to retry.
type PaymentFailedError struct {
	MilestoneID string
	Err         error
}

func (e *PaymentFailedError) Error() string {
	return fmt.Sprintf("milestone: payment failed for %s, retry approval: %v", e.MilestoneID, e.Err)
}

func (e *PaymentFailedError) Unwrap() error { return e.Err }

// ReconciliationError reports that the gateway outcome is unknown or that it
// succeeded but the local commit failed. The transfer must never be retried
// automatically; manual resolution is required.
type ReconciliationError struct {
	MilestoneID string
	TransferID  string
	Err         error
}

func (e *ReconciliationError) Error() string {
	if e.TransferID != "" {
		return fmt.Sprintf("milestone: transfer %s executed for %s but commit failed, manual reconciliation required: %v",
			e.TransferID, e.MilestoneID, e.Err)
	}
	return fmt.Sprintf("milestone: gateway outcome unknown for %s, manual reconciliation required: %v", e.MilestoneID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
