package milestone

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"escrowflow/authz"
	"escrowflow/dispute"
	"escrowflow/order"
	"escrowflow/payment"
)

var (
	// ErrMilestonesExist signals CreateMilestones was called for an order that
	// already has a milestone set; ReplaceMilestones covers that case.
	ErrMilestonesExist = errors.New("milestone: order already has milestones")
	// ErrOpenDispute signals progress is blocked while the milestone's latest
	// dispute is still open.
	ErrOpenDispute = errors.New("milestone: open dispute blocks progress")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the milestone persistence required by the service.
type Store interface {
	Get(ctx context.Context, id string) (Milestone, error)
	ListByOrder(ctx context.Context, orderID string) ([]Milestone, error)
	LockAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) ([]Milestone, error)
	InsertAll(ctx context.Context, tx pgx.Tx, orderID string, defs []Definition) ([]Milestone, error)
	DeleteAllForOrder(ctx context.Context, tx pgx.Tx, orderID string) error
	Transition(ctx context.Context, tx pgx.Tx, params TransitionParams) (Milestone, error)
}

// Authorizer resolves a caller against an order's buyer and seller sides.
type Authorizer interface {
	Require(ctx context.Context, callerID, orderID string, allowed ...authz.Role) (authz.Role, order.Snapshot, error)
}

// OrderSource reads the external order model for unauthenticated aggregates.
type OrderSource interface {
	Snapshot(ctx context.Context, id string) (order.Snapshot, error)
}

// TransferWriter records settled payouts inside the service's transaction.
type TransferWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, transfer payment.Transfer) (payment.Transfer, error)
}

// DisputeWriter creates dispute rows and exposes the open-dispute check.
type DisputeWriter interface {
	Create(ctx context.Context, tx pgx.Tx, params dispute.CreateParams) (dispute.Record, error)
	HasOpen(ctx context.Context, milestoneID string) (bool, error)
}

// Deps bundles the collaborators the lifecycle engine orchestrates.
type Deps struct {
	Store     Store
	Guard     Authorizer
	Orders    OrderSource
	Gateway   payment.Gateway
	Transfers TransferWriter
	Disputes  DisputeWriter
	Fees      FeeSchedule
}

// Service is the milestone lifecycle engine: it validates requests, enforces
// the state machine, and composes approval with payment release.
type Service struct {
	pool               TxBeginner
	store              Store
	guard              Authorizer
	orders             OrderSource
	gateway            payment.Gateway
	transfers          TransferWriter
	disputes           DisputeWriter
	fees               FeeSchedule
	enforceSumOnCreate bool
}

func NewService(pool TxBeginner, deps Deps) *Service {
	return &Service{
		pool:      pool,
		store:     deps.Store,
		guard:     deps.Guard,
		orders:    deps.Orders,
		gateway:   deps.Gateway,
		transfers: deps.Transfers,
		disputes:  deps.Disputes,
		fees:      deps.Fees,
	}
}

// WithSumEnforcedOnCreate makes CreateMilestones require the definitions to
// reconcile to the order total, the same check ReplaceMilestones always runs.
func (s *Service) WithSumEnforcedOnCreate(on bool) *Service {
	s.enforceSumOnCreate = on
	return s
}

// CreateMilestones persists the first milestone set for an order. Buyer or
// seller may call it while the order is still pending or accepted.
func (s *Service) CreateMilestones(ctx context.Context, callerID, orderID string, defs []Definition) ([]Milestone, error) {
	if err := validateDefs(defs); err != nil {
		return nil, err
	}

	_, snap, err := s.guard.Require(ctx, callerID, orderID, authz.RoleBuyer, authz.RoleSeller)
	if err != nil {
		return nil, err
	}
	if !snap.Status.AcceptsMilestoneChanges() {
		return nil, &OrderStateError{OrderID: orderID, Status: snap.Status, Attempted: "create milestones"}
	}
	if s.enforceSumOnCreate {
		if err := checkSum(snap, defs); err != nil {
			return nil, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := s.store.LockAllForOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, ErrMilestonesExist
	}

	created, err := s.store.InsertAll(ctx, tx, orderID, defs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("milestone: commit create: %w", err)
	}
	return created, nil
}

// ReplaceMilestones swaps the order's milestone set wholesale. Allowed only
// while every existing milestone is still pending, and only for sets whose
// amounts reconcile exactly to the order total. Delete and insert happen in
// one transaction so readers never observe an empty set.
func (s *Service) ReplaceMilestones(ctx context.Context, callerID, orderID string, defs []Definition) ([]Milestone, error) {
	if err := validateDefs(defs); err != nil {
		return nil, err
	}

	_, snap, err := s.guard.Require(ctx, callerID, orderID, authz.RoleBuyer, authz.RoleSeller)
	if err != nil {
		return nil, err
	}
	if !snap.Status.AcceptsMilestoneChanges() {
		return nil, &OrderStateError{OrderID: orderID, Status: snap.Status, Attempted: "replace milestones"}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := s.store.LockAllForOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}

	var blockers []Blocker
	for _, m := range existing {
		if m.Status != StatusPending {
			blockers = append(blockers, Blocker{MilestoneID: m.ID, Title: m.Title, Status: m.Status})
		}
	}
	if len(blockers) > 0 {
		return nil, &StateConflictError{Attempted: "replace milestones", Blockers: blockers}
	}

	if err := checkSum(snap, defs); err != nil {
		return nil, err
	}

	if err := s.store.DeleteAllForOrder(ctx, tx, orderID); err != nil {
		return nil, err
	}
	created, err := s.store.InsertAll(ctx, tx, orderID, defs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("milestone: commit replace: %w", err)
	}
	return created, nil
}

// Submit marks a pending milestone as delivered by the seller.
func (s *Service) Submit(ctx context.Context, callerID, milestoneID string, notes *string) (Milestone, error) {
	m, err := s.store.Get(ctx, milestoneID)
	if err != nil {
		return Milestone{}, err
	}

	if _, _, err := s.guard.Require(ctx, callerID, m.OrderID, authz.RoleSeller); err != nil {
		return Milestone{}, err
	}

	open, err := s.disputes.HasOpen(ctx, milestoneID)
	if err != nil {
		return Milestone{}, err
	}
	if open {
		return Milestone{}, ErrOpenDispute
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	updated, err := s.store.Transition(ctx, tx, TransitionParams{
		ID:            milestoneID,
		From:          StatusPending,
		To:            StatusSubmitted,
		Attempted:     "submit",
		DeliveryNotes: notes,
	})
	if err != nil {
		return Milestone{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit submit: %w", err)
	}
	return updated, nil
}

// Approve is the compound approve-and-pay operation. The transition to
// approved commits before the gateway call so a concurrent duplicate approve
// loses the compare-and-set and can never trigger a second transfer; the
// gateway additionally receives the milestone id as idempotency key. A
// declined transfer rolls the milestone back to submitted (retryable); an
// unknown gateway outcome or a commit failure after a successful transfer is
// surfaced as a ReconciliationError and never retried automatically.
func (s *Service) Approve(ctx context.Context, callerID, milestoneID string) (ApprovalResult, error) {
	m, err := s.store.Get(ctx, milestoneID)
	if err != nil {
		return ApprovalResult{}, err
	}

	_, snap, err := s.guard.Require(ctx, callerID, m.OrderID, authz.RoleBuyer)
	if err != nil {
		return ApprovalResult{}, err
	}

	open, err := s.disputes.HasOpen(ctx, milestoneID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if open {
		return ApprovalResult{}, ErrOpenDispute
	}

	approved, err := s.transition(ctx, TransitionParams{
		ID: milestoneID, From: StatusSubmitted, To: StatusApproved, Attempted: "approve",
	})
	if err != nil {
		return ApprovalResult{}, err
	}

	fee := s.fees.PlatformFee(approved.Amount)
	sellerAmount := approved.Amount.Sub(fee)

	// Destination is an opaque reference; account resolution is the gateway's
	// concern, never this engine's.
	transferID, err := s.gateway.Transfer(ctx, payment.TransferRequest{
		Destination:    snap.SellerUserID,
		Amount:         sellerAmount,
		Currency:       snap.Currency,
		IdempotencyKey: milestoneID,
	})
	if err != nil {
		if errors.Is(err, payment.ErrTransferDeclined) {
			// No money moved; put the milestone back where the seller left it.
			if _, rbErr := s.transition(ctx, TransitionParams{
				ID: milestoneID, From: StatusApproved, To: StatusSubmitted, Attempted: "rollback approval",
			}); rbErr != nil {
				return ApprovalResult{}, &ReconciliationError{MilestoneID: milestoneID, Err: fmt.Errorf("rollback after decline: %w", rbErr)}
			}
			return ApprovalResult{}, &PaymentFailedError{MilestoneID: milestoneID, Err: err}
		}
		// Unknown outcome, e.g. a timeout: the transfer may have executed.
		return ApprovalResult{}, &ReconciliationError{MilestoneID: milestoneID, Err: err}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return ApprovalResult{}, &ReconciliationError{MilestoneID: milestoneID, TransferID: transferID, Err: err}
	}
	defer tx.Rollback(ctx)

	recorded, err := s.transfers.Insert(ctx, tx, payment.Transfer{
		MilestoneID:  milestoneID,
		TransferID:   transferID,
		SellerAmount: sellerAmount,
		PlatformFee:  fee,
		Currency:     snap.Currency,
	})
	if err != nil {
		return ApprovalResult{}, &ReconciliationError{MilestoneID: milestoneID, TransferID: transferID, Err: err}
	}

	paid, err := s.store.Transition(ctx, tx, TransitionParams{
		ID: milestoneID, From: StatusApproved, To: StatusPaid, Attempted: "settle",
	})
	if err != nil {
		return ApprovalResult{}, &ReconciliationError{MilestoneID: milestoneID, TransferID: transferID, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return ApprovalResult{}, &ReconciliationError{MilestoneID: milestoneID, TransferID: transferID, Err: err}
	}

	return ApprovalResult{
		Milestone: paid,
		Payment: PaymentReceipt{
			TransferID:   recorded.TransferID,
			SellerAmount: recorded.SellerAmount,
			PlatformFee:  recorded.PlatformFee,
			Currency:     recorded.Currency,
		},
	}, nil
}

// Dispute rejects a milestone and records why. Either side may raise it while
// funds are not yet settled; a second dispute on an already rejected
// milestone is refused as a duplicate.
func (s *Service) Dispute(ctx context.Context, callerID, milestoneID, reason string) (dispute.Record, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < 10 {
		return dispute.Record{}, &ValidationError{Field: "reason", Value: reason, Reason: "must be at least 10 characters"}
	}

	m, err := s.store.Get(ctx, milestoneID)
	if err != nil {
		return dispute.Record{}, err
	}

	role, _, err := s.guard.Require(ctx, callerID, m.OrderID, authz.RoleBuyer, authz.RoleSeller)
	if err != nil {
		return dispute.Record{}, err
	}

	switch m.Status {
	case StatusPaid:
		// Funds already settled; reversal belongs to the admin workflow.
		return dispute.Record{}, &StateConflictError{MilestoneID: milestoneID, Current: StatusPaid, Attempted: "dispute"}
	case StatusRejected:
		return dispute.Record{}, ErrDuplicateDispute
	}

	raisedBy := dispute.RaisedByBuyer
	if role == authz.RoleSeller {
		raisedBy = dispute.RaisedBySeller
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return dispute.Record{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.store.Transition(ctx, tx, TransitionParams{
		ID:            milestoneID,
		From:          m.Status,
		To:            StatusRejected,
		Attempted:     "dispute",
		DisputeReason: &reason,
	}); err != nil {
		return dispute.Record{}, err
	}

	rec, err := s.disputes.Create(ctx, tx, dispute.CreateParams{
		MilestoneID: milestoneID,
		Reason:      reason,
		RaisedBy:    raisedBy,
	})
	if err != nil {
		return dispute.Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return dispute.Record{}, fmt.Errorf("milestone: commit dispute: %w", err)
	}
	return rec, nil
}

// Progress aggregates the order's milestones for report layers.
func (s *Service) Progress(ctx context.Context, orderID string) (Progress, error) {
	if _, err := s.orders.Snapshot(ctx, orderID); err != nil {
		return Progress{}, err
	}

	milestones, err := s.store.ListByOrder(ctx, orderID)
	if err != nil {
		return Progress{}, err
	}

	progress := Progress{
		OrderID:     orderID,
		Counts:      make(map[Status]int, 5),
		TotalCount:  len(milestones),
		TotalAmount: decimal.Zero,
		PaidAmount:  decimal.Zero,
	}
	for _, m := range milestones {
		progress.Counts[m.Status]++
		progress.TotalAmount = progress.TotalAmount.Add(m.Amount)
		if m.Status == StatusPaid {
			progress.PaidAmount = progress.PaidAmount.Add(m.Amount)
		}
	}
	if progress.TotalCount > 0 {
		ratio := float64(progress.Counts[StatusPaid]) / float64(progress.TotalCount)
		progress.PercentComplete = int(math.Round(ratio * 100))
	}
	return progress, nil
}

// transition runs a single compare-and-set in its own transaction.
func (s *Service) transition(ctx context.Context, params TransitionParams) (Milestone, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, fmt.Errorf("milestone: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	m, err := s.store.Transition(ctx, tx, params)
	if err != nil {
		return Milestone{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Milestone{}, fmt.Errorf("milestone: commit %s: %w", params.Attempted, err)
	}
	return m, nil
}

func validateDefs(defs []Definition) error {
	if len(defs) == 0 {
		return &ValidationError{Field: "defs", Value: "", Reason: "at least one milestone is required"}
	}
	for i, def := range defs {
		if strings.TrimSpace(def.Title) == "" {
			return &ValidationError{Field: fmt.Sprintf("defs[%d].title", i), Value: def.Title, Reason: "must not be empty"}
		}
		if !def.Amount.IsPositive() {
			return &ValidationError{Field: fmt.Sprintf("defs[%d].amount", i), Value: def.Amount.String(), Reason: "must be positive"}
		}
	}
	return nil
}

func checkSum(snap order.Snapshot, defs []Definition) error {
	sum := decimal.Zero
	for _, def := range defs {
		sum = sum.Add(def.Amount)
	}
	if !sum.Equal(snap.TotalAmount) {
		return &SumMismatchError{
			OrderID:     snap.ID,
			TotalAmount: snap.TotalAmount,
			DefsAmount:  sum,
			Delta:       sum.Sub(snap.TotalAmount),
		}
	}
	return nil
}
