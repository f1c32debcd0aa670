package payment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTransferDeclined signals the gateway definitively refused the transfer
// before any money moved. The whole approval is safe to retry. Any other
// gateway error is an unknown outcome and must be reconciled, not retried.
var ErrTransferDeclined = errors.New("payment: transfer declined")

// TransferRequest is the engine-facing contract for releasing funds. The
// destination is an opaque recipient reference resolved outside this engine;
// the idempotency key is the milestone id so a duplicated call can never
// produce a second transfer.
type TransferRequest struct {
	Destination    string
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Gateway is the external funds-transfer collaborator.
type Gateway interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// Transfer records a settled milestone payout. At most one row exists per
// milestone; the table carries a unique constraint as backstop.
type Transfer struct {
	ID           string
	MilestoneID  string
	TransferID   string
	SellerAmount decimal.Decimal
	PlatformFee  decimal.Decimal
	Currency     string
	ExecutedAt   time.Time
}
