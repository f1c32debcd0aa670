package dispute

import "time"

// Status represents the lifecycle of a dispute record. Resolution is owned by
// the administrative workflow outside this engine; the engine only opens
// disputes and blocks progress while the latest one is open.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// RaisedBy identifies which side of the order opened the dispute.
type RaisedBy string

const (
	RaisedByBuyer  RaisedBy = "buyer"
	RaisedBySeller RaisedBy = "seller"
)

// Record mirrors the disputes table.
type Record struct {
	ID          string
	MilestoneID string
	Reason      string
	RaisedBy    RaisedBy
	Status      Status
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// CreateParams contains write parameters for opening a dispute.
type CreateParams struct {
	MilestoneID string
	Reason      string
	RaisedBy    RaisedBy
}
