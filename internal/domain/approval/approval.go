// Package approval defines the pending-approval record and the coordinator
// port that serializes human decisions on it.
package approval

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a pending approval.
type Status string

const (
	StatusPending Status = "pending"
	StatusAllow   Status = "allow"
	StatusDeny    Status = "deny"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusAllow || s == StatusDeny
}

// DefaultTTL bounds how long an undecided record survives in the store.
const DefaultTTL = 15 * time.Minute

// ErrNotFound is returned when a record is absent or has expired.
var ErrNotFound = errors.New("approval: record not found")

// Record is one pending tool call awaiting human decision. Approvals and
// rejections are approver identity sets; an approver appears in at most one.
type Record struct {
	ID                string    `json:"id"`
	CreatedTS         time.Time `json:"created_ts"`
	DecidedTS         time.Time `json:"decided_ts,omitzero"`
	Tenant            string    `json:"tenant"`
	Requester         string    `json:"requester"`
	Tool              string    `json:"tool"`
	ArgsJSON          string    `json:"args_json"`
	Status            Status    `json:"status"`
	RequiredApprovals int       `json:"required_approvals"`
	Approvals         []string  `json:"approvals"`
	Rejections        []string  `json:"rejections"`
	Reason            string    `json:"reason"`
}

// CreateRequest carries the fields for a new pending record.
type CreateRequest struct {
	ID                string
	Tenant            string
	Requester         string
	Tool              string
	ArgsJSON          string
	RequiredApprovals int
	TTL               time.Duration
	Reason            string
}

// Coordinator manages pending approvals. Decide is idempotent once a record
// is terminal, and Wait blocks until the record turns terminal or the
// context expires.
type Coordinator interface {
	Create(ctx context.Context, req CreateRequest) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)

	// Decide applies one approver's verdict. A deny is immediately
	// terminal; an allow turns terminal when the approvals set reaches the
	// required quorum. Terminal records are returned unchanged.
	Decide(ctx context.Context, id, approver string, decision Status, reason string) (*Record, error)

	// Wait returns the record once terminal, or nil when the context
	// deadline passes while the record is still pending.
	Wait(ctx context.Context, id string) (*Record, error)
}
