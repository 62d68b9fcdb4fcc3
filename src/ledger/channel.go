package ledger

import (
	"context"

	"fundflow-server/src/models"
)

type DisbursementRequest struct {
	Reference   string
	BudgetID    int64
	Amount      int64
	Currency    string
	Destination string
	Description string
}

// Receipt is a channel's acknowledgement of a disbursement. Settled is true
// when the channel moved the money synchronously.
type Receipt struct {
	Ref     string
	Settled bool
	Fee     int64
}

// Channel moves money out of the organization.
type Channel interface {
	Name() string
	Initiate(ctx context.Context, req DisbursementRequest) (Receipt, error)
}

// Settlement is a final (or still pending) outcome reported by a channel.
type Settlement struct {
	ID      string
	Ref     string
	Outcome string
	Note    string
}

// SettlementLookup is implemented by channels that can be asked for the
// current state of a disbursement they acknowledged earlier.
type SettlementLookup interface {
	Lookup(ctx context.Context, ref string) (Settlement, error)
}

// Dispatcher delivers notifications. Errors are logged by the ledger and
// never returned to callers.
type Dispatcher interface {
	Notify(ctx context.Context, userIDs []int64, n models.Notification) error
}
