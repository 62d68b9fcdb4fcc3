package models

import "time"

const (
	TxnDisbursement = "DISBURSEMENT"
	TxnReversal     = "REVERSAL"
	TxnFee          = "FEE"
)

const (
	TxnStatusPending   = "PENDING"
	TxnStatusCompleted = "COMPLETED"
	TxnStatusFailed    = "FAILED"
	TxnStatusCancelled = "CANCELLED"
)

// Transaction is an append-only ledger row for a real money movement. Only the
// status, channel reference, settlement time and failure reason change after
// insert.
type Transaction struct {
	ID            int64      `json:"id"`
	BudgetID      int64      `json:"budget_id"`
	BatchID       *int64     `json:"batch_id,omitempty"`
	ReversesID    *int64     `json:"reverses_id,omitempty"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	Method        string     `json:"method"`
	Destination   string     `json:"destination,omitempty"`
	Reference     string     `json:"reference"`
	ChannelRef    string     `json:"channel_ref,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	ActorID       int64      `json:"actor_id"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// LedgerTotals aggregates a budget's transactions by type and status.
type LedgerTotals struct {
	Disbursed int64 `json:"disbursed"`
	Reversed  int64 `json:"reversed"`
	Pending   int64 `json:"pending"`
	Fees      int64 `json:"fees"`
}

// Net is the disbursed amount as defined by the ledger: completed
// disbursements minus completed reversals.
func (t LedgerTotals) Net() int64 {
	return t.Disbursed - t.Reversed
}
