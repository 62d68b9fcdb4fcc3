package models

import "time"

const (
	BatchPending   = "PENDING"
	BatchDisbursed = "DISBURSED"
	BatchCancelled = "CANCELLED"
)

// Batch is an indivisible slice of a budget's allocation. TransactionID is set
// while a disbursement for the batch is in flight and kept once it completes.
type Batch struct {
	ID            int64      `json:"id"`
	BudgetID      int64      `json:"budget_id"`
	Sequence      int        `json:"sequence"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	TransactionID *int64     `json:"transaction_id,omitempty"`
	DisbursedAt   *time.Time `json:"disbursed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (b Batch) InFlight() bool {
	return b.Status == BatchPending && b.TransactionID != nil
}
