package models

import "time"

const (
	SupplementaryPending  = "PENDING"
	SupplementaryApproved = "APPROVED"
	SupplementaryRejected = "REJECTED"
)

type SupplementaryBudget struct {
	ID            int64      `json:"id"`
	BudgetID      int64      `json:"budget_id"`
	ExpenditureID *int64     `json:"expenditure_id,omitempty"`
	Amount        int64      `json:"amount"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	RequestedBy   int64      `json:"requested_by"`
	DecidedBy     *int64     `json:"decided_by,omitempty"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
