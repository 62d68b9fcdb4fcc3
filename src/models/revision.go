package models

import "time"

const (
	RevisionOpen      = "OPEN"
	RevisionAddressed = "ADDRESSED"
)

type Revision struct {
	ID          int64      `json:"id"`
	BudgetID    int64      `json:"budget_id"`
	Reason      string     `json:"reason"`
	RequestedBy int64      `json:"requested_by"`
	Status      string     `json:"status"`
	AddressedAt *time.Time `json:"addressed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
