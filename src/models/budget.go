package models

import "time"

const (
	StatusDraft              = "DRAFT"
	StatusPending            = "PENDING"
	StatusApproved           = "APPROVED"
	StatusRejected           = "REJECTED"
	StatusPartiallyDisbursed = "PARTIALLY_DISBURSED"
	StatusDisbursed          = "DISBURSED"
	StatusRevoked            = "REVOKED"
)

const (
	PriorityEmergency = "EMERGENCY"
	PriorityUrgent    = "URGENT"
	PriorityNormal    = "NORMAL"
	PriorityLongTerm  = "LONG_TERM"
)

const (
	DisbursementFull    = "FULL"
	DisbursementBatches = "BATCHES"
)

// Budget amounts are integer minor units of Currency. The disbursed and spent
// totals are not stored here; they are always derived from the transactions
// and expenditures tables.
type Budget struct {
	ID               int64      `json:"id"`
	OwnerID          int64      `json:"owner_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Currency         string     `json:"currency"`
	Priority         string     `json:"priority"`
	Status           string     `json:"status"`
	DisbursementType string     `json:"disbursement_type"`
	RequestedAmount  int64      `json:"requested_amount"`
	AllocatedAmount  int64      `json:"allocated_amount"`
	ApprovedBy       *int64     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	DecisionNote     string     `json:"decision_note,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type BudgetFilter struct {
	OwnerID *int64
	Status  string
}

// PriorityRank orders admin queues: lower ranks are served first.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityEmergency:
		return 0
	case PriorityUrgent:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLongTerm:
		return 3
	default:
		return 4
	}
}

func ValidPriority(priority string) bool {
	return PriorityRank(priority) < 4
}
