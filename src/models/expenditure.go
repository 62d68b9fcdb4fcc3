package models

import "time"

const ExpenditureRecorded = "RECORDED"

type Expenditure struct {
	ID        int64             `json:"id"`
	BudgetID  int64             `json:"budget_id"`
	UserID    int64             `json:"user_id"`
	Title     string            `json:"title"`
	Priority  string            `json:"priority"`
	Status    string            `json:"status"`
	Amount    int64             `json:"amount"`
	Items     []ExpenditureItem `json:"items"`
	CreatedAt time.Time         `json:"created_at"`
}

// ExpenditureItem is flagged when the cumulative spend on its budget item
// goes past the item's unit price times quantity.
type ExpenditureItem struct {
	ID            int64  `json:"id"`
	ExpenditureID int64  `json:"expenditure_id"`
	BudgetItemID  int64  `json:"budget_item_id"`
	SpentAmount   int64  `json:"spent_amount"`
	Note          string `json:"note,omitempty"`
	Flagged       bool   `json:"flagged"`
	Overage       int64  `json:"overage"`
}
