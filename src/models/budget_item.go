package models

import "time"

type BudgetItem struct {
	ID        int64     `json:"id"`
	BudgetID  int64     `json:"budget_id"`
	Name      string    `json:"name"`
	UnitPrice int64     `json:"unit_price"`
	Quantity  int64     `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}

func (i BudgetItem) Amount() int64 {
	return i.UnitPrice * i.Quantity
}
