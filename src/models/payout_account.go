package models

import "time"

// PayoutAccount is a bank account an owner linked through Plaid Link to
// receive disbursements. The access token never leaves the server.
type PayoutAccount struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ItemID      string    `json:"item_id"`
	AccessToken string    `json:"-"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Mask        string    `json:"mask"`
	LegalName   string    `json:"legal_name"`
	CreatedAt   time.Time `json:"created_at"`
}
