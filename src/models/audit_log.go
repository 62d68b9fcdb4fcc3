package models

import (
	"encoding/json"
	"time"
)

type AuditLog struct {
	ID        int64           `json:"id"`
	Action    string          `json:"action"`
	Entity    string          `json:"entity"`
	EntityID  int64           `json:"entity_id"`
	UserID    int64           `json:"user_id"`
	Changes   json.RawMessage `json:"changes"`
	CreatedAt time.Time       `json:"created_at"`
}

type AuditFilter struct {
	Entity   string
	EntityID *int64
	Limit    int
}
