package ledger

import (
	"errors"
	"testing"

	"fundflow-server/src/models"
)

func TestAuthorize(t *testing.T) {
	owner := models.Actor{ID: 7, Role: models.RoleUser}
	stranger := models.Actor{ID: 8, Role: models.RoleUser}
	admin := models.Actor{ID: 1, Role: models.RoleAdmin}
	budget := &models.Budget{ID: 3, OwnerID: 7}

	tests := []struct {
		name   string
		actor  models.Actor
		cap    Capability
		budget *models.Budget
		want   error
	}{
		{"owner posts expenditure", owner, CapPostExpenditure, budget, nil},
		{"admin cannot post for owner", admin, CapPostExpenditure, budget, ErrNotOwner},
		{"stranger cannot request supplementary", stranger, CapRequestSupplementary, budget, ErrNotOwner},
		{"admin disburses", admin, CapDisburse, budget, nil},
		{"owner cannot disburse", owner, CapDisburse, budget, ErrNotAuthorized},
		{"owner views", owner, CapViewBudget, budget, nil},
		{"admin views", admin, CapViewBudget, budget, nil},
		{"stranger cannot view", stranger, CapViewBudget, budget, ErrNotAuthorized},
		{"system settles", models.SystemActor, CapSettle, nil, nil},
		{"system cannot adjust pool", models.SystemActor, CapAdjustPool, nil, ErrNotAuthorized},
		{"owner-scoped capability without budget", owner, CapEditBudget, nil, ErrNotAuthorized},
		{"user creates budget", stranger, CapCreateBudget, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.actor, tt.cap, tt.budget)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}
