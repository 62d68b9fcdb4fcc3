package ledger

import (
	"fmt"

	"fundflow-server/src/models"
)

type Capability int

const (
	CapCreateBudget Capability = iota
	CapEditBudget
	CapViewBudget
	CapApproveBudget
	CapDisburse
	CapRevoke
	CapRebatch
	CapSettle
	CapPostExpenditure
	CapRequestSupplementary
	CapDecideSupplementary
	CapAdjustPool
	CapViewPool
	CapViewAudit
	CapReconcile
)

var capabilityNames = map[Capability]string{
	CapCreateBudget:         "create budget",
	CapEditBudget:           "edit budget",
	CapViewBudget:           "view budget",
	CapApproveBudget:        "approve budget",
	CapDisburse:             "disburse",
	CapRevoke:               "revoke",
	CapRebatch:              "rebatch",
	CapSettle:               "settle",
	CapPostExpenditure:      "post expenditure",
	CapRequestSupplementary: "request supplementary",
	CapDecideSupplementary:  "decide supplementary",
	CapAdjustPool:           "adjust pool",
	CapViewPool:             "view pool",
	CapViewAudit:            "view audit",
	CapReconcile:            "reconcile",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return fmt.Sprintf("capability(%d)", int(c))
}

type rule struct {
	roles     []string
	ownerOnly bool
	ownerOr   bool
}

var rules = map[Capability]rule{
	CapCreateBudget:         {roles: []string{models.RoleUser, models.RoleAdmin}},
	CapEditBudget:           {ownerOnly: true},
	CapViewBudget:           {roles: []string{models.RoleAdmin}, ownerOr: true},
	CapApproveBudget:        {roles: []string{models.RoleAdmin}},
	CapDisburse:             {roles: []string{models.RoleAdmin}},
	CapRevoke:               {roles: []string{models.RoleAdmin}},
	CapRebatch:              {roles: []string{models.RoleAdmin}},
	CapSettle:               {roles: []string{models.RoleAdmin, models.RoleSystem}},
	CapPostExpenditure:      {ownerOnly: true},
	CapRequestSupplementary: {ownerOnly: true},
	CapDecideSupplementary:  {roles: []string{models.RoleAdmin}},
	CapAdjustPool:           {roles: []string{models.RoleAdmin}},
	CapViewPool:             {roles: []string{models.RoleAdmin}},
	CapViewAudit:            {roles: []string{models.RoleAdmin}},
	CapReconcile:            {roles: []string{models.RoleAdmin, models.RoleSystem}},
}

// Authorize is the single permission check every ledger operation runs before
// touching state. Budget may be nil for capabilities that are not scoped to
// one budget.
func Authorize(actor models.Actor, c Capability, budget *models.Budget) error {
	r, ok := rules[c]
	if !ok {
		return fmt.Errorf("%w: unknown capability %s", ErrNotAuthorized, c)
	}
	if r.ownerOnly || r.ownerOr {
		if budget == nil {
			return fmt.Errorf("%w: %s requires a budget", ErrNotAuthorized, c)
		}
		if budget.OwnerID == actor.ID && actor.Role != models.RoleSystem {
			return nil
		}
		if r.ownerOnly {
			return fmt.Errorf("%w: only the owner of budget %d may %s", ErrNotOwner, budget.ID, c)
		}
	}
	for _, role := range r.roles {
		if actor.Role == role {
			return nil
		}
	}
	return fmt.Errorf("%w: role %q may not %s", ErrNotAuthorized, actor.Role, c)
}
