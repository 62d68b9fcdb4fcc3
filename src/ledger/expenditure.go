package ledger

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"fundflow-server/src/models"
)

type ExpenditureLine struct {
	BudgetItemID int64  `json:"budget_item_id"`
	SpentAmount  int64  `json:"spent_amount"`
	Note         string `json:"note,omitempty"`
}

type ExpenditureInput struct {
	Title                string
	Priority             string
	Items                []ExpenditureLine
	RequestSupplementary bool
	SupplementaryReason  string
}

type ExpenditureResult struct {
	Expenditure   *models.Expenditure         `json:"expenditure"`
	Supplementary *models.SupplementaryBudget `json:"supplementary,omitempty"`
	// Overspend is the amount the budget's total spend is past its effective
	// allocation after this posting.
	Overspend int64 `json:"overspend"`
}

func acceptsSpend(status string) bool {
	switch status {
	case models.StatusApproved, models.StatusPartiallyDisbursed, models.StatusDisbursed:
		return true
	}
	return false
}

// PostExpenditure records spend against a budget's items. Going over a single
// item is allowed and flagged; going over the budget needs a supplementary
// request for the uncovered amount, created in the same unit of work.
func (s *Service) PostExpenditure(ctx context.Context, budgetID int64, in ExpenditureInput, actor models.Actor) (*ExpenditureResult, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: an expenditure needs at least one item", ErrInvalidInput)
	}
	seen := make(map[int64]bool, len(in.Items))
	var total int64
	for _, line := range in.Items {
		if line.SpentAmount <= 0 {
			return nil, fmt.Errorf("%w: spent amount for item %d must be positive", ErrInvalidAmount, line.BudgetItemID)
		}
		if seen[line.BudgetItemID] {
			return nil, fmt.Errorf("%w: item %d is listed twice", ErrInvalidInput, line.BudgetItemID)
		}
		seen[line.BudgetItemID] = true
		if total > math.MaxInt64-line.SpentAmount {
			return nil, fmt.Errorf("%w: expenditure total is too large", ErrInvalidAmount)
		}
		total += line.SpentAmount
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	in.Priority = strings.ToUpper(in.Priority)
	if !models.ValidPriority(in.Priority) {
		return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, in.Priority)
	}

	result := &ExpenditureResult{}
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, CapPostExpenditure, b); err != nil {
			return err
		}
		if !acceptsSpend(b.Status) {
			return fmt.Errorf("%w: budget %d is %s, spend can only be posted once it is approved", ErrInvalidTransition, b.ID, b.Status)
		}
		items, err := tx.ListBudgetItems(ctx, b.ID)
		if err != nil {
			return err
		}
		byID := make(map[int64]models.BudgetItem, len(items))
		for _, item := range items {
			byID[item.ID] = item
		}
		p, err := loadPosition(ctx, tx, b)
		if err != nil {
			return err
		}

		exp := &models.Expenditure{
			BudgetID: b.ID,
			UserID:   actor.ID,
			Title:    strings.TrimSpace(in.Title),
			Priority: in.Priority,
			Status:   models.ExpenditureRecorded,
			Amount:   total,
		}
		flagged := 0
		for _, line := range in.Items {
			item, ok := byID[line.BudgetItemID]
			if !ok {
				return fmt.Errorf("%w: item %d does not belong to budget %d", ErrInvalidInput, line.BudgetItemID, b.ID)
			}
			row := models.ExpenditureItem{BudgetItemID: item.ID, SpentAmount: line.SpentAmount, Note: line.Note}
			before := p.perItem[item.ID]
			if before > math.MaxInt64-line.SpentAmount {
				return fmt.Errorf("%w: spend on item %d is too large", ErrInvalidAmount, item.ID)
			}
			if after := before + line.SpentAmount; after > item.Amount() {
				row.Flagged = true
				row.Overage = min(line.SpentAmount, after-item.Amount())
				flagged++
			}
			exp.Items = append(exp.Items, row)
		}

		if p.spent > math.MaxInt64-total {
			return fmt.Errorf("%w: budget %d spend is too large", ErrInvalidAmount, b.ID)
		}
		p.spent += total
		uncovered := p.uncovered()
		if uncovered > 0 && !in.RequestSupplementary {
			return fmt.Errorf("%w: spend of %s would put %q %s past its allocation of %s; request a supplementary to cover it",
				ErrInsufficientAllocation, s.display(total), b.Title, s.display(uncovered), s.display(p.effective()))
		}
		if err := tx.InsertExpenditure(ctx, exp); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "expenditure.posted", "expenditure", exp.ID, actor, map[string]any{
			"budget_id": b.ID, "amount": total, "items": len(exp.Items), "flagged": flagged,
		}); err != nil {
			return err
		}
		result.Expenditure = exp
		result.Overspend = max(p.spent-p.effective(), 0)

		if uncovered > 0 {
			reason := strings.TrimSpace(in.SupplementaryReason)
			if reason == "" {
				reason = fmt.Sprintf("Overspend from expenditure %d", exp.ID)
			}
			if result.Supplementary, err = s.insertSupplementary(ctx, tx, out, b, uncovered, reason, ptr(exp.ID), actor); err != nil {
				return err
			}
		}
		if flagged > 0 {
			out.notify(s.admins(ctx, tx), "Item overspend",
				fmt.Sprintf("%d item(s) on %q went past their planned cost", flagged, b.Title),
				"expenditure_flagged", map[string]any{"budget_id": b.ID, "expenditure_id": exp.ID})
		}
		out.touch(b.ID)
		return nil
	})
	if err != nil {
		log.Printf("ERROR: user %d could not post expenditure on budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: user %d posted expenditure %d (%d) on budget %d", actor.ID, result.Expenditure.ID, total, budgetID)
	return result, nil
}
