package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"

	"fundflow-server/src/models"
)

func acceptsSupplementary(status string) bool {
	switch status {
	case models.StatusDraft, models.StatusRejected, models.StatusRevoked:
		return false
	}
	return true
}

func (s *Service) RequestSupplementary(ctx context.Context, budgetID, amount int64, reason string, actor models.Actor) (*models.SupplementaryBudget, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: supplementary amount must be positive", ErrInvalidAmount)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a supplementary request needs a reason", ErrInvalidInput)
	}
	var sb *models.SupplementaryBudget
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if err := Authorize(actor, CapRequestSupplementary, b); err != nil {
			return err
		}
		if !acceptsSupplementary(b.Status) {
			return fmt.Errorf("%w: budget %d is %s and cannot take a supplementary", ErrInvalidState, b.ID, b.Status)
		}
		sb, err = s.insertSupplementary(ctx, tx, out, b, amount, reason, nil, actor)
		return err
	})
	if err != nil {
		log.Printf("ERROR: user %d could not request supplementary on budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: user %d requested supplementary %d (%d) on budget %d", actor.ID, sb.ID, amount, budgetID)
	return sb, nil
}

func (s *Service) insertSupplementary(ctx context.Context, tx Tx, out *outbox, b *models.Budget, amount int64, reason string, expenditureID *int64, actor models.Actor) (*models.SupplementaryBudget, error) {
	sb := &models.SupplementaryBudget{
		BudgetID:      b.ID,
		ExpenditureID: expenditureID,
		Amount:        amount,
		Reason:        reason,
		Status:        models.SupplementaryPending,
		RequestedBy:   actor.ID,
	}
	if err := tx.InsertSupplementary(ctx, sb); err != nil {
		return nil, err
	}
	if err := s.record(ctx, tx, "supplementary.requested", "supplementary_budget", sb.ID, actor, map[string]any{
		"budget_id": b.ID, "amount": amount, "reason": reason, "expenditure_id": expenditureID,
	}); err != nil {
		return nil, err
	}
	out.notify(s.admins(ctx, tx), "Supplementary requested",
		fmt.Sprintf("%q asks for %s more: %s", b.Title, s.display(amount), reason),
		"supplementary_requested", map[string]any{"budget_id": b.ID, "supplementary_id": sb.ID})
	out.touch(b.ID)
	return sb, nil
}

// DecideSupplementary approves or rejects a pending supplementary. Approval
// raises the budget's effective allocation and draws the amount from the
// fund pool in one unit of work, so it needs an approved budget. A request on
// a PENDING budget can only be rejected until then.
func (s *Service) DecideSupplementary(ctx context.Context, supplementaryID int64, decision, note string, actor models.Actor) (*models.SupplementaryBudget, error) {
	if err := Authorize(actor, CapDecideSupplementary, nil); err != nil {
		return nil, err
	}
	decision = strings.ToUpper(decision)
	if decision != models.SupplementaryApproved && decision != models.SupplementaryRejected {
		return nil, fmt.Errorf("%w: decision must be APPROVED or REJECTED, got %q", ErrInvalidInput, decision)
	}

	var result *models.SupplementaryBudget
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		sb, err := tx.GetSupplementary(ctx, supplementaryID)
		if err != nil {
			return err
		}
		b, err := tx.LockBudget(ctx, sb.BudgetID)
		if err != nil {
			return err
		}
		if sb, err = tx.LockSupplementary(ctx, supplementaryID); err != nil {
			return err
		}
		if sb.Status != models.SupplementaryPending {
			return fmt.Errorf("%w: supplementary %d is already %s", ErrInvalidTransition, sb.ID, sb.Status)
		}
		if !acceptsSupplementary(b.Status) {
			return fmt.Errorf("%w: budget %d is %s", ErrInvalidState, b.ID, b.Status)
		}
		// The pool is only drawn once the budget itself has been allocated.
		if decision == models.SupplementaryApproved && !disbursing(b.Status) {
			return fmt.Errorf("%w: budget %d is %s, approve the budget before its supplementaries", ErrInvalidState, b.ID, b.Status)
		}

		now := s.now()
		sb.Status = decision
		sb.DecidedBy = ptr(actor.ID)
		sb.DecidedAt = &now
		changes := map[string]any{"budget_id": b.ID, "amount": sb.Amount, "decision": decision, "note": note}

		if decision == models.SupplementaryApproved {
			balance, ok, err := tx.AdjustPool(ctx, -sb.Amount)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: approving %s would overdraw the fund pool (balance %s)",
					ErrInsufficientPool, s.display(sb.Amount), s.display(balance))
			}
			sb.ApprovedAt = &now
			if err := tx.UpdateSupplementary(ctx, sb); err != nil {
				return err
			}
			if b.DisbursementType == models.DisbursementBatches && disbursing(b.Status) {
				if err := s.appendBatch(ctx, tx, b.ID, sb.Amount); err != nil {
					return err
				}
			}
			p, err := loadPosition(ctx, tx, b)
			if err != nil {
				return err
			}
			prev, changed, err := syncStatus(ctx, tx, b, p)
			if err != nil {
				return err
			}
			if changed {
				changes["budget_status"] = map[string]string{"from": prev, "to": b.Status}
			}
			changes["effective_allocation"] = p.effective()
			if err := s.record(ctx, tx, "pool.reserved", "fund_pool", 1, actor, map[string]any{
				"delta": -sb.Amount, "balance": balance, "budget_id": b.ID, "supplementary_id": sb.ID,
			}); err != nil {
				return err
			}
		} else if err := tx.UpdateSupplementary(ctx, sb); err != nil {
			return err
		}

		if err := s.record(ctx, tx, "supplementary."+strings.ToLower(decision), "supplementary_budget", sb.ID, actor, changes); err != nil {
			return err
		}
		out.notify([]int64{b.OwnerID}, "Supplementary "+strings.ToLower(decision),
			fmt.Sprintf("Your request for %s more on %q was %s", s.display(sb.Amount), b.Title, strings.ToLower(decision)),
			"supplementary_decided", map[string]any{"budget_id": b.ID, "supplementary_id": sb.ID, "decision": decision})
		out.touch(b.ID)
		result = sb
		return nil
	})
	if err != nil {
		log.Printf("ERROR: admin %d could not decide supplementary %d: %v", actor.ID, supplementaryID, err)
		return nil, err
	}
	log.Printf("INFO: admin %d %s supplementary %d", actor.ID, strings.ToLower(decision), supplementaryID)
	return result, nil
}

func (s *Service) appendBatch(ctx context.Context, tx Tx, budgetID, amount int64) error {
	batches, err := tx.ListBatches(ctx, budgetID)
	if err != nil {
		return err
	}
	seq := 0
	for _, b := range batches {
		seq = max(seq, b.Sequence)
	}
	return tx.InsertBatch(ctx, &models.Batch{BudgetID: budgetID, Sequence: seq + 1, Amount: amount, Status: models.BatchPending})
}
