package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"

	"fundflow-server/src/models"
	"fundflow-server/src/util"
)

type ApprovalInput struct {
	AllocatedAmount  int64
	DisbursementType string
	// BatchAmounts lists explicit batch sizes. When empty, BatchCount equal
	// batches are cut from the allocation.
	BatchAmounts []int64
	BatchCount   int
	Note         string
}

func (s *Service) batchPlan(in ApprovalInput) ([]int64, error) {
	if len(in.BatchAmounts) == 0 {
		if in.BatchCount < 1 {
			return nil, fmt.Errorf("%w: batch disbursement needs batch amounts or a batch count", ErrInvalidInput)
		}
		if int64(in.BatchCount) > in.AllocatedAmount {
			return nil, fmt.Errorf("%w: cannot cut %d batches from %d", ErrInvalidAmount, in.BatchCount, in.AllocatedAmount)
		}
		return util.SplitAmount(in.AllocatedAmount, in.BatchCount, s.currency)
	}
	if err := checkBatchAmounts(in.BatchAmounts, in.AllocatedAmount); err != nil {
		return nil, err
	}
	return in.BatchAmounts, nil
}

func checkBatchAmounts(amounts []int64, want int64) error {
	var total int64
	for i, a := range amounts {
		if a <= 0 {
			return fmt.Errorf("%w: batch %d must be positive", ErrInvalidAmount, i+1)
		}
		total += a
	}
	if total != want {
		return fmt.Errorf("%w: batches add up to %d, expected %d", ErrInvalidAmount, total, want)
	}
	return nil
}

// Approve allocates funds to a pending budget and reserves them from the fund
// pool in the same unit of work.
func (s *Service) Approve(ctx context.Context, budgetID int64, in ApprovalInput, actor models.Actor) (*models.Budget, error) {
	if err := Authorize(actor, CapApproveBudget, nil); err != nil {
		return nil, err
	}
	if in.AllocatedAmount <= 0 {
		return nil, fmt.Errorf("%w: allocated amount must be positive", ErrInvalidAmount)
	}
	in.DisbursementType = strings.ToUpper(in.DisbursementType)
	if in.DisbursementType == "" {
		in.DisbursementType = models.DisbursementFull
	}
	var plan []int64
	switch in.DisbursementType {
	case models.DisbursementFull:
	case models.DisbursementBatches:
		var err error
		if plan, err = s.batchPlan(in); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown disbursement type %q", ErrInvalidInput, in.DisbursementType)
	}

	var result *models.Budget
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusPending {
			return fmt.Errorf("%w: budget %d is %s, only pending budgets can be approved", ErrInvalidTransition, b.ID, b.Status)
		}
		if in.AllocatedAmount > b.RequestedAmount {
			return fmt.Errorf("%w: allocation %d exceeds the requested %d", ErrInvalidAmount, in.AllocatedAmount, b.RequestedAmount)
		}
		balance, ok, err := tx.AdjustPool(ctx, -in.AllocatedAmount)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: allocating %s would overdraw the fund pool (balance %s)",
				ErrInsufficientPool, s.display(in.AllocatedAmount), s.display(balance))
		}

		now := s.now()
		b.Status = models.StatusApproved
		b.AllocatedAmount = in.AllocatedAmount
		b.DisbursementType = in.DisbursementType
		b.ApprovedBy = ptr(actor.ID)
		b.ApprovedAt = &now
		b.DecisionNote = in.Note
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		for i, amount := range plan {
			batch := &models.Batch{BudgetID: b.ID, Sequence: i + 1, Amount: amount, Status: models.BatchPending}
			if err := tx.InsertBatch(ctx, batch); err != nil {
				return err
			}
		}
		if err := s.record(ctx, tx, "budget.approved", "budget", b.ID, actor, map[string]any{
			"allocated_amount":  b.AllocatedAmount,
			"disbursement_type": b.DisbursementType,
			"batches":           plan,
			"note":              in.Note,
		}); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "pool.reserved", "fund_pool", 1, actor, map[string]any{
			"delta": -b.AllocatedAmount, "balance": balance, "budget_id": b.ID,
		}); err != nil {
			return err
		}
		out.notify([]int64{b.OwnerID}, "Budget approved",
			fmt.Sprintf("%q was approved with %s allocated", b.Title, s.display(b.AllocatedAmount)),
			"budget_approved", map[string]any{"budget_id": b.ID, "allocated_amount": b.AllocatedAmount})
		out.touch(b.ID)
		result = b
		return nil
	})
	if err != nil {
		log.Printf("ERROR: admin %d could not approve budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: admin %d approved budget %d for %d", actor.ID, budgetID, in.AllocatedAmount)
	return result, nil
}

func (s *Service) Reject(ctx context.Context, budgetID int64, reason string, actor models.Actor) (*models.Budget, error) {
	if err := Authorize(actor, CapApproveBudget, nil); err != nil {
		return nil, err
	}
	var result *models.Budget
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusPending {
			return fmt.Errorf("%w: budget %d is %s, only pending budgets can be rejected", ErrInvalidTransition, b.ID, b.Status)
		}
		b.Status = models.StatusRejected
		b.DecisionNote = reason
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "budget.rejected", "budget", b.ID, actor, map[string]any{"reason": reason}); err != nil {
			return err
		}
		msg := fmt.Sprintf("%q was rejected", b.Title)
		if reason != "" {
			msg += ": " + reason
		}
		out.notify([]int64{b.OwnerID}, "Budget rejected", msg, "budget_rejected", map[string]any{"budget_id": b.ID})
		out.touch(b.ID)
		result = b
		return nil
	})
	if err != nil {
		log.Printf("ERROR: admin %d could not reject budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: admin %d rejected budget %d", actor.ID, budgetID)
	return result, nil
}

// RequestRevision sends a pending budget back to its owner. The budget stays
// PENDING; the revision stays open until the owner edits the budget.
func (s *Service) RequestRevision(ctx context.Context, budgetID int64, reason string, actor models.Actor) (*models.Revision, error) {
	if err := Authorize(actor, CapApproveBudget, nil); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a revision request needs a reason", ErrInvalidInput)
	}
	var rev *models.Revision
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusPending {
			return fmt.Errorf("%w: budget %d is %s, revisions can only be requested while pending", ErrInvalidTransition, b.ID, b.Status)
		}
		rev = &models.Revision{
			BudgetID:    b.ID,
			Reason:      reason,
			RequestedBy: actor.ID,
			Status:      models.RevisionOpen,
		}
		if err := tx.InsertRevision(ctx, rev); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "budget.revision_requested", "budget", b.ID, actor, map[string]any{
			"revision_id": rev.ID, "reason": reason,
		}); err != nil {
			return err
		}
		out.notify([]int64{b.OwnerID}, "Revision requested",
			fmt.Sprintf("%q needs changes: %s", b.Title, reason),
			"budget_revision", map[string]any{"budget_id": b.ID, "revision_id": rev.ID})
		out.touch(b.ID)
		return nil
	})
	if err != nil {
		log.Printf("ERROR: admin %d could not request revision of budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: admin %d requested revision %d on budget %d", actor.ID, rev.ID, budgetID)
	return rev, nil
}
