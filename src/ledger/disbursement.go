package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"fundflow-server/src/models"
)

type DisburseInput struct {
	Amount      int64
	Method      string
	Destination string
}

// Disburse releases part of a budget's allocation through a channel.
//
// The reservation, the channel call and the recording of its answer are
// three steps. The PENDING transaction written first holds the amount, so
// concurrent calls on the same budget can never reserve more than the
// effective allocation, and the channel is never called while a row lock is
// held.
func (s *Service) Disburse(ctx context.Context, budgetID int64, in DisburseInput, actor models.Actor) (*models.Transaction, error) {
	if err := Authorize(actor, CapDisburse, nil); err != nil {
		return nil, err
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: disbursement amount must be positive", ErrInvalidAmount)
	}
	ch, ok := s.channels[in.Method]
	if !ok {
		return nil, fmt.Errorf("%w: unknown disbursement method %q", ErrInvalidInput, in.Method)
	}

	txn, budget, err := s.reserve(ctx, budgetID, in, ch.Name(), actor)
	if err != nil {
		log.Printf("ERROR: admin %d could not disburse %d from budget %d: %v", actor.ID, in.Amount, budgetID, err)
		return nil, err
	}

	// The reservation is committed; the rest must finish even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)
	receipt, cerr := ch.Initiate(ctx, DisbursementRequest{
		Reference:   txn.Reference,
		BudgetID:    budgetID,
		Amount:      in.Amount,
		Currency:    budget.Currency,
		Destination: in.Destination,
		Description: budget.Title,
	})
	if cerr != nil {
		log.Printf("ERROR: channel %s refused disbursement %d on budget %d: %v", ch.Name(), txn.ID, budgetID, cerr)
		if _, err := s.finish(ctx, txn.ID, "", models.TxnStatusFailed, cerr.Error(), 0, actor); err != nil {
			log.Printf("ERROR: could not release disbursement %d after channel failure: %v", txn.ID, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrExternalChannelFailure, ch.Name(), cerr)
	}

	outcome := models.TxnStatusPending
	if receipt.Settled {
		outcome = models.TxnStatusCompleted
	}
	final, err := s.finish(ctx, txn.ID, receipt.Ref, outcome, "", receipt.Fee, actor)
	if err != nil {
		log.Printf("ERROR: disbursement %d accepted by %s as %q but not recorded: %v", txn.ID, ch.Name(), receipt.Ref, err)
		return nil, err
	}
	log.Printf("INFO: admin %d disbursed %d from budget %d via %s (%s)", actor.ID, in.Amount, budgetID, ch.Name(), final.Status)
	return final, nil
}

func (s *Service) reserve(ctx context.Context, budgetID int64, in DisburseInput, method string, actor models.Actor) (*models.Transaction, *models.Budget, error) {
	var (
		txn    *models.Transaction
		budget *models.Budget
	)
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusApproved && b.Status != models.StatusPartiallyDisbursed {
			return fmt.Errorf("%w: budget %d is %s, disbursement needs APPROVED or PARTIALLY_DISBURSED", ErrInvalidTransition, b.ID, b.Status)
		}
		p, err := loadPosition(ctx, tx, b)
		if err != nil {
			return err
		}
		if in.Amount > p.headroom() {
			return fmt.Errorf("%w: %s requested but only %s remains (allocation %s, disbursed %s, in flight %s)",
				ErrInsufficientAllocation, s.display(in.Amount), s.display(max(p.headroom(), 0)),
				s.display(p.effective()), s.display(p.disbursed()), s.display(p.totals.Pending))
		}

		var batch *models.Batch
		if b.DisbursementType == models.DisbursementBatches {
			if batch, err = nextBatch(ctx, tx, b.ID); err != nil {
				return err
			}
			if in.Amount != batch.Amount {
				return fmt.Errorf("%w: batch %d must be disbursed whole (%s), got %s",
					ErrInvalidAmount, batch.Sequence, s.display(batch.Amount), s.display(in.Amount))
			}
		}

		txn = &models.Transaction{
			BudgetID:    b.ID,
			Type:        models.TxnDisbursement,
			Status:      models.TxnStatusPending,
			Amount:      in.Amount,
			Method:      method,
			Destination: in.Destination,
			Reference:   uuid.NewString(),
			ActorID:     actor.ID,
			CreatedAt:   s.now(),
		}
		if batch != nil {
			txn.BatchID = ptr(batch.ID)
		}
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}
		if batch != nil {
			batch.TransactionID = ptr(txn.ID)
			if err := tx.UpdateBatch(ctx, batch); err != nil {
				return err
			}
		}
		out.touch(b.ID)
		budget = b
		return s.record(ctx, tx, "disbursement.initiated", "transaction", txn.ID, actor, map[string]any{
			"budget_id": b.ID, "amount": in.Amount, "method": method, "reference": txn.Reference, "batch_id": txn.BatchID,
		})
	})
	return txn, budget, err
}

// nextBatch is the first batch that has not been disbursed. Batches go out in
// order, one at a time.
func nextBatch(ctx context.Context, tx Tx, budgetID int64) (*models.Batch, error) {
	batches, err := tx.ListBatches(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	for i := range batches {
		b := &batches[i]
		if b.Status != models.BatchPending {
			continue
		}
		if b.InFlight() {
			return nil, fmt.Errorf("%w: batch %d is already being disbursed", ErrInvalidTransition, b.Sequence)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: budget %d has no pending batch", ErrInvalidTransition, budgetID)
}

// finish records a channel's answer for a pending disbursement.
func (s *Service) finish(ctx context.Context, txnID int64, ref, outcome, reason string, fee int64, actor models.Actor) (*models.Transaction, error) {
	var result *models.Transaction
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		t, err := tx.GetTransaction(ctx, txnID)
		if err != nil {
			return err
		}
		b, err := tx.LockBudget(ctx, t.BudgetID)
		if err != nil {
			return err
		}
		if t, err = tx.LockTransaction(ctx, txnID); err != nil {
			return err
		}
		if t.Status != models.TxnStatusPending {
			result = t
			return nil
		}
		if ref != "" {
			t.ChannelRef = ref
		}
		if fee > 0 {
			if err := s.recordFee(ctx, tx, t, fee, actor); err != nil {
				return err
			}
		}
		if outcome == models.TxnStatusPending {
			if err := tx.UpdateTransaction(ctx, t); err != nil {
				return err
			}
			result = t
			return s.record(ctx, tx, "disbursement.acknowledged", "transaction", t.ID, actor, map[string]any{
				"channel_ref": t.ChannelRef,
			})
		}
		result = t
		return s.applyOutcome(ctx, tx, out, b, t, outcome, reason, actor)
	})
	return result, err
}

func (s *Service) recordFee(ctx context.Context, tx Tx, t *models.Transaction, fee int64, actor models.Actor) error {
	feeTxn := &models.Transaction{
		BudgetID:  t.BudgetID,
		Type:      models.TxnFee,
		Status:    models.TxnStatusCompleted,
		Amount:    fee,
		Method:    t.Method,
		Reference: t.Reference + "-fee",
		ActorID:   actor.ID,
		SettledAt: ptr(s.now()),
	}
	if err := tx.InsertTransaction(ctx, feeTxn); err != nil {
		return err
	}
	return s.record(ctx, tx, "fee.recorded", "transaction", feeTxn.ID, actor, map[string]any{
		"disbursement_id": t.ID, "amount": fee,
	})
}

// applyOutcome moves a pending disbursement to its final status, updates the
// batch it reserved and re-derives the budget status from the ledger.
func (s *Service) applyOutcome(ctx context.Context, tx Tx, out *outbox, b *models.Budget, t *models.Transaction, outcome, reason string, actor models.Actor) error {
	var batch *models.Batch
	if t.BatchID != nil {
		batches, err := tx.ListBatches(ctx, b.ID)
		if err != nil {
			return err
		}
		for i := range batches {
			if batches[i].ID == *t.BatchID {
				batch = &batches[i]
			}
		}
	}

	now := s.now()
	switch outcome {
	case models.TxnStatusCompleted:
		t.Status = models.TxnStatusCompleted
		t.SettledAt = &now
		if batch != nil {
			batch.Status = models.BatchDisbursed
			batch.DisbursedAt = &now
		}
	case models.TxnStatusFailed, models.TxnStatusCancelled:
		t.Status = outcome
		t.FailureReason = reason
		if batch != nil {
			batch.TransactionID = nil
		}
	default:
		return fmt.Errorf("%w: unknown settlement outcome %q", ErrInvalidInput, outcome)
	}
	if err := tx.UpdateTransaction(ctx, t); err != nil {
		return err
	}
	if batch != nil {
		if err := tx.UpdateBatch(ctx, batch); err != nil {
			return err
		}
	}

	p, err := loadPosition(ctx, tx, b)
	if err != nil {
		return err
	}
	if p.disbursed() > p.effective() {
		return fmt.Errorf("%w: settling transaction %d would disburse %d of %d",
			ErrInsufficientAllocation, t.ID, p.disbursed(), p.effective())
	}
	prev, changed, err := syncStatus(ctx, tx, b, p)
	if err != nil {
		return err
	}
	changes := map[string]any{
		"budget_id": b.ID, "amount": t.Amount, "status": t.Status, "channel_ref": t.ChannelRef, "reason": reason,
	}
	if changed {
		changes["budget_status"] = map[string]string{"from": prev, "to": b.Status}
	}
	if err := s.record(ctx, tx, "disbursement."+strings.ToLower(t.Status), "transaction", t.ID, actor, changes); err != nil {
		return err
	}

	data := map[string]any{"budget_id": b.ID, "transaction_id": t.ID, "amount": t.Amount}
	if t.Status == models.TxnStatusCompleted {
		out.notify([]int64{b.OwnerID}, "Funds disbursed",
			fmt.Sprintf("%s was disbursed for %q", s.display(t.Amount), b.Title), "disbursement_completed", data)
	} else {
		msg := fmt.Sprintf("Disbursement of %s for %q %s", s.display(t.Amount), b.Title, strings.ToLower(t.Status))
		if reason != "" {
			msg += ": " + reason
		}
		out.notify(s.admins(ctx, tx), "Disbursement "+strings.ToLower(t.Status), msg, "disbursement_failed", data)
	}
	out.touch(b.ID)
	return nil
}

type SettleInput struct {
	Method       string
	ChannelRef   string
	SettlementID string
	Outcome      string
	Note         string
}

// Settle applies a channel's final answer for a disbursement. A settlement
// id that was already applied is a no-op, and so is repeating the outcome a
// transaction already has.
func (s *Service) Settle(ctx context.Context, in SettleInput, actor models.Actor) (*models.Transaction, error) {
	if err := Authorize(actor, CapSettle, nil); err != nil {
		return nil, err
	}
	in.Outcome = strings.ToUpper(in.Outcome)
	switch in.Outcome {
	case models.TxnStatusCompleted, models.TxnStatusFailed, models.TxnStatusCancelled:
	case "SUCCESS":
		in.Outcome = models.TxnStatusCompleted
	default:
		return nil, fmt.Errorf("%w: unknown settlement outcome %q", ErrInvalidInput, in.Outcome)
	}
	if in.ChannelRef == "" {
		return nil, fmt.Errorf("%w: channel reference is required", ErrInvalidInput)
	}
	if in.SettlementID == "" {
		in.SettlementID = in.Method + ":" + in.ChannelRef + ":" + in.Outcome
	}

	var result *models.Transaction
	replayed := false
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		t, err := tx.FindTransactionByRef(ctx, in.Method, in.ChannelRef)
		if err != nil {
			return err
		}
		b, err := tx.LockBudget(ctx, t.BudgetID)
		if err != nil {
			return err
		}
		if t, err = tx.LockTransaction(ctx, t.ID); err != nil {
			return err
		}
		result = t
		fresh, err := tx.RecordSettlement(ctx, in.SettlementID, t.ID, in.Outcome)
		if err != nil {
			return err
		}
		if !fresh {
			replayed = true
			return nil
		}
		if t.Status != models.TxnStatusPending {
			if t.Status == in.Outcome {
				replayed = true
				return nil
			}
			if t.Status == models.TxnStatusCompleted && in.Outcome == models.TxnStatusFailed {
				applied, err := s.reverseReturned(ctx, tx, out, b, t, in.Note, actor)
				replayed = !applied
				return err
			}
			return fmt.Errorf("%w: transaction %d is already %s", ErrInvalidTransition, t.ID, t.Status)
		}
		return s.applyOutcome(ctx, tx, out, b, t, in.Outcome, in.Note, actor)
	})
	if err != nil {
		log.Printf("ERROR: settlement %s for %s ref %s not applied: %v", in.SettlementID, in.Method, in.ChannelRef, err)
		return nil, err
	}
	if replayed {
		log.Printf("INFO: settlement %s for transaction %d already applied", in.SettlementID, result.ID)
	} else {
		log.Printf("INFO: transaction %d settled as %s (%s)", result.ID, result.Status, in.SettlementID)
	}
	return result, nil
}

// reverseReturned books a REVERSAL for a completed disbursement the channel
// later reports as failed, such as an ACH return. The funds count as
// undisbursed again and a batch they paid for goes back to PENDING. It
// reports false when the disbursement was already reversed.
func (s *Service) reverseReturned(ctx context.Context, tx Tx, out *outbox, b *models.Budget, t *models.Transaction, reason string, actor models.Actor) (bool, error) {
	txns, err := tx.ListTransactions(ctx, b.ID)
	if err != nil {
		return false, err
	}
	for _, x := range txns {
		if x.Type == models.TxnReversal && x.Status == models.TxnStatusCompleted && x.ReversesID != nil && *x.ReversesID == t.ID {
			return false, nil
		}
	}

	now := s.now()
	rev := &models.Transaction{
		BudgetID:      b.ID,
		BatchID:       t.BatchID,
		ReversesID:    ptr(t.ID),
		Type:          models.TxnReversal,
		Status:        models.TxnStatusCompleted,
		Amount:        t.Amount,
		Method:        t.Method,
		Destination:   t.Destination,
		Reference:     t.Reference + "-return",
		FailureReason: reason,
		ActorID:       actor.ID,
		SettledAt:     &now,
	}
	if err := tx.InsertTransaction(ctx, rev); err != nil {
		return false, err
	}

	if t.BatchID != nil && disbursing(b.Status) {
		batches, err := tx.ListBatches(ctx, b.ID)
		if err != nil {
			return false, err
		}
		for i := range batches {
			if batches[i].ID != *t.BatchID {
				continue
			}
			batches[i].Status = models.BatchPending
			batches[i].TransactionID = nil
			batches[i].DisbursedAt = nil
			if err := tx.UpdateBatch(ctx, &batches[i]); err != nil {
				return false, err
			}
		}
	}

	p, err := loadPosition(ctx, tx, b)
	if err != nil {
		return false, err
	}
	prev, changed, err := syncStatus(ctx, tx, b, p)
	if err != nil {
		return false, err
	}
	changes := map[string]any{
		"budget_id": b.ID, "reverses": t.ID, "amount": t.Amount, "channel_ref": t.ChannelRef, "reason": reason,
	}
	if changed {
		changes["budget_status"] = map[string]string{"from": prev, "to": b.Status}
	}
	if err := s.record(ctx, tx, "disbursement.returned", "transaction", rev.ID, actor, changes); err != nil {
		return false, err
	}

	msg := fmt.Sprintf("Disbursement of %s for %q was returned after settling", s.display(t.Amount), b.Title)
	if reason != "" {
		msg += ": " + reason
	}
	data := map[string]any{"budget_id": b.ID, "transaction_id": t.ID, "reversal_id": rev.ID, "amount": t.Amount}
	out.notify(s.admins(ctx, tx), "Disbursement returned", msg, "disbursement_returned", data)
	out.notify([]int64{b.OwnerID}, "Disbursement returned", msg, "disbursement_returned", data)
	out.touch(b.ID)
	return true, nil
}

// Revoke closes an approved budget. Completed disbursements are reversed and
// the whole effective allocation goes back to the fund pool.
func (s *Service) Revoke(ctx context.Context, budgetID int64, reason string, actor models.Actor) (*models.Budget, error) {
	if err := Authorize(actor, CapRevoke, nil); err != nil {
		return nil, err
	}
	var result *models.Budget
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.Status != models.StatusApproved && b.Status != models.StatusPartiallyDisbursed {
			return fmt.Errorf("%w: budget %d is %s, only APPROVED or PARTIALLY_DISBURSED budgets can be revoked", ErrInvalidTransition, b.ID, b.Status)
		}
		p, err := loadPosition(ctx, tx, b)
		if err != nil {
			return err
		}
		if p.totals.Pending > 0 {
			return fmt.Errorf("%w: budget %d has %s in flight; settle or reconcile it first", ErrInvalidTransition, b.ID, s.display(p.totals.Pending))
		}

		txns, err := tx.ListTransactions(ctx, b.ID)
		if err != nil {
			return err
		}
		reversed := map[int64]bool{}
		for _, t := range txns {
			if t.Type == models.TxnReversal && t.Status == models.TxnStatusCompleted && t.ReversesID != nil {
				reversed[*t.ReversesID] = true
			}
		}
		now := s.now()
		var reversedTotal int64
		for _, t := range txns {
			if t.Type != models.TxnDisbursement || t.Status != models.TxnStatusCompleted || reversed[t.ID] {
				continue
			}
			rev := &models.Transaction{
				BudgetID:    b.ID,
				BatchID:     t.BatchID,
				ReversesID:  ptr(t.ID),
				Type:        models.TxnReversal,
				Status:      models.TxnStatusCompleted,
				Amount:      t.Amount,
				Method:      t.Method,
				Destination: t.Destination,
				Reference:   uuid.NewString(),
				ActorID:     actor.ID,
				SettledAt:   &now,
			}
			if err := tx.InsertTransaction(ctx, rev); err != nil {
				return err
			}
			reversedTotal += t.Amount
			if err := s.record(ctx, tx, "disbursement.reversed", "transaction", rev.ID, actor, map[string]any{
				"budget_id": b.ID, "reverses": t.ID, "amount": t.Amount,
			}); err != nil {
				return err
			}
		}

		batches, err := tx.ListBatches(ctx, b.ID)
		if err != nil {
			return err
		}
		for i := range batches {
			if batches[i].Status == models.BatchPending {
				batches[i].Status = models.BatchCancelled
				if err := tx.UpdateBatch(ctx, &batches[i]); err != nil {
					return err
				}
			}
		}

		credit := p.effective() - (p.disbursed() - reversedTotal)
		balance, _, err := tx.AdjustPool(ctx, credit)
		if err != nil {
			return err
		}
		b.Status = models.StatusRevoked
		b.RevokedAt = &now
		b.DecisionNote = reason
		if err := tx.UpdateBudget(ctx, b); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "budget.revoked", "budget", b.ID, actor, map[string]any{
			"reason": reason, "reversed": reversedTotal, "credited": credit,
		}); err != nil {
			return err
		}
		if err := s.record(ctx, tx, "pool.credited", "fund_pool", 1, actor, map[string]any{
			"delta": credit, "balance": balance, "budget_id": b.ID,
		}); err != nil {
			return err
		}
		msg := fmt.Sprintf("%q was revoked", b.Title)
		if reason != "" {
			msg += ": " + reason
		}
		out.notify([]int64{b.OwnerID}, "Budget revoked", msg, "budget_revoked",
			map[string]any{"budget_id": b.ID, "reversed": reversedTotal})
		out.touch(b.ID)
		result = b
		return nil
	})
	if err != nil {
		log.Printf("ERROR: admin %d could not revoke budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: admin %d revoked budget %d", actor.ID, budgetID)
	return result, nil
}

// Rebatch replaces the undisbursed batches of a budget. Together with the
// batches already paid out they must cover the effective allocation exactly.
func (s *Service) Rebatch(ctx context.Context, budgetID int64, amounts []int64, reason string, actor models.Actor) ([]models.Batch, error) {
	if err := Authorize(actor, CapRebatch, nil); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: changing batches needs a reason", ErrInvalidInput)
	}
	var result []models.Batch
	err := s.commit(ctx, func(tx Tx, out *outbox) error {
		b, err := tx.LockBudget(ctx, budgetID)
		if err != nil {
			return err
		}
		if b.DisbursementType != models.DisbursementBatches {
			return fmt.Errorf("%w: budget %d is not disbursed in batches", ErrInvalidState, b.ID)
		}
		if b.Status != models.StatusApproved && b.Status != models.StatusPartiallyDisbursed {
			return fmt.Errorf("%w: budget %d is %s", ErrInvalidTransition, b.ID, b.Status)
		}
		batches, err := tx.ListBatches(ctx, b.ID)
		if err != nil {
			return err
		}
		var paid int64
		seq := 0
		var previous []int64
		for _, batch := range batches {
			if batch.InFlight() {
				return fmt.Errorf("%w: batch %d is being disbursed", ErrInvalidTransition, batch.Sequence)
			}
			switch batch.Status {
			case models.BatchDisbursed:
				paid += batch.Amount
				seq = max(seq, batch.Sequence)
			case models.BatchPending:
				previous = append(previous, batch.Amount)
			}
		}
		p, err := loadPosition(ctx, tx, b)
		if err != nil {
			return err
		}
		if err := checkBatchAmounts(amounts, p.effective()-paid); err != nil {
			return err
		}
		if err := tx.DeletePendingBatches(ctx, b.ID); err != nil {
			return err
		}
		for i, amount := range amounts {
			batch := &models.Batch{BudgetID: b.ID, Sequence: seq + i + 1, Amount: amount, Status: models.BatchPending}
			if err := tx.InsertBatch(ctx, batch); err != nil {
				return err
			}
		}
		if err := s.record(ctx, tx, "budget.rebatched", "budget", b.ID, actor, map[string]any{
			"reason": reason, "before": previous, "after": amounts,
		}); err != nil {
			return err
		}
		out.notify([]int64{b.OwnerID}, "Disbursement schedule changed",
			fmt.Sprintf("%q will now be paid in %d more batches: %s", b.Title, len(amounts), reason),
			"budget_rebatched", map[string]any{"budget_id": b.ID})
		out.touch(b.ID)
		result, err = tx.ListBatches(ctx, b.ID)
		return err
	})
	if err != nil {
		log.Printf("ERROR: admin %d could not rebatch budget %d: %v", actor.ID, budgetID, err)
		return nil, err
	}
	log.Printf("INFO: admin %d rebatched budget %d into %d batches", actor.ID, budgetID, len(amounts))
	return result, nil
}
