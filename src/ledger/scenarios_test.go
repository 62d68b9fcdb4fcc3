package ledger_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"golang.org/x/sync/errgroup"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

func TestFullApprovalAndDisbursement(t *testing.T) {
	f := newFixture(t)
	id := f.approved(t, 100_000, 80_000)

	sum := f.summary(t, id)
	if sum.Budget.Status != models.StatusApproved {
		t.Fatalf("status = %s, want APPROVED", sum.Budget.Status)
	}
	if got := f.pool(t); got != seedPool-80_000 {
		t.Fatalf("pool = %d, want %d", got, seedPool-80_000)
	}
	if !f.notes.sentTo(f.owner.ID, "budget_approved") {
		t.Error("owner was not notified of approval")
	}

	txn, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 80_000, Method: "manual"}, f.admin)
	if err != nil {
		t.Fatalf("disburse: %v", err)
	}
	if txn.Status != models.TxnStatusCompleted {
		t.Fatalf("transaction status = %s, want COMPLETED", txn.Status)
	}
	sum = f.summary(t, id)
	if sum.Budget.Status != models.StatusDisbursed {
		t.Errorf("status = %s, want DISBURSED", sum.Budget.Status)
	}
	if sum.Disbursed != 80_000 || sum.RemainingToDisburse != 0 {
		t.Errorf("disbursed = %d remaining = %d, want 80000 and 0", sum.Disbursed, sum.RemainingToDisburse)
	}

	_, err = f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 1, Method: "manual"}, f.admin)
	wantErr(t, err, ledger.ErrInvalidTransition)
}

func TestBatchDisbursementMustMatchBatch(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 80_000).Budget.ID
	_, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{
		AllocatedAmount:  80_000,
		DisbursementType: models.DisbursementBatches,
		BatchCount:       4,
	}, f.admin)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	_, err = f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 15_000, Method: "manual"}, f.admin)
	wantErr(t, err, ledger.ErrInvalidAmount)

	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 20_000, Method: "manual"}, f.admin); err != nil {
		t.Fatalf("disburse batch 1: %v", err)
	}
	sum := f.summary(t, id)
	if sum.Budget.Status != models.StatusPartiallyDisbursed {
		t.Errorf("status = %s, want PARTIALLY_DISBURSED", sum.Budget.Status)
	}
	if len(sum.Batches) != 4 {
		t.Fatalf("got %d batches, want 4", len(sum.Batches))
	}
	if sum.Batches[0].Status != models.BatchDisbursed || sum.Batches[0].DisbursedAt == nil {
		t.Errorf("batch 1 = %+v, want DISBURSED", sum.Batches[0])
	}
	for _, b := range sum.Batches[1:] {
		if b.Status != models.BatchPending || b.Amount != 20_000 {
			t.Errorf("batch %d = %s/%d, want PENDING/20000", b.Sequence, b.Status, b.Amount)
		}
	}
}

func TestApprovalRejectsUnevenBatches(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 80_000).Budget.ID
	_, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{
		AllocatedAmount:  80_000,
		DisbursementType: models.DisbursementBatches,
		BatchAmounts:     []int64{50_000, 20_000},
	}, f.admin)
	wantErr(t, err, ledger.ErrInvalidAmount)
	if got := f.pool(t); got != seedPool {
		t.Errorf("pool = %d after refused approval, want %d", got, seedPool)
	}
}

func TestOverspendCreatesSupplementaryAndApprovalReopensDisbursement(t *testing.T) {
	f := newFixture(t)
	sum := f.submitted(t, 100_000)
	id := sum.Budget.ID
	itemID := sum.Items[0].ID
	if _, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{AllocatedAmount: 80_000}, f.admin); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 80_000, Method: "manual"}, f.admin); err != nil {
		t.Fatal(err)
	}

	spend := ledger.ExpenditureInput{
		Title: "Purchase order 17",
		Items: []ledger.ExpenditureLine{{BudgetItemID: itemID, SpentAmount: 90_000}},
	}
	_, err := f.svc.PostExpenditure(f.ctx, id, spend, f.owner)
	wantErr(t, err, ledger.ErrInsufficientAllocation)

	spend.RequestSupplementary = true
	spend.SupplementaryReason = "Supplier raised prices"
	res, err := f.svc.PostExpenditure(f.ctx, id, spend, f.owner)
	if err != nil {
		t.Fatalf("post expenditure: %v", err)
	}
	if res.Expenditure.Amount != 90_000 {
		t.Errorf("expenditure amount = %d, want 90000", res.Expenditure.Amount)
	}
	if res.Supplementary == nil || res.Supplementary.Amount != 10_000 || res.Supplementary.Status != models.SupplementaryPending {
		t.Fatalf("supplementary = %+v, want PENDING 10000", res.Supplementary)
	}
	if res.Expenditure.Items[0].Flagged {
		t.Error("item within its planned cost should not be flagged")
	}

	if _, err := f.svc.DecideSupplementary(f.ctx, res.Supplementary.ID, "approved", "", f.admin); err != nil {
		t.Fatalf("decide: %v", err)
	}
	after := f.summary(t, id)
	if after.EffectiveAllocation != 90_000 {
		t.Errorf("effective allocation = %d, want 90000", after.EffectiveAllocation)
	}
	if after.Budget.AllocatedAmount != 80_000 {
		t.Errorf("allocated amount = %d, want the original 80000", after.Budget.AllocatedAmount)
	}
	if after.Budget.Status != models.StatusPartiallyDisbursed {
		t.Errorf("status = %s, want PARTIALLY_DISBURSED", after.Budget.Status)
	}
	if after.UncoveredOverspend != 0 {
		t.Errorf("uncovered overspend = %d, want 0", after.UncoveredOverspend)
	}
	if got := f.pool(t); got != seedPool-90_000 {
		t.Errorf("pool = %d, want %d", got, seedPool-90_000)
	}

	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 10_000, Method: "manual"}, f.admin); err != nil {
		t.Fatalf("disburse supplementary: %v", err)
	}
	if s := f.summary(t, id); s.Budget.Status != models.StatusDisbursed || s.Disbursed != 90_000 {
		t.Errorf("status = %s disbursed = %d, want DISBURSED 90000", s.Budget.Status, s.Disbursed)
	}

	_, err = f.svc.DecideSupplementary(f.ctx, res.Supplementary.ID, "rejected", "", f.admin)
	wantErr(t, err, ledger.ErrInvalidTransition)
}

func TestRevokeReversesAndCreditsPool(t *testing.T) {
	f := newFixture(t)
	id := f.approved(t, 50_000, 50_000)
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 30_000, Method: "manual"}, f.admin); err != nil {
		t.Fatal(err)
	}
	if s := f.summary(t, id); s.Budget.Status != models.StatusPartiallyDisbursed {
		t.Fatalf("status = %s, want PARTIALLY_DISBURSED", s.Budget.Status)
	}
	before := f.pool(t)

	b, err := f.svc.Revoke(f.ctx, id, "project cancelled", f.admin)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if b.Status != models.StatusRevoked {
		t.Errorf("status = %s, want REVOKED", b.Status)
	}
	if got := f.pool(t); got != before+50_000 {
		t.Errorf("pool = %d, want %d", got, before+50_000)
	}

	txns, err := f.svc.ListTransactions(f.ctx, id, f.owner)
	if err != nil {
		t.Fatal(err)
	}
	var reversed int64
	for _, txn := range txns {
		if txn.Type == models.TxnReversal && txn.Status == models.TxnStatusCompleted {
			reversed += txn.Amount
		}
	}
	if reversed != 30_000 {
		t.Errorf("reversed = %d, want 30000", reversed)
	}
	if s := f.summary(t, id); s.Disbursed != 0 {
		t.Errorf("disbursed after revoke = %d, want 0", s.Disbursed)
	}

	_, err = f.svc.Revoke(f.ctx, id, "", f.admin)
	wantErr(t, err, ledger.ErrInvalidTransition)
}

func TestConcurrentDisbursementsNeverOvershoot(t *testing.T) {
	f := newFixture(t)
	id := f.approved(t, 100_000, 100_000)

	var ok, refused, other atomic.Int64
	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			_, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 15_000, Method: "manual"}, f.admin)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientAllocation):
				refused.Add(1)
			default:
				other.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ok.Load() != 6 || refused.Load() != 4 || other.Load() != 0 {
		t.Fatalf("ok=%d refused=%d other=%d, want 6/4/0", ok.Load(), refused.Load(), other.Load())
	}
	if s := f.summary(t, id); s.Disbursed != 90_000 {
		t.Errorf("disbursed = %d, want 90000", s.Disbursed)
	}
}

func TestApprovalGuards(t *testing.T) {
	f := newFixture(t)

	draft, err := f.svc.CreateBudget(f.ctx, ledger.BudgetInput{Title: "Draft", RequestedAmount: 500}, f.owner)
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.Approve(f.ctx, draft.Budget.ID, ledger.ApprovalInput{AllocatedAmount: 500}, f.admin)
	wantErr(t, err, ledger.ErrInvalidTransition)

	id := f.submitted(t, 100_000).Budget.ID
	_, err = f.svc.Approve(f.ctx, id, ledger.ApprovalInput{AllocatedAmount: 100_001}, f.admin)
	wantErr(t, err, ledger.ErrInvalidAmount)

	_, err = f.svc.Approve(f.ctx, id, ledger.ApprovalInput{AllocatedAmount: 0}, f.admin)
	wantErr(t, err, ledger.ErrInvalidAmount)

	_, err = f.svc.Approve(f.ctx, id, ledger.ApprovalInput{AllocatedAmount: 50_000}, f.owner)
	wantErr(t, err, ledger.ErrNotAuthorized)

	big := f.submitted(t, seedPool+1).Budget.ID
	_, err = f.svc.Approve(f.ctx, big, ledger.ApprovalInput{AllocatedAmount: seedPool + 1}, f.admin)
	wantErr(t, err, ledger.ErrInsufficientPool)
	if s := f.summary(t, big); s.Budget.Status != models.StatusPending {
		t.Errorf("status after refused approval = %s, want PENDING", s.Budget.Status)
	}
	if got := f.pool(t); got != seedPool {
		t.Errorf("pool = %d, want untouched %d", got, seedPool)
	}
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 10_000).Budget.ID
	if _, err := f.svc.Reject(f.ctx, id, "out of scope", f.admin); err != nil {
		t.Fatal(err)
	}
	if !f.notes.sentTo(f.owner.ID, "budget_rejected") {
		t.Error("owner was not notified of rejection")
	}
	_, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{AllocatedAmount: 10_000}, f.admin)
	wantErr(t, err, ledger.ErrInvalidTransition)
	_, err = f.svc.RequestSupplementary(f.ctx, id, 100, "more", f.owner)
	wantErr(t, err, ledger.ErrInvalidState)
}

func TestRevisionIsAddressedByOwnerEdit(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 10_000).Budget.ID

	rev, err := f.svc.RequestRevision(f.ctx, id, "split the equipment line", f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if rev.Status != models.RevisionOpen {
		t.Fatalf("revision status = %s, want OPEN", rev.Status)
	}
	if s := f.summary(t, id); s.Budget.Status != models.StatusPending {
		t.Fatalf("status = %s, want PENDING", s.Budget.Status)
	}

	_, err = f.svc.UpdateBudget(f.ctx, id, ledger.BudgetInput{Title: "x", RequestedAmount: 1}, f.other)
	wantErr(t, err, ledger.ErrNotOwner)

	sum, err := f.svc.UpdateBudget(f.ctx, id, ledger.BudgetInput{
		Title: "Field equipment",
		Items: []ledger.ItemInput{
			{Name: "tents", UnitPrice: 2_000, Quantity: 3},
			{Name: "stoves", UnitPrice: 1_000, Quantity: 4},
		},
	}, f.owner)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Budget.RequestedAmount != 10_000 || len(sum.Items) != 2 {
		t.Errorf("requested = %d items = %d, want 10000 and 2", sum.Budget.RequestedAmount, len(sum.Items))
	}
	if sum.Revisions[0].Status != models.RevisionAddressed {
		t.Errorf("revision status = %s, want ADDRESSED", sum.Revisions[0].Status)
	}
}

func TestDeleteOnlyDrafts(t *testing.T) {
	f := newFixture(t)
	draft, err := f.svc.CreateBudget(f.ctx, ledger.BudgetInput{Title: "Draft", RequestedAmount: 500}, f.owner)
	if err != nil {
		t.Fatal(err)
	}
	wantErr(t, f.svc.DeleteBudget(f.ctx, draft.Budget.ID, f.other), ledger.ErrNotOwner)
	if err := f.svc.DeleteBudget(f.ctx, draft.Budget.ID, f.owner); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	_, err = f.svc.Summary(f.ctx, draft.Budget.ID, f.owner)
	wantErr(t, err, ledger.ErrNotFound)

	pending := f.submitted(t, 500).Budget.ID
	wantErr(t, f.svc.DeleteBudget(f.ctx, pending, f.owner), ledger.ErrInvalidTransition)
}

func TestRebatchKeepsAllocationCovered(t *testing.T) {
	f := newFixture(t)
	id := f.submitted(t, 60_000).Budget.ID
	if _, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{
		AllocatedAmount:  60_000,
		DisbursementType: models.DisbursementBatches,
		BatchAmounts:     []int64{20_000, 20_000, 20_000},
	}, f.admin); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 20_000, Method: "manual"}, f.admin); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Rebatch(f.ctx, id, []int64{30_000, 20_000}, "vendor schedule", f.admin)
	wantErr(t, err, ledger.ErrInvalidAmount)
	_, err = f.svc.Rebatch(f.ctx, id, []int64{40_000}, "", f.admin)
	wantErr(t, err, ledger.ErrInvalidInput)

	batches, err := f.svc.Rebatch(f.ctx, id, []int64{40_000}, "vendor schedule", f.admin)
	if err != nil {
		t.Fatalf("rebatch: %v", err)
	}
	if len(batches) != 2 || batches[1].Amount != 40_000 || batches[1].Sequence != 2 {
		t.Fatalf("batches = %+v", batches)
	}
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 40_000, Method: "manual"}, f.admin); err != nil {
		t.Fatalf("disburse rebatched: %v", err)
	}
	if s := f.summary(t, id); s.Budget.Status != models.StatusDisbursed {
		t.Errorf("status = %s, want DISBURSED", s.Budget.Status)
	}
}
