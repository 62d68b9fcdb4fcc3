package ledger_test

import (
	"testing"
	"time"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

func TestSettlementReplayCountsOnce(t *testing.T) {
	async := &asyncChannel{name: "bank"}
	f := newFixture(t, async)
	id := f.approved(t, 80_000, 80_000)

	txn, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 40_000, Method: "bank"}, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != models.TxnStatusPending || txn.ChannelRef != "bank-1" {
		t.Fatalf("transaction = %s/%q, want PENDING/bank-1", txn.Status, txn.ChannelRef)
	}
	sum := f.summary(t, id)
	if sum.Disbursed != 0 || sum.PendingDisbursement != 40_000 || sum.RemainingToDisburse != 40_000 {
		t.Fatalf("disbursed=%d pending=%d remaining=%d, want 0/40000/40000",
			sum.Disbursed, sum.PendingDisbursement, sum.RemainingToDisburse)
	}
	if sum.Budget.Status != models.StatusApproved {
		t.Fatalf("status = %s while pending, want APPROVED", sum.Budget.Status)
	}

	settle := ledger.SettleInput{Method: "bank", ChannelRef: "bank-1", SettlementID: "evt-1", Outcome: "completed"}
	for i := range 3 {
		if _, err := f.svc.Settle(f.ctx, settle, models.SystemActor); err != nil {
			t.Fatalf("settle attempt %d: %v", i+1, err)
		}
	}
	settle.SettlementID = "evt-2"
	if _, err := f.svc.Settle(f.ctx, settle, models.SystemActor); err != nil {
		t.Fatalf("second id with the same outcome: %v", err)
	}

	sum = f.summary(t, id)
	if sum.Disbursed != 40_000 {
		t.Errorf("disbursed = %d after replays, want 40000", sum.Disbursed)
	}
	if sum.Budget.Status != models.StatusPartiallyDisbursed {
		t.Errorf("status = %s, want PARTIALLY_DISBURSED", sum.Budget.Status)
	}

	settle.SettlementID = "evt-3"
	settle.Outcome = models.TxnStatusCancelled
	_, err = f.svc.Settle(f.ctx, settle, models.SystemActor)
	wantErr(t, err, ledger.ErrInvalidTransition)

	_, err = f.svc.Settle(f.ctx, ledger.SettleInput{Method: "bank", ChannelRef: "nope", Outcome: "COMPLETED"}, models.SystemActor)
	wantErr(t, err, ledger.ErrNotFound)

	_, err = f.svc.Settle(f.ctx, settle, f.owner)
	wantErr(t, err, ledger.ErrNotAuthorized)
}

func TestFailedSettlementReleasesBatch(t *testing.T) {
	async := &asyncChannel{name: "bank"}
	f := newFixture(t, async)
	id := f.submitted(t, 80_000).Budget.ID
	if _, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{
		AllocatedAmount: 80_000, DisbursementType: "batches", BatchCount: 2,
	}, f.admin); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 40_000, Method: "bank"}, f.admin); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 40_000, Method: "bank"}, f.admin)
	wantErr(t, err, ledger.ErrInvalidTransition)

	_, err = f.svc.Revoke(f.ctx, id, "", f.admin)
	wantErr(t, err, ledger.ErrInvalidTransition)

	if _, err := f.svc.Settle(f.ctx, ledger.SettleInput{
		Method: "bank", ChannelRef: "bank-1", SettlementID: "evt-9", Outcome: "FAILED", Note: "account closed",
	}, models.SystemActor); err != nil {
		t.Fatal(err)
	}
	if !f.notes.sentTo(f.admin.ID, "disbursement_failed") {
		t.Error("admin was not told about the failed disbursement")
	}
	sum := f.summary(t, id)
	if sum.Batches[0].InFlight() || sum.Batches[0].Status != models.BatchPending {
		t.Fatalf("batch 1 = %+v, want released and PENDING", sum.Batches[0])
	}
	if sum.Disbursed != 0 || sum.PendingDisbursement != 0 {
		t.Errorf("disbursed=%d pending=%d, want 0/0", sum.Disbursed, sum.PendingDisbursement)
	}

	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 40_000, Method: "manual"}, f.admin); err != nil {
		t.Fatalf("retry batch 1: %v", err)
	}
	if s := f.summary(t, id); s.Batches[0].Status != models.BatchDisbursed {
		t.Errorf("batch 1 = %s, want DISBURSED", s.Batches[0].Status)
	}
}

func TestChannelFailureSurfacesAndReleases(t *testing.T) {
	f := newFixture(t, failingChannel{})
	id := f.approved(t, 10_000, 10_000)

	_, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 10_000, Method: "broken"}, f.admin)
	wantErr(t, err, ledger.ErrExternalChannelFailure)

	txns, err := f.svc.ListTransactions(f.ctx, id, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 || txns[0].Status != models.TxnStatusFailed || txns[0].FailureReason == "" {
		t.Fatalf("transactions = %+v, want one FAILED with a reason", txns)
	}
	if s := f.summary(t, id); s.RemainingToDisburse != 10_000 {
		t.Errorf("remaining = %d, want the full 10000 back", s.RemainingToDisburse)
	}

	_, err = f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 10_000, Method: "carrier-pigeon"}, f.admin)
	wantErr(t, err, ledger.ErrInvalidInput)
}

func TestReconcileFailsStaleDisbursements(t *testing.T) {
	async := &asyncChannel{name: "bank"}
	f := newFixture(t, async)
	id := f.approved(t, 30_000, 30_000)
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 30_000, Method: "bank"}, f.admin); err != nil {
		t.Fatal(err)
	}

	report, err := f.svc.Reconcile(f.ctx, 30*time.Minute, models.SystemActor)
	if err != nil {
		t.Fatal(err)
	}
	if report.Checked != 0 {
		t.Fatalf("fresh disbursement was reconciled: %+v", report)
	}

	f.clock.Advance(31 * time.Minute)
	report, err = f.svc.Reconcile(f.ctx, 30*time.Minute, models.SystemActor)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Fatalf("report = %+v, want one failed", report)
	}
	sum := f.summary(t, id)
	if sum.PendingDisbursement != 0 || sum.RemainingToDisburse != 30_000 {
		t.Errorf("pending=%d remaining=%d, want 0/30000", sum.PendingDisbursement, sum.RemainingToDisburse)
	}
	if !f.notes.sentTo(f.admin.ID, "disbursement_failed") {
		t.Error("admin was not told about the stale disbursement")
	}
}

func TestReconcileUsesChannelLookup(t *testing.T) {
	lookup := lookupChannel{&asyncChannel{name: "bank", outcome: models.TxnStatusPending}}
	f := newFixture(t, lookup)
	id := f.approved(t, 30_000, 30_000)
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 30_000, Method: "bank"}, f.admin); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(45 * time.Minute)
	report, err := f.svc.Reconcile(f.ctx, 30*time.Minute, models.SystemActor)
	if err != nil {
		t.Fatal(err)
	}
	if report.StillPending != 1 {
		t.Fatalf("report = %+v, want one still pending", report)
	}

	lookup.outcome = models.TxnStatusCompleted
	report, err = f.svc.Reconcile(f.ctx, 30*time.Minute, models.SystemActor)
	if err != nil {
		t.Fatal(err)
	}
	if report.Settled != 1 {
		t.Fatalf("report = %+v, want one settled", report)
	}
	if s := f.summary(t, id); s.Budget.Status != models.StatusDisbursed {
		t.Errorf("status = %s, want DISBURSED", s.Budget.Status)
	}
}

func TestReconcileGivesUpAfterTwiceTheWindow(t *testing.T) {
	lookup := lookupChannel{&asyncChannel{name: "bank", outcome: models.TxnStatusPending}}
	f := newFixture(t, lookup)
	id := f.approved(t, 30_000, 30_000)
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 30_000, Method: "bank"}, f.admin); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(61 * time.Minute)
	report, err := f.svc.Reconcile(f.ctx, 30*time.Minute, models.SystemActor)
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Fatalf("report = %+v, want one failed", report)
	}
}

func TestReturnAfterSettlementIsReversed(t *testing.T) {
	async := &asyncChannel{name: "bank"}
	f := newFixture(t, async)
	id := f.submitted(t, 40_000).Budget.ID
	if _, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{
		AllocatedAmount: 40_000, DisbursementType: models.DisbursementBatches, BatchCount: 2,
	}, f.admin); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 20_000, Method: "bank"}, f.admin); err != nil {
		t.Fatal(err)
	}
	settle := ledger.SettleInput{Method: "bank", ChannelRef: "bank-1", SettlementID: "evt-settled", Outcome: "COMPLETED"}
	if _, err := f.svc.Settle(f.ctx, settle, models.SystemActor); err != nil {
		t.Fatal(err)
	}
	if s := f.summary(t, id); s.Disbursed != 20_000 || s.Budget.Status != models.StatusPartiallyDisbursed {
		t.Fatalf("before return: disbursed=%d status=%s", s.Disbursed, s.Budget.Status)
	}

	returned := ledger.SettleInput{Method: "bank", ChannelRef: "bank-1", SettlementID: "evt-returned", Outcome: "FAILED", Note: "account closed"}
	txn, err := f.svc.Settle(f.ctx, returned, models.SystemActor)
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != models.TxnStatusCompleted {
		t.Errorf("original disbursement status = %s, want it kept COMPLETED", txn.Status)
	}
	// A second report of the same return, under a new id, must not reverse twice.
	returned.SettlementID = "evt-returned-again"
	if _, err := f.svc.Settle(f.ctx, returned, models.SystemActor); err != nil {
		t.Fatal(err)
	}

	sum := f.summary(t, id)
	if sum.Disbursed != 0 || sum.RemainingToDisburse != 40_000 {
		t.Fatalf("after return: disbursed=%d remaining=%d, want 0/40000", sum.Disbursed, sum.RemainingToDisburse)
	}
	if sum.Budget.Status != models.StatusApproved {
		t.Errorf("status = %s, want APPROVED", sum.Budget.Status)
	}
	if sum.Batches[0].Status != models.BatchPending || sum.Batches[0].TransactionID != nil {
		t.Errorf("first batch = %+v, want it pending again", sum.Batches[0])
	}
	if !f.notes.sentTo(f.admin.ID, "disbursement_returned") {
		t.Error("admins were not told about the return")
	}

	txns, err := f.svc.ListTransactions(f.ctx, id, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	reversals := 0
	for _, x := range txns {
		if x.Type == models.TxnReversal {
			reversals++
		}
	}
	if reversals != 1 {
		t.Errorf("reversals = %d, want 1", reversals)
	}
	if got := f.pool(t); got != seedPool-40_000 {
		t.Errorf("pool = %d, want the allocation still committed (%d)", got, seedPool-40_000)
	}

	if _, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 20_000, Method: "bank"}, f.admin); err != nil {
		t.Fatalf("re-disbursing the returned batch: %v", err)
	}
}
