package channel

import (
	"context"
	"errors"
	"strings"
	"testing"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
	plaidclient "fundflow-server/src/plaid"
)

func TestManualSettlesImmediately(t *testing.T) {
	m := NewManual(150)
	r, err := m.Initiate(context.Background(), ledger.DisbursementRequest{Reference: "r1", BudgetID: 1, Amount: 5000, Currency: "KES"})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if !r.Settled {
		t.Fatal("manual receipt not settled")
	}
	if r.Fee != 150 {
		t.Fatalf("Fee = %d, want 150", r.Fee)
	}
	if !strings.HasPrefix(r.Ref, "manual-") {
		t.Fatalf("Ref = %q", r.Ref)
	}

	again, _ := m.Initiate(context.Background(), ledger.DisbursementRequest{Amount: 1, Currency: "KES"})
	if again.Ref == r.Ref {
		t.Fatal("refs are not unique")
	}
}

func TestManualRejectsNonPositive(t *testing.T) {
	if _, err := NewManual(0).Initiate(context.Background(), ledger.DisbursementRequest{Amount: 0}); err == nil {
		t.Fatal("expected error for zero amount")
	}
}

type fakePlaid struct {
	payouts  []plaidclient.Payout
	payErr   error
	statuses map[string]string
	events   []plaidclient.TransferEvent
}

func (f *fakePlaid) CreatePayout(ctx context.Context, p plaidclient.Payout) (plaidclient.Transfer, error) {
	if f.payErr != nil {
		return plaidclient.Transfer{}, f.payErr
	}
	f.payouts = append(f.payouts, p)
	return plaidclient.Transfer{ID: "tr-1", Status: "pending"}, nil
}

func (f *fakePlaid) GetTransfer(ctx context.Context, id string) (plaidclient.Transfer, error) {
	status, ok := f.statuses[id]
	if !ok {
		return plaidclient.Transfer{}, errors.New("not found")
	}
	return plaidclient.Transfer{ID: id, Status: status}, nil
}

func (f *fakePlaid) SyncTransferEvents(ctx context.Context, afterID int32) ([]plaidclient.TransferEvent, error) {
	var out []plaidclient.TransferEvent
	for _, ev := range f.events {
		if ev.EventID > afterID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type accounts map[int64]models.PayoutAccount

func (a accounts) GetPayoutAccount(ctx context.Context, id int64) (*models.PayoutAccount, error) {
	acct, ok := a[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &acct, nil
}

func TestPlaidInitiate(t *testing.T) {
	api := &fakePlaid{}
	p := NewPlaid(api, accounts{4: {ID: 4, AccessToken: "access-1", AccountID: "acc-1", LegalName: "Jane Doe"}})

	r, err := p.Initiate(context.Background(), ledger.DisbursementRequest{
		Reference: "ref-1", BudgetID: 12, Amount: 123456, Currency: "USD", Destination: "4",
	})
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if r.Settled || r.Ref != "tr-1" {
		t.Fatalf("receipt = %+v", r)
	}
	if len(api.payouts) != 1 {
		t.Fatalf("payouts = %d", len(api.payouts))
	}
	got := api.payouts[0]
	if got.Amount != "1234.56" || got.AccountID != "acc-1" || got.IdempotencyKey != "ref-1" || got.Description != "BUDGET 12" {
		t.Fatalf("payout = %+v", got)
	}
}

func TestPlaidInitiateErrors(t *testing.T) {
	testCases := []struct {
		name string
		api  *fakePlaid
		req  ledger.DisbursementRequest
	}{
		{"non-USD", &fakePlaid{}, ledger.DisbursementRequest{Amount: 1, Currency: "KES", Destination: "4"}},
		{"bad destination", &fakePlaid{}, ledger.DisbursementRequest{Amount: 1, Currency: "USD", Destination: "acc"}},
		{"unknown account", &fakePlaid{}, ledger.DisbursementRequest{Amount: 1, Currency: "USD", Destination: "9"}},
		{"api failure", &fakePlaid{payErr: errors.New("declined")}, ledger.DisbursementRequest{Amount: 1, Currency: "USD", Destination: "4"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPlaid(tc.api, accounts{4: {ID: 4}})
			if _, err := p.Initiate(context.Background(), tc.req); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPlaidLookup(t *testing.T) {
	api := &fakePlaid{statuses: map[string]string{"a": "settled", "b": "pending", "c": "returned"}}
	p := NewPlaid(api, accounts{})

	testCases := []struct {
		ref  string
		want string
	}{
		{"a", models.TxnStatusCompleted},
		{"b", models.TxnStatusPending},
		{"c", models.TxnStatusFailed},
	}
	for _, tc := range testCases {
		s, err := p.Lookup(context.Background(), tc.ref)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", tc.ref, err)
		}
		if s.Outcome != tc.want || s.Ref != tc.ref {
			t.Fatalf("Lookup(%s) = %+v, want outcome %s", tc.ref, s, tc.want)
		}
	}
	if _, err := p.Lookup(context.Background(), "missing"); err == nil {
		t.Fatal("expected lookup error")
	}
}

func TestPlaidSyncAdvancesCursor(t *testing.T) {
	api := &fakePlaid{events: []plaidclient.TransferEvent{
		{EventID: 1, TransferID: "a", EventType: "pending"},
		{EventID: 2, TransferID: "a", EventType: "posted"},
		{EventID: 3, TransferID: "a", EventType: "settled"},
		{EventID: 4, TransferID: "b", EventType: "failed"},
	}}
	p := NewPlaid(api, accounts{})

	got, err := p.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("settlements = %+v", got)
	}
	if got[0].ID != "plaid-event-3" || got[0].Outcome != models.TxnStatusCompleted {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].Ref != "b" || got[1].Outcome != models.TxnStatusFailed {
		t.Fatalf("second = %+v", got[1])
	}
	if p.Cursor() != 4 {
		t.Fatalf("cursor = %d, want 4", p.Cursor())
	}

	again, err := p.Sync(context.Background())
	if err != nil || len(again) != 0 {
		t.Fatalf("second Sync = %+v, %v", again, err)
	}
}
