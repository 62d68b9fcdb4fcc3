package channel

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
	plaidclient "fundflow-server/src/plaid"
	"fundflow-server/src/util"
)

// maxSyncPages bounds one Sync call; the cursor carries on next time.
const maxSyncPages = 20

type PlaidAPI interface {
	CreatePayout(ctx context.Context, p plaidclient.Payout) (plaidclient.Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (plaidclient.Transfer, error)
	SyncTransferEvents(ctx context.Context, afterID int32) ([]plaidclient.TransferEvent, error)
}

type PayoutAccounts interface {
	GetPayoutAccount(ctx context.Context, id int64) (*models.PayoutAccount, error)
}

// Plaid pays out by ACH credit through Plaid Transfer. The disbursement
// destination is the id of a linked payout account. Transfers settle
// asynchronously and are reported by Sync or Lookup.
type Plaid struct {
	api      PlaidAPI
	accounts PayoutAccounts

	mu     sync.Mutex
	cursor int32
}

func NewPlaid(api PlaidAPI, accounts PayoutAccounts) *Plaid {
	return &Plaid{api: api, accounts: accounts}
}

func (p *Plaid) Name() string {
	return "plaid"
}

func (p *Plaid) Initiate(ctx context.Context, req ledger.DisbursementRequest) (ledger.Receipt, error) {
	if req.Currency != "USD" {
		return ledger.Receipt{}, fmt.Errorf("plaid transfers are USD only, got %s", req.Currency)
	}
	accountID, err := strconv.ParseInt(req.Destination, 10, 64)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("invalid payout account %q", req.Destination)
	}
	account, err := p.accounts.GetPayoutAccount(ctx, accountID)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("payout account %d: %w", accountID, err)
	}

	transfer, err := p.api.CreatePayout(ctx, plaidclient.Payout{
		AccessToken:    account.AccessToken,
		AccountID:      account.AccountID,
		LegalName:      account.LegalName,
		Amount:         util.MajorUnits(req.Amount, req.Currency),
		Description:    description(req.BudgetID),
		IdempotencyKey: req.Reference,
	})
	if err != nil {
		return ledger.Receipt{}, err
	}
	log.Printf("INFO: Plaid transfer %s created for budget %d (status %s)", transfer.ID, req.BudgetID, transfer.Status)
	return ledger.Receipt{Ref: transfer.ID}, nil
}

// Lookup reports the transfer's current state. The settlement id is derived
// from the transfer and status so repeated lookups of a final state are
// recorded once.
func (p *Plaid) Lookup(ctx context.Context, ref string) (ledger.Settlement, error) {
	transfer, err := p.api.GetTransfer(ctx, ref)
	if err != nil {
		return ledger.Settlement{}, err
	}
	return ledger.Settlement{
		ID:      fmt.Sprintf("plaid-transfer-%s-%s", ref, transfer.Status),
		Ref:     ref,
		Outcome: outcome(transfer.Status),
		Note:    "plaid status " + transfer.Status,
	}, nil
}

// Sync pulls transfer events after the last one seen and returns the final
// outcomes among them. Intermediate events only advance the cursor.
func (p *Plaid) Sync(ctx context.Context) ([]ledger.Settlement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var settlements []ledger.Settlement
	for page := 0; page < maxSyncPages; page++ {
		events, err := p.api.SyncTransferEvents(ctx, p.cursor)
		if err != nil {
			return settlements, err
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			if ev.EventID > p.cursor {
				p.cursor = ev.EventID
			}
			result := outcome(ev.EventType)
			if result == models.TxnStatusPending {
				continue
			}
			settlements = append(settlements, ledger.Settlement{
				ID:      fmt.Sprintf("plaid-event-%d", ev.EventID),
				Ref:     ev.TransferID,
				Outcome: result,
				Note:    "plaid event " + ev.EventType,
			})
		}
	}
	return settlements, nil
}

func (p *Plaid) Cursor() int32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cursor
}

func outcome(status string) string {
	switch status {
	case "settled", "funds_available":
		return models.TxnStatusCompleted
	case "failed", "returned":
		return models.TxnStatusFailed
	case "cancelled":
		return models.TxnStatusCancelled
	default:
		return models.TxnStatusPending
	}
}

// ACH descriptions are capped at 15 characters.
func description(budgetID int64) string {
	d := fmt.Sprintf("BUDGET %d", budgetID)
	if len(d) > 15 {
		d = d[:15]
	}
	return d
}
