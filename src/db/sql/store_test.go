package db_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fundflow-server/src/channel"
	dbsetup "fundflow-server/src/db"
	sqlstore "fundflow-server/src/db/sql"
	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

// These tests need a scratch Postgres database and are skipped without
// DATABASE_URL. Every run creates its own users and budgets, so they can
// share a database with other runs.

type pgFixture struct {
	ctx   context.Context
	store *sqlstore.PgStore
	svc   *ledger.Service
	admin models.Actor
	owner models.Actor
}

// ackChannel acknowledges disbursements and never settles them.
type ackChannel struct{ seq atomic.Int64 }

func (c *ackChannel) Name() string { return "ack" }

func (c *ackChannel) Initiate(ctx context.Context, req ledger.DisbursementRequest) (ledger.Receipt, error) {
	return ledger.Receipt{Ref: fmt.Sprintf("ack-%s-%d", req.Reference, c.seq.Add(1))}, nil
}

func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := dbsetup.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := dbsetup.Migrate(ctx, pool, "KES"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &pgFixture{ctx: ctx, store: sqlstore.NewPgStore(pool)}
	f.svc = ledger.New(f.store, nil, ledger.Options{
		Currency: "KES",
		Channels: []ledger.Channel{channel.NewManual(0), &ackChannel{}},
	})
	f.admin = f.user(t, models.RoleAdmin)
	f.owner = f.user(t, models.RoleUser)
	if _, err := f.svc.AdjustPool(ctx, 10_000_000, "test funding", f.admin); err != nil {
		t.Fatalf("funding pool: %v", err)
	}
	return f
}

func (f *pgFixture) user(t *testing.T, role string) models.Actor {
	t.Helper()
	name := role + "-" + uuid.NewString()[:8]
	u := &models.User{Username: name, Email: name + "@example.org", PasswordHash: []byte("x"), Role: role}
	if err := f.store.CreateUser(f.ctx, u); err != nil {
		t.Fatalf("creating %s: %v", name, err)
	}
	return u.Actor()
}

func (f *pgFixture) approved(t *testing.T, in ledger.ApprovalInput) int64 {
	t.Helper()
	sum, err := f.svc.CreateBudget(f.ctx, ledger.BudgetInput{
		Title:           "Postgres budget",
		RequestedAmount: in.AllocatedAmount,
		Submit:          true,
	}, f.owner)
	if err != nil {
		t.Fatalf("creating budget: %v", err)
	}
	if _, err := f.svc.Approve(f.ctx, sum.Budget.ID, in, f.admin); err != nil {
		t.Fatalf("approving: %v", err)
	}
	return sum.Budget.ID
}

func TestPgConcurrentDisbursementsNeverOvershoot(t *testing.T) {
	f := newPgFixture(t)
	id := f.approved(t, ledger.ApprovalInput{AllocatedAmount: 100_000})

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
				t.Logf("unexpected error: %v", err)
				other.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ok.Load() != 6 || refused.Load() != 4 || other.Load() != 0 {
		t.Fatalf("ok=%d refused=%d other=%d, want 6/4/0", ok.Load(), refused.Load(), other.Load())
	}
	sum, err := f.svc.Summary(f.ctx, id, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Disbursed != 90_000 || sum.Budget.Status != models.StatusPartiallyDisbursed {
		t.Errorf("disbursed=%d status=%s, want 90000 PARTIALLY_DISBURSED", sum.Disbursed, sum.Budget.Status)
	}
}

func TestPgDeletePendingBatchesKeepsInFlight(t *testing.T) {
	f := newPgFixture(t)
	id := f.approved(t, ledger.ApprovalInput{
		AllocatedAmount: 30_000, DisbursementType: models.DisbursementBatches, BatchCount: 3,
	})
	txn, err := f.svc.Disburse(f.ctx, id, ledger.DisburseInput{Amount: 10_000, Method: "ack"}, f.admin)
	if err != nil {
		t.Fatal(err)
	}
	if txn.Status != models.TxnStatusPending {
		t.Fatalf("status = %s, want PENDING", txn.Status)
	}

	rollback := errors.New("rollback")
	err = f.store.WithTx(f.ctx, func(tx ledger.Tx) error {
		if err := tx.DeletePendingBatches(f.ctx, id); err != nil {
			return err
		}
		left, err := tx.ListBatches(f.ctx, id)
		if err != nil {
			return err
		}
		if len(left) != 1 || !left[0].InFlight() || *left[0].TransactionID != txn.ID {
			t.Errorf("batches left = %+v, want only the in-flight first batch", left)
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("WithTx = %v", err)
	}
}

func TestPgAdjustPoolRefusesNegative(t *testing.T) {
	f := newPgFixture(t)
	rollback := errors.New("rollback")
	err := f.store.WithTx(f.ctx, func(tx ledger.Tx) error {
		pool, err := tx.GetPool(f.ctx)
		if err != nil {
			return err
		}
		balance, ok, err := tx.AdjustPool(f.ctx, -(pool.Balance + 1))
		if err != nil {
			return err
		}
		if ok || balance != pool.Balance {
			t.Errorf("overdraw: ok=%v balance=%d, want refused at %d", ok, balance, pool.Balance)
		}
		return rollback
	})
	if !errors.Is(err, rollback) {
		t.Fatalf("WithTx = %v", err)
	}
}
