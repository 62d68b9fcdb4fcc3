package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fundflow-server/src/db/memory"
	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

const seedPool = 1_000_000

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu    sync.Mutex
	fail  bool
	notes []models.Notification
	to    [][]int64
}

func (r *recorder) Notify(ctx context.Context, userIDs []int64, n models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("dispatcher down")
	}
	r.notes = append(r.notes, n)
	r.to = append(r.to, userIDs)
	return nil
}

func (r *recorder) sentTo(userID int64, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, n := range r.notes {
		if n.Type != kind {
			continue
		}
		for _, id := range r.to[i] {
			if id == userID {
				return true
			}
		}
	}
	return false
}

// syncChannel settles every disbursement immediately.
type syncChannel struct{ name string }

func (c syncChannel) Name() string { return c.name }

func (c syncChannel) Initiate(ctx context.Context, req ledger.DisbursementRequest) (ledger.Receipt, error) {
	return ledger.Receipt{Ref: "sync-" + req.Reference, Settled: true}, nil
}

// asyncChannel acknowledges and leaves settlement to a later callback.
type asyncChannel struct {
	name    string
	seq     atomic.Int64
	outcome string
}

func (c *asyncChannel) Name() string { return c.name }

func (c *asyncChannel) Initiate(ctx context.Context, req ledger.DisbursementRequest) (ledger.Receipt, error) {
	return ledger.Receipt{Ref: fmt.Sprintf("%s-%d", c.name, c.seq.Add(1))}, nil
}

// lookupChannel adds SettlementLookup to an asyncChannel.
type lookupChannel struct {
	*asyncChannel
}

func (c lookupChannel) Lookup(ctx context.Context, ref string) (ledger.Settlement, error) {
	return ledger.Settlement{ID: "lookup-" + ref, Ref: ref, Outcome: c.outcome}, nil
}

type failingChannel struct{}

func (failingChannel) Name() string { return "broken" }

func (failingChannel) Initiate(ctx context.Context, req ledger.DisbursementRequest) (ledger.Receipt, error) {
	return ledger.Receipt{}, errors.New("upstream timeout")
}

type fixture struct {
	ctx   context.Context
	svc   *ledger.Service
	store *memory.Store
	notes *recorder
	clock *clock
	admin models.Actor
	owner models.Actor
	other models.Actor
}

func newFixture(t *testing.T, channels ...ledger.Channel) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New("KES")
	f := &fixture{
		ctx:   ctx,
		store: store,
		notes: &recorder{},
		clock: &clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)},
	}
	f.admin = f.user(t, "treasurer", models.RoleAdmin)
	f.owner = f.user(t, "requester", models.RoleUser)
	f.other = f.user(t, "bystander", models.RoleUser)

	channels = append(channels, syncChannel{name: "manual"})
	f.svc = ledger.New(store, f.notes, ledger.Options{Currency: "KES", Channels: channels, Now: f.clock.Now})
	if _, err := f.svc.AdjustPool(ctx, seedPool, "opening balance", f.admin); err != nil {
		t.Fatalf("seeding pool: %v", err)
	}
	return f
}

func (f *fixture) user(t *testing.T, name, role string) models.Actor {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.org", Role: role}
	if err := f.store.CreateUser(f.ctx, u); err != nil {
		t.Fatalf("creating %s: %v", name, err)
	}
	return models.Actor{ID: u.ID, Role: role}
}

// submitted creates a PENDING budget owned by f.owner with a single line item.
func (f *fixture) submitted(t *testing.T, requested int64) *models.BudgetSummary {
	t.Helper()
	sum, err := f.svc.CreateBudget(f.ctx, ledger.BudgetInput{
		Title:    "Field equipment",
		Priority: models.PriorityUrgent,
		Items:    []ledger.ItemInput{{Name: "equipment", UnitPrice: requested, Quantity: 1}},
		Submit:   true,
	}, f.owner)
	if err != nil {
		t.Fatalf("creating budget: %v", err)
	}
	return sum
}

func (f *fixture) approved(t *testing.T, requested, allocated int64) int64 {
	t.Helper()
	id := f.submitted(t, requested).Budget.ID
	if _, err := f.svc.Approve(f.ctx, id, ledger.ApprovalInput{AllocatedAmount: allocated}, f.admin); err != nil {
		t.Fatalf("approving: %v", err)
	}
	return id
}

func (f *fixture) summary(t *testing.T, id int64) *models.BudgetSummary {
	t.Helper()
	sum, err := f.svc.Summary(f.ctx, id, f.admin)
	if err != nil {
		t.Fatalf("summary of %d: %v", id, err)
	}
	return sum
}

func (f *fixture) pool(t *testing.T) int64 {
	t.Helper()
	p, err := f.svc.Pool(f.ctx, f.admin)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return p.Balance
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("got error %v, want %v", err, target)
	}
}
