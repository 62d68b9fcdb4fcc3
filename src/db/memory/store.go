// Package memory is an in-process implementation of the ledger store. A unit
// of work runs against a private copy of the state that replaces the live
// state only when the work succeeds, so a failed operation leaves no trace.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

type state struct {
	nextID      int64
	budgets     map[int64]models.Budget
	items       map[int64]models.BudgetItem
	batches     map[int64]models.Batch
	txns        map[int64]models.Transaction
	settlements map[string]int64
	supps       map[int64]models.SupplementaryBudget
	exps        map[int64]models.Expenditure
	revisions   map[int64]models.Revision
	pool        models.FundPool
	audit       []models.AuditLog
	users       map[int64]models.User
	payouts     map[int64]models.PayoutAccount
}

func newState(currency string) *state {
	return &state{
		budgets:     map[int64]models.Budget{},
		items:       map[int64]models.BudgetItem{},
		batches:     map[int64]models.Batch{},
		txns:        map[int64]models.Transaction{},
		settlements: map[string]int64{},
		supps:       map[int64]models.SupplementaryBudget{},
		exps:        map[int64]models.Expenditure{},
		revisions:   map[int64]models.Revision{},
		pool:        models.FundPool{Currency: currency},
		users:       map[int64]models.User{},
		payouts:     map[int64]models.PayoutAccount{},
	}
}

// clone copies every table. Row structs are copied by value; the slices
// inside expenditures are copied too so a rolled back unit of work cannot
// reach the live rows.
func (s *state) clone() *state {
	c := &state{
		nextID:      s.nextID,
		budgets:     maps.Clone(s.budgets),
		items:       maps.Clone(s.items),
		batches:     maps.Clone(s.batches),
		txns:        maps.Clone(s.txns),
		settlements: maps.Clone(s.settlements),
		supps:       maps.Clone(s.supps),
		exps:        make(map[int64]models.Expenditure, len(s.exps)),
		revisions:   maps.Clone(s.revisions),
		pool:        s.pool,
		audit:       slices.Clone(s.audit),
		users:       maps.Clone(s.users),
		payouts:     maps.Clone(s.payouts),
	}
	for id, e := range s.exps {
		e.Items = slices.Clone(e.Items)
		c.exps[id] = e
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New(currency string) *Store {
	return &Store{st: newState(currency), now: time.Now}
}

// WithTx serializes all units of work. The row locks of the Tx contract are
// implied by the single store mutex.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.st.users {
		if strings.EqualFold(existing.Username, u.Username) || strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %q already exists", u.Username)
		}
	}
	u.ID = s.st.id()
	u.CreatedAt = s.now()
	s.st.users[u.ID] = *u
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.st.users {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%w: user %q", ledger.ErrNotFound, username)
}

func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", ledger.ErrNotFound, id)
	}
	return &u, nil
}

func (s *Store) InsertPayoutAccount(ctx context.Context, a *models.PayoutAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.st.id()
	a.CreatedAt = s.now()
	s.st.payouts[a.ID] = *a
	return nil
}

func (s *Store) ListPayoutAccounts(ctx context.Context, userID int64) ([]models.PayoutAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PayoutAccount
	for _, id := range slices.Sorted(maps.Keys(s.st.payouts)) {
		if a := s.st.payouts[id]; a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) GetPayoutAccount(ctx context.Context, id int64) (*models.PayoutAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.st.payouts[id]
	if !ok {
		return nil, fmt.Errorf("%w: payout account %d", ledger.ErrNotFound, id)
	}
	return &a, nil
}
