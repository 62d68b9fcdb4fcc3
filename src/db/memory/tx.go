package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"fundflow-server/src/ledger"
	"fundflow-server/src/models"
)

var (
	_ ledger.Store = (*Store)(nil)
	_ ledger.Tx    = (*tx)(nil)
)

type tx struct {
	st  *state
	now func() time.Time
}

// sortedRows returns the rows of table that match keep, in insertion order.
func sortedRows[T any](table map[int64]T, keep func(T) bool) []T {
	var out []T
	for _, id := range slices.Sorted(maps.Keys(table)) {
		if row := table[id]; keep(row) {
			out = append(out, row)
		}
	}
	return out
}

func notFound(kind string, id any) error {
	return fmt.Errorf("%w: %s %v", ledger.ErrNotFound, kind, id)
}

func (t *tx) stamp(at time.Time) time.Time {
	if at.IsZero() {
		return t.now()
	}
	return at
}

func (t *tx) LockBudget(ctx context.Context, id int64) (*models.Budget, error) {
	return t.GetBudget(ctx, id)
}

func (t *tx) GetBudget(ctx context.Context, id int64) (*models.Budget, error) {
	b, ok := t.st.budgets[id]
	if !ok {
		return nil, notFound("budget", id)
	}
	return &b, nil
}

func (t *tx) ListBudgets(ctx context.Context, filter models.BudgetFilter) ([]models.Budget, error) {
	return sortedRows(t.st.budgets, func(b models.Budget) bool {
		if filter.OwnerID != nil && b.OwnerID != *filter.OwnerID {
			return false
		}
		return filter.Status == "" || b.Status == filter.Status
	}), nil
}

func (t *tx) InsertBudget(ctx context.Context, b *models.Budget) error {
	b.ID = t.st.id()
	b.CreatedAt = t.stamp(b.CreatedAt)
	b.UpdatedAt = b.CreatedAt
	t.st.budgets[b.ID] = *b
	return nil
}

func (t *tx) UpdateBudget(ctx context.Context, b *models.Budget) error {
	if _, ok := t.st.budgets[b.ID]; !ok {
		return notFound("budget", b.ID)
	}
	b.UpdatedAt = t.now()
	t.st.budgets[b.ID] = *b
	return nil
}

func (t *tx) DeleteBudget(ctx context.Context, id int64) error {
	if _, ok := t.st.budgets[id]; !ok {
		return notFound("budget", id)
	}
	delete(t.st.budgets, id)
	maps.DeleteFunc(t.st.items, func(_ int64, i models.BudgetItem) bool { return i.BudgetID == id })
	maps.DeleteFunc(t.st.revisions, func(_ int64, r models.Revision) bool { return r.BudgetID == id })
	return nil
}

func (t *tx) HasDependents(ctx context.Context, budgetID int64) (bool, error) {
	for _, x := range t.st.txns {
		if x.BudgetID == budgetID {
			return true, nil
		}
	}
	for _, b := range t.st.batches {
		if b.BudgetID == budgetID {
			return true, nil
		}
	}
	for _, e := range t.st.exps {
		if e.BudgetID == budgetID {
			return true, nil
		}
	}
	for _, s := range t.st.supps {
		if s.BudgetID == budgetID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) ReplaceBudgetItems(ctx context.Context, budgetID int64, items []models.BudgetItem) ([]models.BudgetItem, error) {
	for _, e := range t.st.exps {
		if e.BudgetID == budgetID {
			return nil, fmt.Errorf("%w: budget %d items are referenced by expenditures", ledger.ErrInvalidTransition, budgetID)
		}
	}
	maps.DeleteFunc(t.st.items, func(_ int64, i models.BudgetItem) bool { return i.BudgetID == budgetID })
	out := make([]models.BudgetItem, 0, len(items))
	for _, item := range items {
		item.ID = t.st.id()
		item.BudgetID = budgetID
		item.CreatedAt = t.stamp(item.CreatedAt)
		t.st.items[item.ID] = item
		out = append(out, item)
	}
	return out, nil
}

func (t *tx) ListBudgetItems(ctx context.Context, budgetID int64) ([]models.BudgetItem, error) {
	return sortedRows(t.st.items, func(i models.BudgetItem) bool { return i.BudgetID == budgetID }), nil
}

func (t *tx) InsertBatch(ctx context.Context, b *models.Batch) error {
	b.ID = t.st.id()
	b.CreatedAt = t.stamp(b.CreatedAt)
	t.st.batches[b.ID] = *b
	return nil
}

func (t *tx) ListBatches(ctx context.Context, budgetID int64) ([]models.Batch, error) {
	out := sortedRows(t.st.batches, func(b models.Batch) bool { return b.BudgetID == budgetID })
	slices.SortStableFunc(out, func(a, b models.Batch) int { return cmp.Compare(a.Sequence, b.Sequence) })
	return out, nil
}

func (t *tx) UpdateBatch(ctx context.Context, b *models.Batch) error {
	if _, ok := t.st.batches[b.ID]; !ok {
		return notFound("batch", b.ID)
	}
	t.st.batches[b.ID] = *b
	return nil
}

func (t *tx) DeletePendingBatches(ctx context.Context, budgetID int64) error {
	maps.DeleteFunc(t.st.batches, func(_ int64, b models.Batch) bool {
		return b.BudgetID == budgetID && b.Status == models.BatchPending && b.TransactionID == nil
	})
	return nil
}

func (t *tx) InsertTransaction(ctx context.Context, x *models.Transaction) error {
	for _, existing := range t.st.txns {
		if existing.Reference == x.Reference {
			return fmt.Errorf("duplicate transaction reference %q", x.Reference)
		}
	}
	x.ID = t.st.id()
	x.CreatedAt = t.stamp(x.CreatedAt)
	x.UpdatedAt = x.CreatedAt
	t.st.txns[x.ID] = *x
	return nil
}

func (t *tx) UpdateTransaction(ctx context.Context, x *models.Transaction) error {
	if _, ok := t.st.txns[x.ID]; !ok {
		return notFound("transaction", x.ID)
	}
	x.UpdatedAt = t.now()
	t.st.txns[x.ID] = *x
	return nil
}

func (t *tx) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	x, ok := t.st.txns[id]
	if !ok {
		return nil, notFound("transaction", id)
	}
	return &x, nil
}

func (t *tx) LockTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	return t.GetTransaction(ctx, id)
}

func (t *tx) FindTransactionByRef(ctx context.Context, method, ref string) (*models.Transaction, error) {
	rows := sortedRows(t.st.txns, func(x models.Transaction) bool {
		if x.Type != models.TxnDisbursement || (method != "" && x.Method != method) {
			return false
		}
		return x.ChannelRef == ref || x.Reference == ref
	})
	if len(rows) == 0 {
		return nil, notFound("transaction with reference", ref)
	}
	return &rows[0], nil
}

func (t *tx) ListTransactions(ctx context.Context, budgetID int64) ([]models.Transaction, error) {
	return sortedRows(t.st.txns, func(x models.Transaction) bool { return x.BudgetID == budgetID }), nil
}

func (t *tx) ListStalePending(ctx context.Context, before time.Time) ([]models.Transaction, error) {
	return sortedRows(t.st.txns, func(x models.Transaction) bool {
		return x.Type == models.TxnDisbursement && x.Status == models.TxnStatusPending && x.CreatedAt.Before(before)
	}), nil
}

func (t *tx) LedgerTotals(ctx context.Context, budgetID int64) (models.LedgerTotals, error) {
	var totals models.LedgerTotals
	for _, x := range t.st.txns {
		if x.BudgetID != budgetID {
			continue
		}
		switch {
		case x.Type == models.TxnDisbursement && x.Status == models.TxnStatusCompleted:
			totals.Disbursed += x.Amount
		case x.Type == models.TxnDisbursement && x.Status == models.TxnStatusPending:
			totals.Pending += x.Amount
		case x.Type == models.TxnReversal && x.Status == models.TxnStatusCompleted:
			totals.Reversed += x.Amount
		case x.Type == models.TxnFee && x.Status == models.TxnStatusCompleted:
			totals.Fees += x.Amount
		}
	}
	return totals, nil
}

func (t *tx) RecordSettlement(ctx context.Context, settlementID string, txnID int64, outcome string) (bool, error) {
	if _, seen := t.st.settlements[settlementID]; seen {
		return false, nil
	}
	t.st.settlements[settlementID] = txnID
	return true, nil
}

func (t *tx) InsertSupplementary(ctx context.Context, s *models.SupplementaryBudget) error {
	s.ID = t.st.id()
	s.CreatedAt = t.stamp(s.CreatedAt)
	t.st.supps[s.ID] = *s
	return nil
}

func (t *tx) GetSupplementary(ctx context.Context, id int64) (*models.SupplementaryBudget, error) {
	s, ok := t.st.supps[id]
	if !ok {
		return nil, notFound("supplementary budget", id)
	}
	return &s, nil
}

func (t *tx) LockSupplementary(ctx context.Context, id int64) (*models.SupplementaryBudget, error) {
	return t.GetSupplementary(ctx, id)
}

func (t *tx) UpdateSupplementary(ctx context.Context, s *models.SupplementaryBudget) error {
	if _, ok := t.st.supps[s.ID]; !ok {
		return notFound("supplementary budget", s.ID)
	}
	t.st.supps[s.ID] = *s
	return nil
}

func (t *tx) ListSupplementaries(ctx context.Context, budgetID int64) ([]models.SupplementaryBudget, error) {
	return sortedRows(t.st.supps, func(s models.SupplementaryBudget) bool { return s.BudgetID == budgetID }), nil
}

func (t *tx) InsertExpenditure(ctx context.Context, e *models.Expenditure) error {
	e.ID = t.st.id()
	e.CreatedAt = t.stamp(e.CreatedAt)
	for i := range e.Items {
		e.Items[i].ID = t.st.id()
		e.Items[i].ExpenditureID = e.ID
	}
	row := *e
	row.Items = slices.Clone(e.Items)
	t.st.exps[e.ID] = row
	return nil
}

func (t *tx) ListExpenditures(ctx context.Context, budgetID int64) ([]models.Expenditure, error) {
	rows := sortedRows(t.st.exps, func(e models.Expenditure) bool { return e.BudgetID == budgetID })
	for i := range rows {
		rows[i].Items = slices.Clone(rows[i].Items)
	}
	return rows, nil
}

func (t *tx) SpentTotals(ctx context.Context, budgetID int64) (int64, map[int64]int64, error) {
	var total int64
	perItem := map[int64]int64{}
	for _, e := range t.st.exps {
		if e.BudgetID != budgetID {
			continue
		}
		total += e.Amount
		for _, item := range e.Items {
			perItem[item.BudgetItemID] += item.SpentAmount
		}
	}
	return total, perItem, nil
}

func (t *tx) InsertRevision(ctx context.Context, r *models.Revision) error {
	r.ID = t.st.id()
	r.CreatedAt = t.stamp(r.CreatedAt)
	t.st.revisions[r.ID] = *r
	return nil
}

func (t *tx) ListRevisions(ctx context.Context, budgetID int64) ([]models.Revision, error) {
	return sortedRows(t.st.revisions, func(r models.Revision) bool { return r.BudgetID == budgetID }), nil
}

func (t *tx) AddressRevisions(ctx context.Context, budgetID int64, at time.Time) error {
	for id, r := range t.st.revisions {
		if r.BudgetID == budgetID && r.Status == models.RevisionOpen {
			r.Status = models.RevisionAddressed
			r.AddressedAt = &at
			t.st.revisions[id] = r
		}
	}
	return nil
}

func (t *tx) GetPool(ctx context.Context) (models.FundPool, error) {
	return t.st.pool, nil
}

func (t *tx) AdjustPool(ctx context.Context, delta int64) (int64, bool, error) {
	next := t.st.pool.Balance + delta
	if next < 0 {
		return t.st.pool.Balance, false, nil
	}
	t.st.pool.Balance = next
	t.st.pool.UpdatedAt = t.now()
	return next, true, nil
}

func (t *tx) InsertAudit(ctx context.Context, a *models.AuditLog) error {
	a.ID = t.st.id()
	a.CreatedAt = t.stamp(a.CreatedAt)
	t.st.audit = append(t.st.audit, *a)
	return nil
}

// ListAudit returns matching entries newest first.
func (t *tx) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for i := len(t.st.audit) - 1; i >= 0; i-- {
		a := t.st.audit[i]
		if filter.Entity != "" && a.Entity != filter.Entity {
			continue
		}
		if filter.EntityID != nil && a.EntityID != *filter.EntityID {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (t *tx) ListAdminIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, id := range slices.Sorted(maps.Keys(t.st.users)) {
		if t.st.users[id].Role == models.RoleAdmin {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
