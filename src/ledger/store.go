package ledger

import (
	"context"
	"time"

	"fundflow-server/src/models"
)

// Store runs a unit of work atomically. If fn returns an error nothing it
// wrote is kept.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes one ledger unit of work may perform.
// Lock* methods take a row lock that is held until the unit of work ends.
// Callers lock the budget before any row that belongs to it, and the fund
// pool last.
//
// Lookups of a missing row return an error wrapping ErrNotFound.
type Tx interface {
	LockBudget(ctx context.Context, id int64) (*models.Budget, error)
	GetBudget(ctx context.Context, id int64) (*models.Budget, error)
	ListBudgets(ctx context.Context, filter models.BudgetFilter) ([]models.Budget, error)
	InsertBudget(ctx context.Context, b *models.Budget) error
	UpdateBudget(ctx context.Context, b *models.Budget) error
	DeleteBudget(ctx context.Context, id int64) error
	HasDependents(ctx context.Context, budgetID int64) (bool, error)

	ReplaceBudgetItems(ctx context.Context, budgetID int64, items []models.BudgetItem) ([]models.BudgetItem, error)
	ListBudgetItems(ctx context.Context, budgetID int64) ([]models.BudgetItem, error)

	InsertBatch(ctx context.Context, b *models.Batch) error
	ListBatches(ctx context.Context, budgetID int64) ([]models.Batch, error)
	UpdateBatch(ctx context.Context, b *models.Batch) error
	DeletePendingBatches(ctx context.Context, budgetID int64) error

	InsertTransaction(ctx context.Context, t *models.Transaction) error
	UpdateTransaction(ctx context.Context, t *models.Transaction) error
	GetTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	LockTransaction(ctx context.Context, id int64) (*models.Transaction, error)
	// FindTransactionByRef finds a disbursement whose ChannelRef or
	// Reference equals ref. An empty method matches any channel.
	FindTransactionByRef(ctx context.Context, method, ref string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, budgetID int64) ([]models.Transaction, error)
	ListStalePending(ctx context.Context, before time.Time) ([]models.Transaction, error)
	LedgerTotals(ctx context.Context, budgetID int64) (models.LedgerTotals, error)
	// RecordSettlement reports false when settlementID was already recorded.
	RecordSettlement(ctx context.Context, settlementID string, txnID int64, outcome string) (bool, error)

	InsertSupplementary(ctx context.Context, s *models.SupplementaryBudget) error
	GetSupplementary(ctx context.Context, id int64) (*models.SupplementaryBudget, error)
	LockSupplementary(ctx context.Context, id int64) (*models.SupplementaryBudget, error)
	UpdateSupplementary(ctx context.Context, s *models.SupplementaryBudget) error
	ListSupplementaries(ctx context.Context, budgetID int64) ([]models.SupplementaryBudget, error)

	InsertExpenditure(ctx context.Context, e *models.Expenditure) error
	ListExpenditures(ctx context.Context, budgetID int64) ([]models.Expenditure, error)
	SpentTotals(ctx context.Context, budgetID int64) (int64, map[int64]int64, error)

	InsertRevision(ctx context.Context, r *models.Revision) error
	ListRevisions(ctx context.Context, budgetID int64) ([]models.Revision, error)
	AddressRevisions(ctx context.Context, budgetID int64, at time.Time) error

	GetPool(ctx context.Context) (models.FundPool, error)
	// AdjustPool applies delta unless the balance would go negative, in
	// which case it reports false and leaves the balance untouched.
	AdjustPool(ctx context.Context, delta int64) (int64, bool, error)

	InsertAudit(ctx context.Context, a *models.AuditLog) error
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error)

	ListAdminIDs(ctx context.Context) ([]int64, error)
}
