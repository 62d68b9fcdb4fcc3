package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"fundflow-server/src/models"
)

const budgetColumns = `id, owner_id, title, description, currency, priority, status, disbursement_type,
	requested_amount, allocated_amount, approved_by, approved_at, decision_note, revoked_at, created_at, updated_at`

func scanBudget(row pgx.Row) (*models.Budget, error) {
	var b models.Budget
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Title, &b.Description, &b.Currency, &b.Priority, &b.Status, &b.DisbursementType,
		&b.RequestedAmount, &b.AllocatedAmount, &b.ApprovedBy, &b.ApprovedAt, &b.DecisionNote, &b.RevokedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (t *pgTx) LockBudget(ctx context.Context, id int64) (*models.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1 FOR UPDATE`
	b, err := scanBudget(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "budget", id)
	}
	return b, nil
}

func (t *pgTx) GetBudget(ctx context.Context, id int64) (*models.Budget, error) {
	query := `SELECT ` + budgetColumns + ` FROM budgets WHERE id = $1`
	b, err := scanBudget(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "budget", id)
	}
	return b, nil
}

func (t *pgTx) ListBudgets(ctx context.Context, filter models.BudgetFilter) ([]models.Budget, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + budgetColumns + ` FROM budgets`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var budgets []models.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, *b)
	}
	return budgets, rows.Err()
}

func (t *pgTx) InsertBudget(ctx context.Context, b *models.Budget) error {
	query := `
		INSERT INTO budgets (owner_id, title, description, currency, priority, status, disbursement_type, requested_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id, created_at, updated_at
	`
	return t.q.QueryRow(ctx, query,
		b.OwnerID, b.Title, b.Description, b.Currency, b.Priority, b.Status, b.DisbursementType, b.RequestedAmount,
		stamp(b.CreatedAt),
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

func (t *pgTx) UpdateBudget(ctx context.Context, b *models.Budget) error {
	query := `
		UPDATE budgets
		SET title = $2, description = $3, priority = $4, status = $5, disbursement_type = $6,
			requested_amount = $7, allocated_amount = $8, approved_by = $9, approved_at = $10,
			decision_note = $11, revoked_at = $12, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.q.QueryRow(ctx, query,
		b.ID, b.Title, b.Description, b.Priority, b.Status, b.DisbursementType,
		b.RequestedAmount, b.AllocatedAmount, b.ApprovedBy, b.ApprovedAt,
		b.DecisionNote, b.RevokedAt,
	).Scan(&b.UpdatedAt)
	return notFound(err, "budget", b.ID)
}

func (t *pgTx) DeleteBudget(ctx context.Context, id int64) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM budgets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "budget", id)
	}
	return nil
}

func (t *pgTx) HasDependents(ctx context.Context, budgetID int64) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM transactions WHERE budget_id = $1)
			OR EXISTS (SELECT 1 FROM batches WHERE budget_id = $1)
			OR EXISTS (SELECT 1 FROM expenditures WHERE budget_id = $1)
			OR EXISTS (SELECT 1 FROM supplementary_budgets WHERE budget_id = $1)
	`
	var exists bool
	err := t.q.QueryRow(ctx, query, budgetID).Scan(&exists)
	return exists, err
}

func (t *pgTx) ReplaceBudgetItems(ctx context.Context, budgetID int64, items []models.BudgetItem) ([]models.BudgetItem, error) {
	if _, err := t.q.Exec(ctx, `DELETE FROM budget_items WHERE budget_id = $1`, budgetID); err != nil {
		return nil, fmt.Errorf("failed to clear budget items: %w", err)
	}
	query := `
		INSERT INTO budget_items (budget_id, name, unit_price, quantity)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	out := make([]models.BudgetItem, 0, len(items))
	for _, item := range items {
		item.BudgetID = budgetID
		if err := t.q.QueryRow(ctx, query, budgetID, item.Name, item.UnitPrice, item.Quantity).
			Scan(&item.ID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to insert budget item: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *pgTx) ListBudgetItems(ctx context.Context, budgetID int64) ([]models.BudgetItem, error) {
	query := `SELECT id, budget_id, name, unit_price, quantity, created_at FROM budget_items WHERE budget_id = $1 ORDER BY id`
	rows, err := t.q.Query(ctx, query, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.BudgetItem
	for rows.Next() {
		var i models.BudgetItem
		if err := rows.Scan(&i.ID, &i.BudgetID, &i.Name, &i.UnitPrice, &i.Quantity, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

func (t *pgTx) InsertRevision(ctx context.Context, r *models.Revision) error {
	query := `
		INSERT INTO revisions (budget_id, reason, requested_by, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	return t.q.QueryRow(ctx, query, r.BudgetID, r.Reason, r.RequestedBy, r.Status, stamp(r.CreatedAt)).
		Scan(&r.ID, &r.CreatedAt)
}

func (t *pgTx) ListRevisions(ctx context.Context, budgetID int64) ([]models.Revision, error) {
	query := `
		SELECT id, budget_id, reason, requested_by, status, addressed_at, created_at
		FROM revisions WHERE budget_id = $1 ORDER BY id
	`
	rows, err := t.q.Query(ctx, query, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revisions []models.Revision
	for rows.Next() {
		var r models.Revision
		if err := rows.Scan(&r.ID, &r.BudgetID, &r.Reason, &r.RequestedBy, &r.Status, &r.AddressedAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		revisions = append(revisions, r)
	}
	return revisions, rows.Err()
}

func (t *pgTx) AddressRevisions(ctx context.Context, budgetID int64, at time.Time) error {
	query := `UPDATE revisions SET status = $3, addressed_at = $2 WHERE budget_id = $1 AND status = $4`
	_, err := t.q.Exec(ctx, query, budgetID, at, models.RevisionAddressed, models.RevisionOpen)
	return err
}
