package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"fundflow-server/src/models"
)

const supplementaryColumns = `id, budget_id, expenditure_id, amount, reason, status, requested_by, decided_by,
	approved_at, decided_at, created_at`

func scanSupplementary(row pgx.Row) (*models.SupplementaryBudget, error) {
	var s models.SupplementaryBudget
	err := row.Scan(&s.ID, &s.BudgetID, &s.ExpenditureID, &s.Amount, &s.Reason, &s.Status, &s.RequestedBy,
		&s.DecidedBy, &s.ApprovedAt, &s.DecidedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) InsertSupplementary(ctx context.Context, s *models.SupplementaryBudget) error {
	query := `
		INSERT INTO supplementary_budgets (budget_id, expenditure_id, amount, reason, status, requested_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return t.q.QueryRow(ctx, query,
		s.BudgetID, s.ExpenditureID, s.Amount, s.Reason, s.Status, s.RequestedBy, stamp(s.CreatedAt),
	).Scan(&s.ID, &s.CreatedAt)
}

func (t *pgTx) GetSupplementary(ctx context.Context, id int64) (*models.SupplementaryBudget, error) {
	query := `SELECT ` + supplementaryColumns + ` FROM supplementary_budgets WHERE id = $1`
	s, err := scanSupplementary(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "supplementary budget", id)
	}
	return s, nil
}

func (t *pgTx) LockSupplementary(ctx context.Context, id int64) (*models.SupplementaryBudget, error) {
	query := `SELECT ` + supplementaryColumns + ` FROM supplementary_budgets WHERE id = $1 FOR UPDATE`
	s, err := scanSupplementary(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "supplementary budget", id)
	}
	return s, nil
}

func (t *pgTx) UpdateSupplementary(ctx context.Context, s *models.SupplementaryBudget) error {
	query := `
		UPDATE supplementary_budgets
		SET status = $2, decided_by = $3, approved_at = $4, decided_at = $5
		WHERE id = $1
		RETURNING id
	`
	err := t.q.QueryRow(ctx, query, s.ID, s.Status, s.DecidedBy, s.ApprovedAt, s.DecidedAt).Scan(&s.ID)
	return notFound(err, "supplementary budget", s.ID)
}

func (t *pgTx) ListSupplementaries(ctx context.Context, budgetID int64) ([]models.SupplementaryBudget, error) {
	query := `SELECT ` + supplementaryColumns + ` FROM supplementary_budgets WHERE budget_id = $1 ORDER BY id`
	rows, err := t.q.Query(ctx, query, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SupplementaryBudget
	for rows.Next() {
		s, err := scanSupplementary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
