package db

import (
	"context"
	"fmt"

	"fundflow-server/src/models"
)

func (t *pgTx) InsertExpenditure(ctx context.Context, e *models.Expenditure) error {
	query := `
		INSERT INTO expenditures (budget_id, user_id, title, priority, status, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := t.q.QueryRow(ctx, query,
		e.BudgetID, e.UserID, e.Title, e.Priority, e.Status, e.Amount, stamp(e.CreatedAt),
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert expenditure: %w", err)
	}

	itemQuery := `
		INSERT INTO expenditure_items (expenditure_id, budget_item_id, spent_amount, note, flagged, overage)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	for i := range e.Items {
		item := &e.Items[i]
		item.ExpenditureID = e.ID
		if err := t.q.QueryRow(ctx, itemQuery,
			e.ID, item.BudgetItemID, item.SpentAmount, item.Note, item.Flagged, item.Overage,
		).Scan(&item.ID); err != nil {
			return fmt.Errorf("failed to insert expenditure item: %w", err)
		}
	}
	return nil
}

func (t *pgTx) ListExpenditures(ctx context.Context, budgetID int64) ([]models.Expenditure, error) {
	query := `
		SELECT id, budget_id, user_id, title, priority, status, amount, created_at
		FROM expenditures WHERE budget_id = $1 ORDER BY id
	`
	rows, err := t.q.Query(ctx, query, budgetID)
	if err != nil {
		return nil, err
	}
	var (
		out   []models.Expenditure
		index = map[int64]int{}
	)
	for rows.Next() {
		var e models.Expenditure
		if err := rows.Scan(&e.ID, &e.BudgetID, &e.UserID, &e.Title, &e.Priority, &e.Status, &e.Amount, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	itemQuery := `
		SELECT ei.id, ei.expenditure_id, ei.budget_item_id, ei.spent_amount, ei.note, ei.flagged, ei.overage
		FROM expenditure_items ei
		JOIN expenditures e ON e.id = ei.expenditure_id
		WHERE e.budget_id = $1
		ORDER BY ei.id
	`
	itemRows, err := t.q.Query(ctx, itemQuery, budgetID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item models.ExpenditureItem
		if err := itemRows.Scan(&item.ID, &item.ExpenditureID, &item.BudgetItemID, &item.SpentAmount,
			&item.Note, &item.Flagged, &item.Overage); err != nil {
			return nil, err
		}
		if i, ok := index[item.ExpenditureID]; ok {
			out[i].Items = append(out[i].Items, item)
		}
	}
	return out, itemRows.Err()
}

// SpentTotals returns the budget's total spend and the spend per budget item.
func (t *pgTx) SpentTotals(ctx context.Context, budgetID int64) (int64, map[int64]int64, error) {
	query := `
		SELECT ei.budget_item_id, COALESCE(SUM(ei.spent_amount), 0)::BIGINT
		FROM expenditure_items ei
		JOIN expenditures e ON e.id = ei.expenditure_id
		WHERE e.budget_id = $1
		GROUP BY ei.budget_item_id
	`
	rows, err := t.q.Query(ctx, query, budgetID)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	var (
		total  int64
		byItem = map[int64]int64{}
	)
	for rows.Next() {
		var itemID, spent int64
		if err := rows.Scan(&itemID, &spent); err != nil {
			return 0, nil, err
		}
		byItem[itemID] = spent
		total += spent
	}
	return total, byItem, rows.Err()
}
