package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"fundflow-server/src/models"
)

func (t *pgTx) GetPool(ctx context.Context) (models.FundPool, error) {
	var p models.FundPool
	err := t.q.QueryRow(ctx, `SELECT balance, currency, updated_at FROM fund_pool WHERE id = 1`).
		Scan(&p.Balance, &p.Currency, &p.UpdatedAt)
	if err != nil {
		return p, notFound(err, "fund pool", 1)
	}
	return p, nil
}

func (t *pgTx) AdjustPool(ctx context.Context, delta int64) (int64, bool, error) {
	query := `
		UPDATE fund_pool
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = 1 AND balance + $1 >= 0
		RETURNING balance
	`
	var balance int64
	err := t.q.QueryRow(ctx, query, delta).Scan(&balance)
	if err == nil {
		return balance, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to adjust pool: %w", err)
	}

	p, err := t.GetPool(ctx)
	if err != nil {
		return 0, false, err
	}
	return p.Balance, false, nil
}

func (t *pgTx) InsertAudit(ctx context.Context, a *models.AuditLog) error {
	changes := a.Changes
	if len(changes) == 0 {
		changes = json.RawMessage(`{}`)
	}
	query := `
		INSERT INTO audit_logs (action, entity, entity_id, user_id, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	return t.q.QueryRow(ctx, query, a.Action, a.Entity, a.EntityID, a.UserID, changes, stamp(a.CreatedAt)).
		Scan(&a.ID, &a.CreatedAt)
}

func (t *pgTx) ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, error) {
	var (
		where []string
		args  []any
	)
	if filter.Entity != "" {
		args = append(args, filter.Entity)
		where = append(where, fmt.Sprintf("entity = $%d", len(args)))
	}
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		where = append(where, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	query := `SELECT id, action, entity, entity_id, user_id, changes, created_at FROM audit_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var a models.AuditLog
		if err := rows.Scan(&a.ID, &a.Action, &a.Entity, &a.EntityID, &a.UserID, &a.Changes, &a.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, a)
	}
	return logs, rows.Err()
}
