package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"fundflow-server/src/models"
)

const transactionColumns = `id, budget_id, batch_id, reverses_id, type, status, amount, method, destination,
	reference, channel_ref, failure_reason, actor_id, settled_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.BudgetID, &t.BatchID, &t.ReversesID, &t.Type, &t.Status, &t.Amount, &t.Method, &t.Destination,
		&t.Reference, &t.ChannelRef, &t.FailureReason, &t.ActorID, &t.SettledAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	return txns, rows.Err()
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (budget_id, batch_id, reverses_id, type, status, amount, method, destination,
			reference, channel_ref, failure_reason, actor_id, settled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING id, created_at, updated_at
	`
	err := t.q.QueryRow(ctx, query,
		txn.BudgetID, txn.BatchID, txn.ReversesID, txn.Type, txn.Status, txn.Amount, txn.Method, txn.Destination,
		txn.Reference, txn.ChannelRef, txn.FailureReason, txn.ActorID, txn.SettledAt, stamp(txn.CreatedAt),
	).Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $2, channel_ref = $3, failure_reason = $4, settled_at = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := t.q.QueryRow(ctx, query, txn.ID, txn.Status, txn.ChannelRef, txn.FailureReason, txn.SettledAt).
		Scan(&txn.UpdatedAt)
	return notFound(err, "transaction", txn.ID)
}

func (t *pgTx) GetTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	txn, err := scanTransaction(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return txn, nil
}

func (t *pgTx) LockTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	txn, err := scanTransaction(t.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "transaction", id)
	}
	return txn, nil
}

func (t *pgTx) FindTransactionByRef(ctx context.Context, method, ref string) (*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = $1 AND ($2 = '' OR method = $2) AND (channel_ref = $3 OR reference = $3)
		ORDER BY id LIMIT 1
	`
	txn, err := scanTransaction(t.q.QueryRow(ctx, query, models.TxnDisbursement, method, ref))
	if err != nil {
		return nil, notFound(err, "transaction ref", ref)
	}
	return txn, nil
}

func (t *pgTx) ListTransactions(ctx context.Context, budgetID int64) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE budget_id = $1 ORDER BY id`
	rows, err := t.q.Query(ctx, query, budgetID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (t *pgTx) ListStalePending(ctx context.Context, before time.Time) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = $1 AND status = $2 AND created_at < $3
		ORDER BY created_at, id
	`
	rows, err := t.q.Query(ctx, query, models.TxnDisbursement, models.TxnStatusPending, before)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (t *pgTx) LedgerTotals(ctx context.Context, budgetID int64) (models.LedgerTotals, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'DISBURSEMENT' AND status = 'COMPLETED'), 0)::BIGINT,
			COALESCE(SUM(amount) FILTER (WHERE type = 'REVERSAL' AND status = 'COMPLETED'), 0)::BIGINT,
			COALESCE(SUM(amount) FILTER (WHERE type = 'DISBURSEMENT' AND status = 'PENDING'), 0)::BIGINT,
			COALESCE(SUM(amount) FILTER (WHERE type = 'FEE' AND status = 'COMPLETED'), 0)::BIGINT
		FROM transactions
		WHERE budget_id = $1
	`
	var totals models.LedgerTotals
	err := t.q.QueryRow(ctx, query, budgetID).
		Scan(&totals.Disbursed, &totals.Reversed, &totals.Pending, &totals.Fees)
	return totals, err
}

func (t *pgTx) RecordSettlement(ctx context.Context, settlementID string, txnID int64, outcome string) (bool, error) {
	query := `
		INSERT INTO settlements (settlement_id, transaction_id, outcome)
		VALUES ($1, $2, $3)
		ON CONFLICT (settlement_id) DO NOTHING
	`
	tag, err := t.q.Exec(ctx, query, settlementID, txnID, outcome)
	if err != nil {
		return false, fmt.Errorf("failed to record settlement: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) InsertBatch(ctx context.Context, b *models.Batch) error {
	query := `
		INSERT INTO batches (budget_id, sequence, amount, status, transaction_id, disbursed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	return t.q.QueryRow(ctx, query,
		b.BudgetID, b.Sequence, b.Amount, b.Status, b.TransactionID, b.DisbursedAt, stamp(b.CreatedAt),
	).Scan(&b.ID, &b.CreatedAt)
}

func (t *pgTx) ListBatches(ctx context.Context, budgetID int64) ([]models.Batch, error) {
	query := `
		SELECT id, budget_id, sequence, amount, status, transaction_id, disbursed_at, created_at
		FROM batches WHERE budget_id = $1 ORDER BY sequence
	`
	rows, err := t.q.Query(ctx, query, budgetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []models.Batch
	for rows.Next() {
		var b models.Batch
		if err := rows.Scan(&b.ID, &b.BudgetID, &b.Sequence, &b.Amount, &b.Status, &b.TransactionID, &b.DisbursedAt, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (t *pgTx) UpdateBatch(ctx context.Context, b *models.Batch) error {
	query := `UPDATE batches SET status = $2, transaction_id = $3, disbursed_at = $4 WHERE id = $1`
	tag, err := t.q.Exec(ctx, query, b.ID, b.Status, b.TransactionID, b.DisbursedAt)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(pgx.ErrNoRows, "batch", b.ID)
	}
	return nil
}

func (t *pgTx) DeletePendingBatches(ctx context.Context, budgetID int64) error {
	query := `DELETE FROM batches WHERE budget_id = $1 AND status = $2 AND transaction_id IS NULL`
	_, err := t.q.Exec(ctx, query, budgetID, models.BatchPending)
	return err
}
