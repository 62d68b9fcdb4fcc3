package db

import (
	"context"
	"fmt"

	"fundflow-server/src/models"
)

func (s *PgStore) InsertPayoutAccount(ctx context.Context, a *models.PayoutAccount) error {
	query := `
		INSERT INTO payout_accounts (user_id, item_id, access_token, account_id, name, mask, legal_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, account_id) DO UPDATE
		SET item_id = EXCLUDED.item_id, access_token = EXCLUDED.access_token, name = EXCLUDED.name,
			mask = EXCLUDED.mask, legal_name = EXCLUDED.legal_name
		RETURNING id, created_at
	`
	err := s.pool.QueryRow(ctx, query, a.UserID, a.ItemID, a.AccessToken, a.AccountID, a.Name, a.Mask, a.LegalName).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save payout account: %w", err)
	}
	return nil
}

func (s *PgStore) ListPayoutAccounts(ctx context.Context, userID int64) ([]models.PayoutAccount, error) {
	query := `
		SELECT id, user_id, item_id, access_token, account_id, name, mask, legal_name, created_at
		FROM payout_accounts WHERE user_id = $1 ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.PayoutAccount
	for rows.Next() {
		var a models.PayoutAccount
		if err := rows.Scan(&a.ID, &a.UserID, &a.ItemID, &a.AccessToken, &a.AccountID, &a.Name, &a.Mask, &a.LegalName, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PgStore) GetPayoutAccount(ctx context.Context, id int64) (*models.PayoutAccount, error) {
	query := `
		SELECT id, user_id, item_id, access_token, account_id, name, mask, legal_name, created_at
		FROM payout_accounts WHERE id = $1
	`
	var a models.PayoutAccount
	err := s.pool.QueryRow(ctx, query, id).
		Scan(&a.ID, &a.UserID, &a.ItemID, &a.AccessToken, &a.AccountID, &a.Name, &a.Mask, &a.LegalName, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err, "payout account", id)
	}
	return &a, nil
}
