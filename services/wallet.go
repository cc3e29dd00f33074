package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

func (s *PgStore) GetWallet(ctx context.Context, platform, customerID string) (string, error) {
	var walletID string
	err := s.pool.QueryRow(ctx, `
		SELECT wallet_id FROM crypto_wallets WHERE customer_id = $1 AND platform = $2`,
		customerID, platform,
	).Scan(&walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return walletID, nil
}

func (s *PgStore) SaveWallet(ctx context.Context, platform, customerID, walletID string) (string, error) {
	var stored string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO crypto_wallets (customer_id, platform, wallet_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, platform) DO UPDATE SET wallet_id = crypto_wallets.wallet_id
		RETURNING wallet_id`,
		customerID, platform, walletID,
	).Scan(&stored)
	return stored, err
}
