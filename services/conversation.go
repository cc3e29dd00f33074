package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dinechain/models"

	"github.com/jackc/pgx/v5"
)

func (s *PgStore) GetConversation(ctx context.Context, platform, customerID string) (*models.Conversation, error) {
	var historyJSON []byte
	conv := &models.Conversation{CustomerID: customerID, Platform: platform}
	err := s.pool.QueryRow(ctx, `
		SELECT history, state, updated_at FROM conversations
		WHERE customer_id = $1 AND platform = $2`,
		customerID, platform,
	).Scan(&historyJSON, &conv.State, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &conv.Turns); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	return conv, nil
}

func (s *PgStore) SaveConversation(ctx context.Context, conv *models.Conversation) error {
	historyJSON, err := json.Marshal(conv.Turns)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	state := conv.State
	if state == "" {
		state = models.StateIdle
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (customer_id, platform, history, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (customer_id, platform) DO UPDATE SET
			history = $3,
			state = $4,
			updated_at = now()`,
		conv.CustomerID, conv.Platform, historyJSON, state,
	)
	return err
}

func (s *PgStore) ClearConversation(ctx context.Context, platform, customerID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE conversations SET history = NULL, state = $3, updated_at = now()
		WHERE customer_id = $1 AND platform = $2`,
		customerID, platform, models.StateIdle,
	)
	return err
}
