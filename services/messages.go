package services

import "context"

const (
	AudienceCustomer = "customer"
	AudienceKitchen  = "kitchen"
)

func (s *PgStore) RecordNotification(ctx context.Context, orderID int64, audience string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (order_id, audience)
		VALUES ($1, $2)
		ON CONFLICT (order_id, audience) DO NOTHING`,
		orderID, audience,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
