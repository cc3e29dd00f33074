package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dinechain/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const orderColumns = `id, customer_id, platform, customer_name, items, delivery, total,
	paid, paid_at, payment_method, reference, deposit_address, payment_url, cancelled_at, created_at`

// same columns for queries that join orders as o
const orderColumnsO = `o.id, o.customer_id, o.platform, o.customer_name, o.items, o.delivery, o.total,
	o.paid, o.paid_at, o.payment_method, o.reference, o.deposit_address, o.payment_url, o.cancelled_at, o.created_at`

const pgUniqueViolation = "23505"

// scanOrder reads orderColumns followed by any extra destinations.
func scanOrder(row pgx.Row, extra ...any) (*models.Order, error) {
	var (
		o                               models.Order
		itemsJSON                       []byte
		method, reference, deposit, url *string
	)
	dest := []any{
		&o.ID, &o.CustomerID, &o.Platform, &o.CustomerName, &itemsJSON, &o.Delivery, &o.Total,
		&o.Paid, &o.PaidAt, &method, &reference, &deposit, &url, &o.CancelledAt, &o.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order items: %w", err)
	}
	if method != nil {
		o.PaymentMethod = *method
	}
	if reference != nil {
		o.Reference = *reference
	}
	if deposit != nil {
		o.DepositAddress = *deposit
	}
	if url != nil {
		o.PaymentURL = *url
	}
	return &o, nil
}

func (s *PgStore) CreateOrder(ctx context.Context, o *models.Order) error {
	if o.Total != models.SumItems(o.Items) {
		return fmt.Errorf("order total %d does not match items sum %d", o.Total, models.SumItems(o.Items))
	}
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}
	id := s.ids.Generate().Int64()
	err = s.pool.QueryRow(ctx, `
		INSERT INTO orders (id, customer_id, platform, customer_name, items, delivery, total, paid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)
		RETURNING created_at`,
		id, o.CustomerID, o.Platform, o.CustomerName, itemsJSON, o.Delivery, o.Total,
	).Scan(&o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrOpenOrderExists
		}
		return err
	}
	o.ID = id
	return nil
}

func (s *PgStore) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (s *PgStore) OpenOrder(ctx context.Context, platform, customerID string) (*models.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE customer_id = $1 AND platform = $2 AND NOT paid AND cancelled_at IS NULL
		ORDER BY created_at DESC LIMIT 1`,
		customerID, platform,
	))
}

func (s *PgStore) AttachPayment(ctx context.Context, a *models.PaymentAttempt) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET
			payment_method = $2,
			reference = NULLIF($3, ''),
			deposit_address = NULLIF($4, ''),
			payment_url = NULLIF($5, '')
		WHERE id = $1 AND NOT paid AND cancelled_at IS NULL`,
		a.OrderID, a.Method, a.Reference, a.DepositAddress, a.URL,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if a.Reference != "" {
		err = tx.QueryRow(ctx, `
			INSERT INTO payment_attempts (reference, order_id, method, url, deposit_address)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
			ON CONFLICT (reference) DO UPDATE SET reference = EXCLUDED.reference
			RETURNING created_at`,
			a.Reference, a.OrderID, a.Method, a.URL, a.DepositAddress,
		).Scan(&a.CreatedAt)
		if err != nil {
			return fmt.Errorf("record payment attempt: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PgStore) FindUnpaidByReference(ctx context.Context, reference string) (*models.Order, error) {
	if reference == "" {
		return nil, ErrNotFound
	}
	return scanOrder(s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE NOT paid AND (
			reference = $1 OR
			id IN (SELECT order_id FROM payment_attempts WHERE reference = $1)
		)
		LIMIT 1`,
		reference,
	))
}

// MarkPaid relies on the conditional UPDATE being atomic: concurrent callers see one row affected at most once.
func (s *PgStore) MarkPaid(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET paid = true, paid_at = now()
		WHERE id = $1 AND NOT paid`,
		id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) CancelOrder(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET cancelled_at = now()
		WHERE id = $1 AND NOT paid AND cancelled_at IS NULL`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) ListAwaitingDeposit(ctx context.Context, since time.Time) ([]models.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumnsO+`, a.deposit_address
		FROM payment_attempts a
		JOIN orders o ON o.id = a.order_id
		WHERE NOT o.paid AND a.deposit_address IS NOT NULL AND a.created_at >= $1
		ORDER BY a.created_at`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Order
	for rows.Next() {
		var address string
		o, err := scanOrder(rows, &address)
		if err != nil {
			return nil, err
		}
		o.DepositAddress = address
		list = append(list, *o)
	}
	return list, rows.Err()
}
