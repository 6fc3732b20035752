package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"wcoin-miner-bot/internal/model"
)

// OrderRepository is the Postgres-backed OrderStore. Order ids come from the
// table's BIGSERIAL sequence, so they are strictly increasing across both
// kinds and never reused; the UNIQUE constraint on user_id enforces the
// one-open-order-per-user invariant at the storage layer.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository instance.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `id, user_id, kind, status, machine_key, payment_method,
	transfer_no, receipt_ref, amount, account, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.Kind,
		&o.Status,
		&o.MachineKey,
		&o.PaymentMethod,
		&o.TransferNo,
		&o.ReceiptRef,
		&o.Amount,
		&o.Account,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// Create persists a new order and returns it with its assigned id.
func (r *OrderRepository) Create(ctx context.Context, o *model.Order) (*model.Order, error) {
	query := `
		INSERT INTO orders (user_id, kind, status, machine_key, payment_method,
			transfer_no, receipt_ref, amount, account, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING ` + orderColumns

	created, err := scanOrder(r.pool.QueryRow(ctx, query,
		o.UserID, o.Kind, o.Status, o.MachineKey, o.PaymentMethod,
		o.TransferNo, o.ReceiptRef, o.Amount, o.Account,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrOrderConflict
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

// GetByID retrieves an order by id, across both kinds.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetByUser returns the user's open order, or ErrOrderNotFound.
func (r *OrderRepository) GetByUser(ctx context.Context, userID int64) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1`

	order, err := scanOrder(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get pending order: %w", err)
	}
	return order, nil
}

// SetProof attaches the transfer reference and receipt and moves the order
// to the given status.
func (r *OrderRepository) SetProof(ctx context.Context, id int64, transferNo, receiptRef string, status model.OrderStatus) error {
	const query = `
		UPDATE orders
		SET transfer_no = $2, receipt_ref = $3, status = $4
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query, id, transferNo, receiptRef, status)
	if err != nil {
		return fmt.Errorf("failed to set proof: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ListPending returns open orders of the kind in creation order.
func (r *OrderRepository) ListPending(ctx context.Context, kind model.OrderKind) ([]*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE kind = $1 ORDER BY id`

	rows, err := r.pool.Query(ctx, query, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending orders: %w", err)
	}
	defer rows.Close()

	var orders []*model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return orders, nil
}

// Delete removes a terminally resolved order from the pending set.
func (r *OrderRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
