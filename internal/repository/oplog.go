package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"wcoin-miner-bot/internal/model"
)

// OpLogRepository is the Postgres-backed operation log.
type OpLogRepository struct {
	pool *pgxpool.Pool
}

// NewOpLogRepository creates a new OpLogRepository instance.
func NewOpLogRepository(pool *pgxpool.Pool) *OpLogRepository {
	return &OpLogRepository{pool: pool}
}

// Record appends a balance operation to the log.
func (r *OpLogRepository) Record(ctx context.Context, userID, amount int64, opType string, note *string) error {
	const query = `
		INSERT INTO operations (user_id, amount, type, note, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	if _, err := r.pool.Exec(ctx, query, userID, amount, opType, note); err != nil {
		return fmt.Errorf("failed to record operation: %w", err)
	}
	return nil
}

// ListByUser returns the most recent operations of a user, newest first.
func (r *OpLogRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Operation, error) {
	const query = `
		SELECT id, user_id, amount, type, note, created_at
		FROM operations
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		var op model.Operation
		if err := rows.Scan(&op.ID, &op.UserID, &op.Amount, &op.Type, &op.Note, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}
