package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wcoin-miner-bot/internal/model"
)

// UserRepository is the Postgres-backed UserStore.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `telegram_id, username, balance, referrals, referred_by,
	referral_credited, withdraw_account, skip_verified, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.TelegramID,
		&u.Username,
		&u.Balance,
		&u.Referrals,
		&u.ReferredBy,
		&u.ReferralCredited,
		&u.WithdrawAccount,
		&u.SkipVerified,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Create creates a new user with the given initial balance.
func (r *UserRepository) Create(ctx context.Context, telegramID int64, username string, initialBalance int64) (*model.User, error) {
	query := `
		INSERT INTO users (telegram_id, username, balance, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, telegramID, username, initialBalance))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetByID retrieves a user by their Telegram ID.
// Returns ErrUserNotFound if the user does not exist.
func (r *UserRepository) GetByID(ctx context.Context, telegramID int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE telegram_id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, telegramID))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by username, case-insensitively.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(username) = lower($1)`

	user, err := scanUser(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by username: %w", err)
	}
	return user, nil
}

// GetOrCreate retrieves a user by Telegram ID, creating one with the given
// initial balance if it doesn't exist.
func (r *UserRepository) GetOrCreate(ctx context.Context, telegramID int64, username string, initialBalance int64) (*model.User, bool, error) {
	user, err := r.GetByID(ctx, telegramID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, false, err
	}

	user, err = r.Create(ctx, telegramID, username, initialBalance)
	if err != nil {
		// Another request may have created the user concurrently.
		user, err = r.GetByID(ctx, telegramID)
		if err != nil {
			return nil, false, err
		}
		return user, false, nil
	}

	return user, true, nil
}

// UpdateUsername updates a user's username.
func (r *UserRepository) UpdateUsername(ctx context.Context, telegramID int64, username string) error {
	const query = `UPDATE users SET username = $2, updated_at = NOW() WHERE telegram_id = $1`

	result, err := r.pool.Exec(ctx, query, telegramID, username)
	if err != nil {
		return fmt.Errorf("failed to update username: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateBalance adds delta to a user's balance and returns the updated user.
func (r *UserRepository) UpdateBalance(ctx context.Context, telegramID int64, delta int64) (*model.User, error) {
	query := `
		UPDATE users
		SET balance = balance + $2, updated_at = NOW()
		WHERE telegram_id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, telegramID, delta))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return user, nil
}

// SetReferredBy records the referrer of a user. The pointer is only set once.
func (r *UserRepository) SetReferredBy(ctx context.Context, telegramID, referrerID int64) error {
	const query = `
		UPDATE users
		SET referred_by = $2, updated_at = NOW()
		WHERE telegram_id = $1 AND referred_by IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, telegramID, referrerID); err != nil {
		return fmt.Errorf("failed to set referrer: %w", err)
	}
	return nil
}

// CreditReferral credits the join bonus and sets the one-shot flag in a
// single statement; the WHERE clause makes replays a no-op.
func (r *UserRepository) CreditReferral(ctx context.Context, telegramID int64, bonus int64) (bool, error) {
	const query = `
		UPDATE users
		SET balance = balance + $2, referral_credited = TRUE, updated_at = NOW()
		WHERE telegram_id = $1 AND referral_credited = FALSE
	`

	result, err := r.pool.Exec(ctx, query, telegramID, bonus)
	if err != nil {
		return false, fmt.Errorf("failed to credit referral: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// AddReferral credits the referrer's bonus and increments their referral count.
func (r *UserRepository) AddReferral(ctx context.Context, referrerID int64, bonus int64) (*model.User, error) {
	query := `
		UPDATE users
		SET balance = balance + $2, referrals = referrals + 1, updated_at = NOW()
		WHERE telegram_id = $1
		RETURNING ` + userColumns

	user, err := scanUser(r.pool.QueryRow(ctx, query, referrerID, bonus))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to add referral: %w", err)
	}
	return user, nil
}

// SetWithdrawAccount stores the user's payout account.
func (r *UserRepository) SetWithdrawAccount(ctx context.Context, telegramID int64, account string) error {
	const query = `UPDATE users SET withdraw_account = $2, updated_at = NOW() WHERE telegram_id = $1`

	result, err := r.pool.Exec(ctx, query, telegramID, account)
	if err != nil {
		return fmt.Errorf("failed to set withdraw account: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SetSkipVerified sets the admin override flag.
func (r *UserRepository) SetSkipVerified(ctx context.Context, telegramID int64) error {
	const query = `UPDATE users SET skip_verified = TRUE, updated_at = NOW() WHERE telegram_id = $1`

	result, err := r.pool.Exec(ctx, query, telegramID)
	if err != nil {
		return fmt.Errorf("failed to set skip flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TopByBalance retrieves the top N users by balance.
func (r *UserRepository) TopByBalance(ctx context.Context, limit int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY balance DESC LIMIT $1`
	return r.listUsers(ctx, query, limit)
}

// TopByReferrals retrieves the top N users by referral count.
func (r *UserRepository) TopByReferrals(ctx context.Context, limit int) ([]*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY referrals DESC LIMIT $1`
	return r.listUsers(ctx, query, limit)
}

// Count returns the total number of users.
func (r *UserRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (r *UserRepository) listUsers(ctx context.Context, query string, args ...any) ([]*model.User, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
