package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"wcoin-miner-bot/internal/model"
)

// LeaseRepository is the Postgres-backed LeaseStore.
type LeaseRepository struct {
	pool *pgxpool.Pool
}

// NewLeaseRepository creates a new LeaseRepository instance.
func NewLeaseRepository(pool *pgxpool.Pool) *LeaseRepository {
	return &LeaseRepository{pool: pool}
}

const leaseColumns = `id, user_id, machine_key, payment_method, purchased_at, expires_at, last_claim_at`

func scanLease(row pgx.Row) (*model.Lease, error) {
	var l model.Lease
	err := row.Scan(
		&l.ID,
		&l.UserID,
		&l.MachineKey,
		&l.PaymentMethod,
		&l.PurchasedAt,
		&l.ExpiresAt,
		&l.LastClaimAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeaseNotFound
		}
		return nil, err
	}
	return &l, nil
}

// Install persists a new lease and returns it with its assigned id.
func (r *LeaseRepository) Install(ctx context.Context, lease *model.Lease) (*model.Lease, error) {
	query := `
		INSERT INTO leases (user_id, machine_key, payment_method, purchased_at, expires_at, last_claim_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + leaseColumns

	installed, err := scanLease(r.pool.QueryRow(ctx, query,
		lease.UserID, lease.MachineKey, lease.PaymentMethod,
		lease.PurchasedAt, lease.ExpiresAt, lease.LastClaimAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to install lease: %w", err)
	}
	return installed, nil
}

// LatestByUserAndMachine returns the lease with the latest expiry for the
// (user, machine) pair. Expired leases are returned too; callers decide.
func (r *LeaseRepository) LatestByUserAndMachine(ctx context.Context, userID int64, machineKey string) (*model.Lease, error) {
	query := `
		SELECT ` + leaseColumns + `
		FROM leases
		WHERE user_id = $1 AND machine_key = $2
		ORDER BY expires_at DESC
		LIMIT 1`

	lease, err := scanLease(r.pool.QueryRow(ctx, query, userID, machineKey))
	if err != nil {
		if errors.Is(err, ErrLeaseNotFound) {
			return nil, ErrLeaseNotFound
		}
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	return lease, nil
}

// ListByUser returns all leases of a user, newest purchase first.
func (r *LeaseRepository) ListByUser(ctx context.Context, userID int64) ([]*model.Lease, error) {
	query := `
		SELECT ` + leaseColumns + `
		FROM leases
		WHERE user_id = $1
		ORDER BY purchased_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	var leases []*model.Lease
	for rows.Next() {
		lease, err := scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leases: %w", err)
	}
	return leases, nil
}

// UpdateLastClaim moves the lease's claim window forward to the given time.
func (r *LeaseRepository) UpdateLastClaim(ctx context.Context, leaseID int64, at time.Time) error {
	const query = `UPDATE leases SET last_claim_at = $2 WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, leaseID, at)
	if err != nil {
		return fmt.Errorf("failed to update last claim: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLeaseNotFound
	}
	return nil
}

// ActiveOwners returns the users holding an unexpired lease of the machine.
func (r *LeaseRepository) ActiveOwners(ctx context.Context, machineKey string, now time.Time) ([]*model.User, error) {
	query := `
		SELECT DISTINCT ON (u.telegram_id) ` + prefixedUserColumns("u") + `
		FROM users u
		JOIN leases l ON l.user_id = u.telegram_id
		WHERE l.machine_key = $1 AND l.expires_at > $2
		ORDER BY u.telegram_id`

	rows, err := r.pool.Query(ctx, query, machineKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list lease owners: %w", err)
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan owner: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating owners: %w", err)
	}
	return users, nil
}

// prefixedUserColumns qualifies the user column list with a table alias.
func prefixedUserColumns(alias string) string {
	return alias + `.telegram_id, ` + alias + `.username, ` + alias + `.balance, ` +
		alias + `.referrals, ` + alias + `.referred_by, ` + alias + `.referral_credited, ` +
		alias + `.withdraw_account, ` + alias + `.skip_verified, ` + alias + `.created_at, ` +
		alias + `.updated_at`
}
