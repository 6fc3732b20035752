package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"wcoin-miner-bot/internal/model"
)

func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB starts a throwaway Postgres container and applies the schema.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	t.Helper()

	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("wcoin_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, migrate(ctx, pool))

	cleanup := func() {
		pool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return pool, cleanup
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			referrals BIGINT NOT NULL DEFAULT 0,
			referred_by BIGINT,
			referral_credited BOOLEAN NOT NULL DEFAULT FALSE,
			withdraw_account VARCHAR(255),
			skip_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS leases (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			machine_key VARCHAR(32) NOT NULL,
			payment_method VARCHAR(16) NOT NULL,
			purchased_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			last_claim_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE REFERENCES users(telegram_id) ON DELETE CASCADE,
			kind VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			machine_key VARCHAR(32) NOT NULL DEFAULT '',
			payment_method VARCHAR(16) NOT NULL DEFAULT '',
			transfer_no VARCHAR(255) NOT NULL DEFAULT '',
			receipt_ref VARCHAR(255) NOT NULL DEFAULT '',
			amount BIGINT NOT NULL DEFAULT 0,
			account VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS operations (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

func mustCreateUser(t *testing.T, repo *UserRepository, id int64, username string, balance int64) *model.User {
	t.Helper()
	user, err := repo.Create(context.Background(), id, username, balance)
	require.NoError(t, err)
	return user
}

func TestUserRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user := mustCreateUser(t, repo, 12345, "miner_alice", 2000)
	assert.Equal(t, int64(12345), user.TelegramID)
	assert.Equal(t, "miner_alice", user.Username)
	assert.Equal(t, int64(2000), user.Balance)
	assert.False(t, user.ReferralCredited)
	assert.Nil(t, user.WithdrawAccount)

	got, err := repo.GetByID(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, user.TelegramID, got.TelegramID)
	assert.Equal(t, user.Balance, got.Balance)

	_, err = repo.GetByID(ctx, 99999)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_GetByUsername(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, 100, "MixedCase", 0)

	got, err := repo.GetByUsername(ctx, "mixedcase")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.TelegramID)

	_, err = repo.GetByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, created, err := repo.GetOrCreate(ctx, 200, "bob", 2000)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(2000), user.Balance)

	again, created, err := repo.GetOrCreate(ctx, 200, "bob", 2000)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(2000), again.Balance, "second contact must not re-pay the bonus")
}

func TestUserRepository_UpdateBalance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, 300, "carol", 1000)

	user, err := repo.UpdateBalance(ctx, 300, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), user.Balance)

	user, err = repo.UpdateBalance(ctx, 300, -1500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), user.Balance)

	// The CHECK constraint rejects drops below zero.
	_, err = repo.UpdateBalance(ctx, 300, -1)
	assert.Error(t, err)

	_, err = repo.UpdateBalance(ctx, 99999, 100)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_CreditReferralOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, 400, "dave", 0)

	credited, err := repo.CreditReferral(ctx, 400, 3000)
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = repo.CreditReferral(ctx, 400, 3000)
	require.NoError(t, err)
	assert.False(t, credited, "replay must be a no-op")

	user, err := repo.GetByID(ctx, 400)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), user.Balance)
	assert.True(t, user.ReferralCredited)
}

func TestUserRepository_ReferrerChain(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, 500, "referrer", 0)
	mustCreateUser(t, repo, 501, "invitee", 0)

	require.NoError(t, repo.SetReferredBy(ctx, 501, 500))
	// A second referrer must not overwrite the first.
	require.NoError(t, repo.SetReferredBy(ctx, 501, 777))

	invitee, err := repo.GetByID(ctx, 501)
	require.NoError(t, err)
	require.NotNil(t, invitee.ReferredBy)
	assert.Equal(t, int64(500), *invitee.ReferredBy)

	referrer, err := repo.AddReferral(ctx, 500, 3000)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), referrer.Balance)
	assert.Equal(t, int64(1), referrer.Referrals)
}

func TestUserRepository_WithdrawAccountAndSkip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, 600, "erin", 0)

	require.NoError(t, repo.SetWithdrawAccount(ctx, 600, "09-1234-5678"))
	require.NoError(t, repo.SetSkipVerified(ctx, 600))

	user, err := repo.GetByID(ctx, 600)
	require.NoError(t, err)
	require.NotNil(t, user.WithdrawAccount)
	assert.Equal(t, "09-1234-5678", *user.WithdrawAccount)
	assert.True(t, user.SkipVerified)

	assert.ErrorIs(t, repo.SetWithdrawAccount(ctx, 99999, "x"), ErrUserNotFound)
	assert.ErrorIs(t, repo.SetSkipVerified(ctx, 99999), ErrUserNotFound)
}

func TestUserRepository_Leaderboards(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewUserRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, repo, 700, "low", 100)
	mustCreateUser(t, repo, 701, "high", 9000)
	mustCreateUser(t, repo, 702, "mid", 4000)

	_, err := repo.AddReferral(ctx, 700, 0)
	require.NoError(t, err)
	_, err = repo.AddReferral(ctx, 700, 0)
	require.NoError(t, err)

	top, err := repo.TopByBalance(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(701), top[0].TelegramID)
	assert.Equal(t, int64(702), top[1].TelegramID)

	inviters, err := repo.TopByReferrals(ctx, 1)
	require.NoError(t, err)
	require.Len(t, inviters, 1)
	assert.Equal(t, int64(700), inviters[0].TelegramID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestLeaseRepository_InstallAndLookup(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	leases := NewLeaseRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, users, 800, "frank", 0)

	now := time.Now().UTC().Truncate(time.Microsecond)
	installed, err := leases.Install(ctx, &model.Lease{
		UserID:        800,
		MachineKey:    "common",
		PaymentMethod: model.PayTransfer,
		PurchasedAt:   now,
		ExpiresAt:     now.Add(30 * 24 * time.Hour),
		LastClaimAt:   now,
	})
	require.NoError(t, err)
	assert.NotZero(t, installed.ID)

	got, err := leases.LatestByUserAndMachine(ctx, 800, "common")
	require.NoError(t, err)
	assert.Equal(t, installed.ID, got.ID)
	assert.Equal(t, model.PayTransfer, got.PaymentMethod)
	assert.WithinDuration(t, now.Add(30*24*time.Hour), got.ExpiresAt, time.Second)

	_, err = leases.LatestByUserAndMachine(ctx, 800, "epic")
	assert.ErrorIs(t, err, ErrLeaseNotFound)
}

func TestLeaseRepository_LatestPrefersNewestExpiry(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	leases := NewLeaseRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, users, 810, "grace", 0)

	now := time.Now().UTC()
	old := &model.Lease{
		UserID: 810, MachineKey: "basic", PaymentMethod: model.PayBalance,
		PurchasedAt: now.Add(-60 * 24 * time.Hour),
		ExpiresAt:   now.Add(-30 * 24 * time.Hour),
		LastClaimAt: now.Add(-30 * 24 * time.Hour),
	}
	fresh := &model.Lease{
		UserID: 810, MachineKey: "basic", PaymentMethod: model.PayBalance,
		PurchasedAt: now,
		ExpiresAt:   now.Add(30 * 24 * time.Hour),
		LastClaimAt: now,
	}
	_, err := leases.Install(ctx, old)
	require.NoError(t, err)
	freshInstalled, err := leases.Install(ctx, fresh)
	require.NoError(t, err)

	got, err := leases.LatestByUserAndMachine(ctx, 810, "basic")
	require.NoError(t, err)
	assert.Equal(t, freshInstalled.ID, got.ID)

	all, err := leases.ListByUser(ctx, 810)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLeaseRepository_UpdateLastClaim(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	leases := NewLeaseRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, users, 820, "heidi", 0)

	now := time.Now().UTC()
	installed, err := leases.Install(ctx, &model.Lease{
		UserID: 820, MachineKey: "epic", PaymentMethod: model.PayTransfer,
		PurchasedAt: now.Add(-13 * time.Hour),
		ExpiresAt:   now.Add(29 * 24 * time.Hour),
		LastClaimAt: now.Add(-13 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, leases.UpdateLastClaim(ctx, installed.ID, now))

	got, err := leases.LatestByUserAndMachine(ctx, 820, "epic")
	require.NoError(t, err)
	assert.WithinDuration(t, now, got.LastClaimAt, time.Second)

	assert.ErrorIs(t, leases.UpdateLastClaim(ctx, 99999, now), ErrLeaseNotFound)
}

func TestLeaseRepository_ActiveOwners(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	leases := NewLeaseRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, users, 830, "active_owner", 0)
	mustCreateUser(t, users, 831, "expired_owner", 0)
	mustCreateUser(t, users, 832, "other_machine", 0)

	now := time.Now().UTC()
	live := &model.Lease{
		UserID: 830, MachineKey: "premium", PaymentMethod: model.PayTransfer,
		PurchasedAt: now, ExpiresAt: now.Add(30 * 24 * time.Hour), LastClaimAt: now,
	}
	lapsed := &model.Lease{
		UserID: 831, MachineKey: "premium", PaymentMethod: model.PayTransfer,
		PurchasedAt: now.Add(-40 * 24 * time.Hour), ExpiresAt: now.Add(-10 * 24 * time.Hour),
		LastClaimAt: now.Add(-10 * 24 * time.Hour),
	}
	other := &model.Lease{
		UserID: 832, MachineKey: "epic", PaymentMethod: model.PayTransfer,
		PurchasedAt: now, ExpiresAt: now.Add(30 * 24 * time.Hour), LastClaimAt: now,
	}
	for _, l := range []*model.Lease{live, lapsed, other} {
		_, err := leases.Install(ctx, l)
		require.NoError(t, err)
	}

	owners, err := leases.ActiveOwners(ctx, "premium", now)
	require.NoError(t, err)
	require.Len(t, owners, 1)
	assert.Equal(t, int64(830), owners[0].TelegramID)
}

func TestOrderRepository_CreateConflict(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	orders := NewOrderRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, users, 900, "ivan", 0)

	first, err := orders.Create(ctx, &model.Order{
		UserID:        900,
		Kind:          model.OrderKindMachine,
		Status:        model.OrderAwaitingProof,
		MachineKey:    "epic",
		PaymentMethod: model.PayTransfer,
		Amount:        8000,
	})
	require.NoError(t, err)
	assert.NotZero(t, first.ID)

	// Same user, second open order of any kind hits the UNIQUE constraint.
	_, err = orders.Create(ctx, &model.Order{
		UserID: 900,
		Kind:   model.OrderKindWithdrawal,
		Status: model.OrderAwaitingAdmin,
		Amount: 50000,
	})
	assert.ErrorIs(t, err, ErrOrderConflict)
}

func TestOrderRepository_ProofLifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	orders := NewOrderRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, users, 910, "judy", 0)

	created, err := orders.Create(ctx, &model.Order{
		UserID:        910,
		Kind:          model.OrderKindMachine,
		Status:        model.OrderAwaitingProof,
		MachineKey:    "common",
		PaymentMethod: model.PayTransfer,
		Amount:        5000,
	})
	require.NoError(t, err)

	require.NoError(t, orders.SetProof(ctx, created.ID, "TRX-42", "photo-file-id", model.OrderAwaitingAdmin))

	got, err := orders.GetByUser(ctx, 910)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, model.OrderAwaitingAdmin, got.Status)
	assert.Equal(t, "TRX-42", got.TransferNo)
	assert.Equal(t, "photo-file-id", got.ReceiptRef)

	require.NoError(t, orders.Delete(ctx, created.ID))

	_, err = orders.GetByUser(ctx, 910)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.ErrorIs(t, orders.Delete(ctx, created.ID), ErrOrderNotFound)
}

func TestOrderRepository_ListPendingAndIDs(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	orders := NewOrderRepository(pool)
	ctx := context.Background()

	var ids []int64
	for i := int64(0); i < 4; i++ {
		userID := 920 + i
		mustCreateUser(t, users, userID, "user", 0)

		kind := model.OrderKindMachine
		status := model.OrderAwaitingProof
		if i%2 == 1 {
			kind = model.OrderKindWithdrawal
			status = model.OrderAwaitingAdmin
		}
		o, err := orders.Create(ctx, &model.Order{UserID: userID, Kind: kind, Status: status})
		require.NoError(t, err)
		ids = append(ids, o.ID)
	}

	// Ids come from one shared sequence regardless of kind.
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}

	machines, err := orders.ListPending(ctx, model.OrderKindMachine)
	require.NoError(t, err)
	require.Len(t, machines, 2)
	assert.Equal(t, ids[0], machines[0].ID)
	assert.Equal(t, ids[2], machines[1].ID)

	withdrawals, err := orders.ListPending(ctx, model.OrderKindWithdrawal)
	require.NoError(t, err)
	require.Len(t, withdrawals, 2)
}

func TestOpLogRepository_RecordAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	users := NewUserRepository(pool)
	ops := NewOpLogRepository(pool)
	ctx := context.Background()

	mustCreateUser(t, users, 950, "kate", 0)

	note := "machine common"
	require.NoError(t, ops.Record(ctx, 950, 2000, model.OpTypeJoinBonus, nil))
	require.NoError(t, ops.Record(ctx, 950, -5000, model.OpTypeMachinePurchase, &note))
	require.NoError(t, ops.Record(ctx, 950, 1500, model.OpTypeClaim, nil))

	got, err := ops.ListByUser(ctx, 950, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Newest first.
	assert.Equal(t, model.OpTypeClaim, got[0].Type)
	assert.Equal(t, model.OpTypeMachinePurchase, got[1].Type)
	require.NotNil(t, got[1].Note)
	assert.Equal(t, note, *got[1].Note)

	// A record for an unknown user violates the foreign key.
	assert.Error(t, ops.Record(ctx, 99999, 1, model.OpTypeClaim, nil))
}
