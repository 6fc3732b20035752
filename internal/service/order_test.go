package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/machine"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/repository"
)

// seedWithdrawer creates a user that passes every withdrawal rule via the
// skip override, with a payout account on file.
func seedWithdrawer(t *testing.T, env *testEnv, id, balance int64) {
	t.Helper()
	ctx := context.Background()
	env.seedUser(t, id, balance)
	require.NoError(t, env.store.Users().SetSkipVerified(ctx, id))
	require.NoError(t, env.store.Users().SetWithdrawAccount(ctx, id, "09-1234-5678"))
}

func TestRequestWithdrawal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedWithdrawer(t, env, 1, 60000)
	events := env.collectEvents()

	order, err := env.orders.RequestWithdrawal(ctx, 1, 50000)
	require.NoError(t, err)

	assert.Equal(t, model.OrderKindWithdrawal, order.Kind)
	assert.Equal(t, model.OrderAwaitingAdmin, order.Status)
	assert.Equal(t, int64(50000), order.Amount)
	assert.Equal(t, "09-1234-5678", order.Account)

	// The amount is reserved immediately.
	assert.Equal(t, int64(10000), env.balance(t, 1))

	var sawDebit, sawOrder bool
	for _, ev := range *events {
		switch e := ev.(type) {
		case event.BalanceChanged:
			assert.Equal(t, int64(-50000), e.Delta)
			sawDebit = true
		case event.OrderCreated:
			assert.Equal(t, order.ID, e.Order.ID)
			sawOrder = true
		}
	}
	assert.True(t, sawDebit)
	assert.True(t, sawOrder)
}

func TestRequestWithdrawalValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedWithdrawer(t, env, 1, 60000)

	_, err := env.orders.RequestWithdrawal(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.orders.RequestWithdrawal(ctx, 1, testMinWithdraw-1)
	assert.ErrorIs(t, err, ErrBelowMinWithdraw)

	_, err = env.orders.RequestWithdrawal(ctx, 1, 60001)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// No payout account on file.
	env.seedUser(t, 2, 60000)
	require.NoError(t, env.store.Users().SetSkipVerified(ctx, 2))
	_, err = env.orders.RequestWithdrawal(ctx, 2, 50000)
	assert.ErrorIs(t, err, ErrWithdrawAccountMissing)

	// Account set but no referrals and no counting machine.
	env.seedUser(t, 3, 60000)
	require.NoError(t, env.store.Users().SetWithdrawAccount(ctx, 3, "acct"))
	_, err = env.orders.RequestWithdrawal(ctx, 3, 50000)
	var elig *EligibilityError
	require.ErrorAs(t, err, &elig)
	assert.Equal(t, RuleReferrals, elig.Rule)

	// Nothing was debited by any rejected request.
	assert.Equal(t, int64(60000), env.balance(t, 1))
	assert.Equal(t, int64(60000), env.balance(t, 2))
	assert.Equal(t, int64(60000), env.balance(t, 3))
}

func TestRequestWithdrawalBlockedByOpenOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedWithdrawer(t, env, 1, 120000)

	_, err := env.orders.RequestWithdrawal(ctx, 1, 50000)
	require.NoError(t, err)

	_, err = env.orders.RequestWithdrawal(ctx, 1, 50000)
	assert.ErrorIs(t, err, ErrOrderPending)
	assert.Equal(t, int64(70000), env.balance(t, 1), "the blocked request must not debit")
}

func TestResolveWithdrawConfirm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedWithdrawer(t, env, 1, 60000)

	order, err := env.orders.RequestWithdrawal(ctx, 1, 50000)
	require.NoError(t, err)
	events := env.collectEvents()

	res, err := env.orders.Resolve(ctx, testAdminID, order.ID, model.DecisionConfirm)
	require.NoError(t, err)
	assert.Nil(t, res.Lease)
	assert.Equal(t, order.ID, res.Order.ID)

	// The reservation is the payout: the balance stays down.
	assert.Equal(t, int64(10000), env.balance(t, 1))
	_, err = env.store.Orders().GetByID(ctx, order.ID)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	require.Len(t, *events, 1)
	resolved, ok := (*events)[0].(event.OrderResolved)
	require.True(t, ok)
	assert.Equal(t, model.DecisionConfirm, resolved.Decision)
	assert.Equal(t, testAdminID, resolved.AdminID)
}

func TestResolveWithdrawRejectKeepsDebit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedWithdrawer(t, env, 1, 60000)

	order, err := env.orders.RequestWithdrawal(ctx, 1, 50000)
	require.NoError(t, err)

	_, err = env.orders.Resolve(ctx, testAdminID, order.ID, model.DecisionReject)
	require.NoError(t, err)

	// A rejection is terminal and does not restore the reserved amount.
	assert.Equal(t, int64(10000), env.balance(t, 1))
	_, err = env.store.Orders().GetByID(ctx, order.ID)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestResolveMachineConfirmInstallsLease(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 1, 0)

	res, err := env.leases.Purchase(ctx, 1, "epic", model.PayTransfer)
	require.NoError(t, err)
	_, err = env.leases.SubmitProof(ctx, 1, "TXN-9", "photo-9")
	require.NoError(t, err)

	resolution, err := env.orders.Resolve(ctx, testAdminID, res.Order.ID, model.DecisionConfirm)
	require.NoError(t, err)
	require.NotNil(t, resolution.Lease)

	assert.Equal(t, "epic", resolution.Lease.MachineKey)
	assert.Equal(t, model.PayTransfer, resolution.Lease.PaymentMethod)
	assert.WithinDuration(t, time.Now().Add(machine.LeaseDuration), resolution.Lease.ExpiresAt, time.Minute)

	_, err = env.store.Orders().GetByID(ctx, res.Order.ID)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestResolveMachineReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 1, 0)

	res, err := env.leases.Purchase(ctx, 1, "epic", model.PayTransfer)
	require.NoError(t, err)
	_, err = env.leases.SubmitProof(ctx, 1, "TXN-9", "photo-9")
	require.NoError(t, err)

	_, err = env.orders.Resolve(ctx, testAdminID, res.Order.ID, model.DecisionReject)
	require.NoError(t, err)

	_, err = env.store.Leases().LatestByUserAndMachine(ctx, 1, "epic")
	assert.ErrorIs(t, err, repository.ErrLeaseNotFound)
	_, err = env.store.Orders().GetByID(ctx, res.Order.ID)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestResolveRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedWithdrawer(t, env, 1, 60000)

	order, err := env.orders.RequestWithdrawal(ctx, 1, 50000)
	require.NoError(t, err)

	_, err = env.orders.Resolve(ctx, 1, order.ID, model.DecisionConfirm)
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestResolveAwaitingProofNotResolvable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 1, 0)

	res, err := env.leases.Purchase(ctx, 1, "common", model.PayTransfer)
	require.NoError(t, err)

	_, err = env.orders.Resolve(ctx, testAdminID, res.Order.ID, model.DecisionConfirm)
	assert.ErrorIs(t, err, ErrOrderNotResolvable)
}

func TestResolveUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orders.Resolve(context.Background(), testAdminID, 404, model.DecisionConfirm)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

// Order ids come from a single sequence shared by both kinds, so admins
// can reference any order unambiguously by number.
func TestOrderIDsStrictlyIncreaseAcrossKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ids []int64
	for i := int64(1); i <= 6; i++ {
		if i%2 == 0 {
			seedWithdrawer(t, env, i, 60000)
			o, err := env.orders.RequestWithdrawal(ctx, i, 50000)
			require.NoError(t, err)
			ids = append(ids, o.ID)
			continue
		}
		env.seedUser(t, i, 0)
		res, err := env.leases.Purchase(ctx, i, "common", model.PayTransfer)
		require.NoError(t, err)
		ids = append(ids, res.Order.ID)
	}

	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestListPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedUser(t, 1, 0)
	_, err := env.leases.Purchase(ctx, 1, "common", model.PayTransfer)
	require.NoError(t, err)
	seedWithdrawer(t, env, 2, 60000)
	_, err = env.orders.RequestWithdrawal(ctx, 2, 50000)
	require.NoError(t, err)

	machines, err := env.orders.ListPending(ctx, model.OrderKindMachine)
	require.NoError(t, err)
	require.Len(t, machines, 1)
	assert.Equal(t, int64(1), machines[0].UserID)

	withdrawals, err := env.orders.ListPending(ctx, model.OrderKindWithdrawal)
	require.NoError(t, err)
	require.Len(t, withdrawals, 1)
	assert.Equal(t, int64(2), withdrawals[0].UserID)
}
