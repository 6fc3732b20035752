package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/pkg/lock"
	"wcoin-miner-bot/internal/repository/memory"
)

// Economy parameters used by the service tests.
const (
	testJoinBonus     = 2000
	testReferralBonus = 3000
	testMinWithdraw   = 50000
	testReferralNeed  = 10

	testAdminID = int64(900001)
)

// testEnv wires the full service layer over the in-memory store.
type testEnv struct {
	store     *memory.Store
	bus       *event.Bus
	accounts  *AccountService
	leases    *LeaseService
	orders    *OrderService
	referrals *ReferralService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := memory.NewStore()
	bus := event.NewBus()
	locks := lock.NewUserLock()
	admins := NewAdminSet([]int64{testAdminID})

	elig := NewEligibilityEvaluator(store.Users(), store.Leases(), testMinWithdraw, testReferralNeed)
	leaseSvc := NewLeaseService(store.Users(), store.Leases(), store.Orders(), store.OpLog(), locks, bus)

	return &testEnv{
		store:  store,
		bus:    bus,
		leases: leaseSvc,
		accounts: NewAccountService(
			store.Users(), store.Leases(), store.Orders(), store.OpLog(),
			locks, bus, elig, admins, testJoinBonus),
		orders: NewOrderService(
			store.Users(), store.Leases(), store.Orders(), store.OpLog(),
			locks, bus, elig, leaseSvc, admins),
		referrals: NewReferralService(store.Users(), store.OpLog(), locks, bus, testReferralBonus),
	}
}

// seedUser creates a user with the given balance.
func (e *testEnv) seedUser(t *testing.T, id, balance int64) *model.User {
	t.Helper()
	u, err := e.store.Users().Create(context.Background(), id, fmt.Sprintf("user%d", id), balance)
	require.NoError(t, err)
	return u
}

// seedLease installs a lease directly, bypassing the purchase flow, so
// tests can control its timestamps.
func (e *testEnv) seedLease(t *testing.T, userID int64, key string, method model.PaymentMethod, lastClaim, expires time.Time) *model.Lease {
	t.Helper()
	l, err := e.store.Leases().Install(context.Background(), &model.Lease{
		UserID:        userID,
		MachineKey:    key,
		PaymentMethod: method,
		PurchasedAt:   lastClaim,
		ExpiresAt:     expires,
		LastClaimAt:   lastClaim,
	})
	require.NoError(t, err)
	return l
}

// collectEvents subscribes a recorder to the bus and returns the slice it
// appends to. Publication is synchronous, so reads after the call under
// test are safe.
func (e *testEnv) collectEvents() *[]any {
	var events []any
	e.bus.Subscribe(func(ev any) { events = append(events, ev) })
	return &events
}

// balance reads the user's current balance from the store.
func (e *testEnv) balance(t *testing.T, id int64) int64 {
	t.Helper()
	u, err := e.store.Users().GetByID(context.Background(), id)
	require.NoError(t, err)
	return u.Balance
}
