package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wcoin-miner-bot/internal/event"
)

func TestCreditJoin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, 5000) // referrer
	env.seedUser(t, 11, 0)    // referred
	events := env.collectEvents()

	require.NoError(t, env.referrals.CreditJoin(ctx, 11, 10))

	assert.Equal(t, int64(testReferralBonus), env.balance(t, 11))
	assert.Equal(t, int64(5000+testReferralBonus), env.balance(t, 10))

	referrer, err := env.store.Users().GetByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), referrer.Referrals)

	var credited bool
	for _, ev := range *events {
		if c, ok := ev.(event.ReferralCredited); ok {
			credited = true
			assert.Equal(t, int64(11), c.NewUserID)
			assert.Equal(t, int64(10), c.ReferrerID)
		}
	}
	assert.True(t, credited)
}

func TestCreditJoinIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, 0)
	env.seedUser(t, 11, 0)

	require.NoError(t, env.referrals.CreditJoin(ctx, 11, 10))
	// Duplicate delivery of the join trigger changes nothing.
	require.NoError(t, env.referrals.CreditJoin(ctx, 11, 10))

	assert.Equal(t, int64(testReferralBonus), env.balance(t, 11))
	assert.Equal(t, int64(testReferralBonus), env.balance(t, 10))

	referrer, err := env.store.Users().GetByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), referrer.Referrals)
}

func TestCreditJoinSelfReferral(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, 11, 0)

	require.NoError(t, env.referrals.CreditJoin(context.Background(), 11, 11))
	assert.Equal(t, int64(0), env.balance(t, 11))
}

func TestCreditJoinUnknownReferrer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 11, 0)

	require.NoError(t, env.referrals.CreditJoin(ctx, 11, 999))
	assert.Equal(t, int64(0), env.balance(t, 11))

	// The one-shot flag was not burned: a later valid credit still works.
	env.seedUser(t, 10, 0)
	require.NoError(t, env.referrals.CreditJoin(ctx, 11, 10))
	assert.Equal(t, int64(testReferralBonus), env.balance(t, 11))
}

func TestCreditJoinCrossingPairs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedUser(t, 10, 0)
	env.seedUser(t, 11, 0)

	// Credits in both directions at once must not deadlock on the two
	// user locks.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, env.referrals.CreditJoin(ctx, 10, 11))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, env.referrals.CreditJoin(ctx, 11, 10))
	}()
	wg.Wait()

	// Each side got the bonus once as referred and once as referrer.
	assert.Equal(t, int64(2*testReferralBonus), env.balance(t, 10))
	assert.Equal(t, int64(2*testReferralBonus), env.balance(t, 11))
}
