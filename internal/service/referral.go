package service

import (
	"context"
	"errors"
	"fmt"

	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/metrics"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/pkg/lock"
	"wcoin-miner-bot/internal/repository"
)

// ReferralService pays the one-time join bonus to both sides of a referral
// pair once the referred user completes onboarding.
type ReferralService struct {
	users repository.UserStore
	ops   repository.OpLog
	locks *lock.UserLock
	bus   *event.Bus
	bonus int64
}

// NewReferralService creates a new ReferralService.
func NewReferralService(
	users repository.UserStore,
	ops repository.OpLog,
	locks *lock.UserLock,
	bus *event.Bus,
	bonus int64,
) *ReferralService {
	return &ReferralService{
		users: users,
		ops:   ops,
		locks: locks,
		bus:   bus,
		bonus: bonus,
	}
}

// CreditJoin credits the join bonus to newUserID and referrerID, increments
// the referrer's referral count and sets the one-shot credited flag.
//
// It is a silent no-op when the referrer does not exist, refers to the new
// user itself, or the bonus was already credited — replays caused by
// duplicate delivery of the "user joined" trigger change nothing.
func (s *ReferralService) CreditJoin(ctx context.Context, newUserID, referrerID int64) error {
	if referrerID == newUserID {
		return nil
	}

	var (
		credited bool
		newBal   int64
		refBal   int64
	)

	// Both accounts mutate, so both locks are held; id order prevents
	// deadlock between crossing credits.
	first, second := newUserID, referrerID
	if second < first {
		first, second = second, first
	}

	err := s.locks.WithLock(first, func() error {
		return s.locks.WithLock(second, func() error {
			if _, err := s.users.GetByID(ctx, referrerID); err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					return nil
				}
				return fmt.Errorf("failed to load referrer: %w", err)
			}

			ok, err := s.users.CreditReferral(ctx, newUserID, s.bonus)
			if err != nil {
				return fmt.Errorf("failed to credit referred user: %w", err)
			}
			if !ok {
				// Already credited, nothing else to do.
				return nil
			}

			referrer, err := s.users.AddReferral(ctx, referrerID, s.bonus)
			if err != nil {
				return fmt.Errorf("failed to credit referrer: %w", err)
			}

			user, err := s.users.GetByID(ctx, newUserID)
			if err != nil {
				return fmt.Errorf("failed to reload referred user: %w", err)
			}

			note := fmt.Sprintf("referral pair %d -> %d", referrerID, newUserID)
			_ = s.ops.Record(ctx, newUserID, s.bonus, model.OpTypeReferralBonus, &note)
			_ = s.ops.Record(ctx, referrerID, s.bonus, model.OpTypeReferralBonus, &note)

			credited = true
			newBal = user.Balance
			refBal = referrer.Balance
			return nil
		})
	})
	if err != nil {
		return err
	}
	if !credited {
		return nil
	}

	metrics.ObserveReferralCredit()
	s.bus.Publish(event.ReferralCredited{
		NewUserID:  newUserID,
		ReferrerID: referrerID,
		Bonus:      s.bonus,
	})
	s.bus.Publish(event.BalanceChanged{
		UserID: newUserID, Delta: s.bonus, Balance: newBal,
		Reason: model.OpTypeReferralBonus,
	})
	s.bus.Publish(event.BalanceChanged{
		UserID: referrerID, Delta: s.bonus, Balance: refBal,
		Reason: model.OpTypeReferralBonus, Notify: true,
	})
	return nil
}
