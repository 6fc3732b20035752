package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/machine"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/pkg/lock"
	"wcoin-miner-bot/internal/repository"
)

// AdminSet is the set of Telegram ids allowed to run admin operations.
type AdminSet map[int64]struct{}

// NewAdminSet builds an AdminSet from a list of ids.
func NewAdminSet(ids []int64) AdminSet {
	s := make(AdminSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether the id is an admin.
func (a AdminSet) Contains(id int64) bool {
	_, ok := a[id]
	return ok
}

// UserRef identifies a user either by Telegram id or by username. Admin
// commands accept both forms.
type UserRef struct {
	id       int64
	username string
}

// RefByID builds a reference from a Telegram id.
func RefByID(id int64) UserRef { return UserRef{id: id} }

// RefByUsername builds a reference from a username, with or without the
// leading @.
func RefByUsername(name string) UserRef {
	return UserRef{username: strings.TrimPrefix(name, "@")}
}

// ParseUserRef parses a command argument into a UserRef. A purely numeric
// argument is treated as a Telegram id, anything else as a username.
func ParseUserRef(arg string) (UserRef, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return UserRef{}, ErrInvalidUserRef
	}
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil && id > 0 {
		return RefByID(id), nil
	}
	name := strings.TrimPrefix(arg, "@")
	if name == "" {
		return UserRef{}, ErrInvalidUserRef
	}
	return RefByUsername(name), nil
}

// LeaseView is an active lease decorated with its catalog entry and the
// yield state a user cares about.
type LeaseView struct {
	Lease   *model.Lease
	Machine machine.Type
	// PendingYield is the amount a claim would pay right now.
	PendingYield int64
	// ClaimableIn is the time until the next claim is allowed; zero when a
	// claim is allowed already.
	ClaimableIn time.Duration
}

// AccountView is a consistent snapshot of everything the account screen
// shows.
type AccountView struct {
	User *model.User
	// Leases holds the active (unexpired) leases only.
	Leases []LeaseView
	// PendingOrder is the user's open order, nil when there is none.
	PendingOrder *model.Order
	CanWithdraw  bool
	// FailingRule is the first failed withdrawal rule; empty when
	// CanWithdraw is true.
	FailingRule Rule
	// DailyIncome is the summed daily yield of the active leases.
	DailyIncome int64
}

// AccountService implements onboarding, account snapshots and the admin
// account operations.
type AccountService struct {
	users       repository.UserStore
	leases      repository.LeaseStore
	orders      repository.OrderStore
	ops         repository.OpLog
	locks       *lock.UserLock
	bus         *event.Bus
	eligibility *EligibilityEvaluator
	admins      AdminSet
	joinBonus   int64
}

// NewAccountService creates a new AccountService.
func NewAccountService(
	users repository.UserStore,
	leases repository.LeaseStore,
	orders repository.OrderStore,
	ops repository.OpLog,
	locks *lock.UserLock,
	bus *event.Bus,
	eligibility *EligibilityEvaluator,
	admins AdminSet,
	joinBonus int64,
) *AccountService {
	return &AccountService{
		users:       users,
		leases:      leases,
		orders:      orders,
		ops:         ops,
		locks:       locks,
		bus:         bus,
		eligibility: eligibility,
		admins:      admins,
		joinBonus:   joinBonus,
	}
}

// IsAdmin reports whether the id may run admin operations.
func (s *AccountService) IsAdmin(id int64) bool {
	return s.admins.Contains(id)
}

// Join registers a user on first contact, paying the one-time join bonus,
// and returns the account. On repeat contact it refreshes the stored
// username and changes nothing else. When referrerID is set on first
// contact it is recorded for the later referral credit; a self-referral is
// ignored.
func (s *AccountService) Join(ctx context.Context, telegramID int64, username string, referrerID *int64) (*model.User, bool, error) {
	var (
		user    *model.User
		created bool
	)

	err := s.locks.WithLock(telegramID, func() error {
		var err error
		user, created, err = s.users.GetOrCreate(ctx, telegramID, username, s.joinBonus)
		if err != nil {
			return fmt.Errorf("failed to get or create user: %w", err)
		}

		if !created {
			if username != "" && username != user.Username {
				if err := s.users.UpdateUsername(ctx, telegramID, username); err != nil {
					return fmt.Errorf("failed to update username: %w", err)
				}
				user.Username = username
			}
			return nil
		}

		if s.joinBonus > 0 {
			_ = s.ops.Record(ctx, telegramID, s.joinBonus, model.OpTypeJoinBonus, nil)
		}

		if referrerID != nil && *referrerID != telegramID {
			if err := s.users.SetReferredBy(ctx, telegramID, *referrerID); err != nil {
				return fmt.Errorf("failed to set referrer: %w", err)
			}
			user.ReferredBy = referrerID
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created && s.joinBonus > 0 {
		s.bus.Publish(event.BalanceChanged{
			UserID: telegramID, Delta: s.joinBonus, Balance: user.Balance,
			Reason: model.OpTypeJoinBonus,
		})
	}
	return user, created, nil
}

// Snapshot assembles the account view: active leases with their yield
// state, the open order if any, and the withdrawal eligibility verdict.
func (s *AccountService) Snapshot(ctx context.Context, userID int64) (*AccountView, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	leases, err := s.leases.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load leases: %w", err)
	}

	now := time.Now()
	view := &AccountView{User: user}
	for _, l := range leases {
		if l.Expired(now) {
			continue
		}
		m, err := machine.Lookup(l.MachineKey)
		if err != nil {
			continue
		}
		view.Leases = append(view.Leases, LeaseView{
			Lease:        l,
			Machine:      m,
			PendingYield: accruedYield(l, m, now),
			ClaimableIn:  cooldownRemaining(l, now),
		})
		view.DailyIncome += m.DailyYield
	}

	order, err := s.orders.GetByUser(ctx, userID)
	switch {
	case err == nil:
		view.PendingOrder = order
	case errors.Is(err, repository.ErrOrderNotFound):
	default:
		return nil, fmt.Errorf("failed to load pending order: %w", err)
	}

	view.CanWithdraw, view.FailingRule = Evaluate(
		user, leases, s.eligibility.minWithdraw, s.eligibility.referralThreshold, now)

	return view, nil
}

// Resolve loads the user a reference points at.
func (s *AccountService) Resolve(ctx context.Context, ref UserRef) (*model.User, error) {
	switch {
	case ref.id != 0:
		return s.users.GetByID(ctx, ref.id)
	case ref.username != "":
		return s.users.GetByUsername(ctx, ref.username)
	default:
		return nil, ErrInvalidUserRef
	}
}

// SetWithdrawAccount stores the user's payout account.
func (s *AccountService) SetWithdrawAccount(ctx context.Context, userID int64, account string) error {
	account = strings.TrimSpace(account)
	if account == "" {
		return ErrWithdrawAccountMissing
	}
	if err := s.users.SetWithdrawAccount(ctx, userID, account); err != nil {
		return fmt.Errorf("failed to set withdraw account: %w", err)
	}
	return nil
}

// AdminAdjustBalance moves a user's balance by amount (positive or
// negative) on behalf of an admin. A deduction larger than the current
// balance fails with ErrInsufficientBalance; balances never go negative.
// When notify is set the messaging layer tells the user about the change.
func (s *AccountService) AdminAdjustBalance(ctx context.Context, adminID int64, ref UserRef, amount int64, notify bool) (*model.User, error) {
	if !s.admins.Contains(adminID) {
		return nil, ErrNotAdmin
	}
	if amount == 0 {
		return nil, ErrInvalidAmount
	}

	target, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	var user *model.User
	err = s.locks.WithLock(target.TelegramID, func() error {
		current, err := s.users.GetByID(ctx, target.TelegramID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if current.Balance+amount < 0 {
			return ErrInsufficientBalance
		}

		user, err = s.users.UpdateBalance(ctx, target.TelegramID, amount)
		if err != nil {
			return fmt.Errorf("failed to adjust balance: %w", err)
		}
		note := fmt.Sprintf("by admin %d", adminID)
		_ = s.ops.Record(ctx, target.TelegramID, amount, model.OpTypeAdminAdjust, &note)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(event.BalanceChanged{
		UserID: user.TelegramID, Delta: amount, Balance: user.Balance,
		Reason: model.OpTypeAdminAdjust, Notify: notify,
	})
	return user, nil
}

// AdminSetSkip marks a user as verification-exempt for withdrawals.
func (s *AccountService) AdminSetSkip(ctx context.Context, adminID int64, ref UserRef) (*model.User, error) {
	if !s.admins.Contains(adminID) {
		return nil, ErrNotAdmin
	}

	target, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetSkipVerified(ctx, target.TelegramID); err != nil {
		return nil, fmt.Errorf("failed to set skip flag: %w", err)
	}
	target.SkipVerified = true
	return target, nil
}

// Operations returns the user's most recent balance operations, newest
// first.
func (s *AccountService) Operations(ctx context.Context, userID int64, limit int) ([]*model.Operation, error) {
	return s.ops.ListByUser(ctx, userID, limit)
}

// TopByBalance returns the richest users.
func (s *AccountService) TopByBalance(ctx context.Context, limit int) ([]*model.User, error) {
	return s.users.TopByBalance(ctx, limit)
}

// TopByReferrals returns the users with the most referrals.
func (s *AccountService) TopByReferrals(ctx context.Context, limit int) ([]*model.User, error) {
	return s.users.TopByReferrals(ctx, limit)
}

// UserCount returns the total number of registered users.
func (s *AccountService) UserCount(ctx context.Context) (int64, error) {
	return s.users.Count(ctx)
}

// MachineOwners returns the users currently holding an active lease of the
// machine.
func (s *AccountService) MachineOwners(ctx context.Context, machineKey string) ([]*model.User, error) {
	if _, err := machine.Lookup(machineKey); err != nil {
		return nil, err
	}
	return s.leases.ActiveOwners(ctx, machineKey, time.Now())
}
