package service

import (
	"context"
	"fmt"
	"time"

	"wcoin-miner-bot/internal/machine"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/repository"
)

// Rule identifies a withdrawal eligibility rule. Rules are evaluated in a
// fixed order and evaluation short-circuits on the first failure.
type Rule string

const (
	// RuleMinBalance: balance must be at least the withdrawal floor.
	RuleMinBalance Rule = "min_balance"
	// RuleReferrals: the user must have referred enough people.
	RuleReferrals Rule = "referrals"
	// RuleEligibleLease: at least one unexpired lease whose machine counts
	// for withdrawal under the lease's payment method.
	RuleEligibleLease Rule = "eligible_lease"
)

// EligibilityEvaluator decides whether a user may withdraw.
//
// Order of evaluation: min balance first, then the admin skip override
// (which bypasses the remaining rules entirely), then referrals, then the
// eligible-lease rule.
type EligibilityEvaluator struct {
	users  repository.UserStore
	leases repository.LeaseStore

	minWithdraw       int64
	referralThreshold int64
}

// NewEligibilityEvaluator creates a new EligibilityEvaluator.
func NewEligibilityEvaluator(
	users repository.UserStore,
	leases repository.LeaseStore,
	minWithdraw int64,
	referralThreshold int64,
) *EligibilityEvaluator {
	return &EligibilityEvaluator{
		users:             users,
		leases:            leases,
		minWithdraw:       minWithdraw,
		referralThreshold: referralThreshold,
	}
}

// MinWithdraw returns the configured withdrawal floor.
func (e *EligibilityEvaluator) MinWithdraw() int64 {
	return e.minWithdraw
}

// CanWithdraw evaluates the rules for the user. On failure the failing rule
// is returned; on success the rule is empty.
func (e *EligibilityEvaluator) CanWithdraw(ctx context.Context, userID int64) (bool, Rule, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("failed to load user for eligibility: %w", err)
	}

	leases, err := e.leases.ListByUser(ctx, userID)
	if err != nil {
		return false, "", fmt.Errorf("failed to load leases for eligibility: %w", err)
	}

	allowed, rule := Evaluate(user, leases, e.minWithdraw, e.referralThreshold, time.Now())
	return allowed, rule, nil
}

// Evaluate is the pure rule evaluation over an already-loaded user record.
// Exposed so callers holding the user lock can evaluate without re-reading.
func Evaluate(user *model.User, leases []*model.Lease, minWithdraw, referralThreshold int64, now time.Time) (bool, Rule) {
	if user.Balance < minWithdraw {
		return false, RuleMinBalance
	}

	// The admin override bypasses everything after the balance floor.
	if user.SkipVerified {
		return true, ""
	}

	if user.Referrals < referralThreshold {
		return false, RuleReferrals
	}

	if !hasEligibleLease(leases, now) {
		return false, RuleEligibleLease
	}

	return true, ""
}

// hasEligibleLease reports whether any unexpired lease counts for
// withdrawal. The counting rule is per lease, not per catalog entry: a
// machine whose eligibility is conditional on payment method counts only
// for transfer-paid leases.
func hasEligibleLease(leases []*model.Lease, now time.Time) bool {
	for _, l := range leases {
		if l.Expired(now) {
			continue
		}
		m, err := machine.Lookup(l.MachineKey)
		if err != nil {
			continue
		}
		if m.CountsForWithdrawal(l.PaymentMethod) {
			return true
		}
	}
	return false
}
