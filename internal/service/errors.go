// Package service implements the economy and lease engine: referral
// crediting, the machine-lease lifecycle, the pending-order queues and the
// withdrawal eligibility rules. All operations are synchronous and atomic:
// no partial mutation is observable on failure.
package service

import (
	"errors"
	"fmt"
	"time"
)

// Validation and state errors shared across the services.
var (
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
	ErrInvalidUserRef      = errors.New("invalid user reference")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotAdmin            = errors.New("admin permission required")

	// ErrOrderPending: the user already holds an open order.
	ErrOrderPending = errors.New("order already pending")
	// ErrDuplicateLease: the user already holds an unexpired lease of the
	// same machine type.
	ErrDuplicateLease = errors.New("active lease of this machine already held")
	// ErrLeaseExpired: the lease has lapsed and no longer yields.
	ErrLeaseExpired = errors.New("lease expired")
	// ErrOrderNotResolvable: the order is not in a state the requested
	// transition accepts.
	ErrOrderNotResolvable = errors.New("order not in a resolvable state")
	// ErrProofIncomplete: proof submission needs both the transfer
	// reference and the receipt.
	ErrProofIncomplete = errors.New("transfer reference and receipt are both required")
	// ErrNotPayableFromBalance: the machine has no WCoin price.
	ErrNotPayableFromBalance = errors.New("machine cannot be paid from balance")
	// ErrWithdrawAccountMissing: the user has not set a payout account.
	ErrWithdrawAccountMissing = errors.New("withdraw account not set")
	// ErrBelowMinWithdraw: requested amount is under the withdrawal floor.
	ErrBelowMinWithdraw = errors.New("amount below minimum withdrawal")
)

// CooldownError is returned by Claim while the claim interval has not
// elapsed. Remaining is how long until the next claim is allowed.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("claim on cooldown: %s remaining", e.Remaining.Round(time.Second))
}

// EligibilityError is returned when a withdrawal request fails one of the
// ordered eligibility rules.
type EligibilityError struct {
	Rule Rule
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("withdrawal not allowed: rule %q failed", e.Rule)
}
