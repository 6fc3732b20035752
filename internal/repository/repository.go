// Package repository provides the data access layer.
//
// The stores are defined as interfaces keyed by user id and order id; the
// Postgres implementations live in this package and an in-memory
// implementation (used by unit tests) lives in repository/memory.
package repository

import (
	"context"
	"errors"
	"time"

	"wcoin-miner-bot/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrLeaseNotFound = errors.New("lease not found")
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderConflict: the user already holds an open order.
	ErrOrderConflict = errors.New("user already has an open order")
)

// UserStore persists user accounts.
type UserStore interface {
	Create(ctx context.Context, telegramID int64, username string, initialBalance int64) (*model.User, error)
	GetByID(ctx context.Context, telegramID int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetOrCreate(ctx context.Context, telegramID int64, username string, initialBalance int64) (*model.User, bool, error)
	UpdateUsername(ctx context.Context, telegramID int64, username string) error
	// UpdateBalance adds delta (possibly negative) and returns the updated user.
	UpdateBalance(ctx context.Context, telegramID int64, delta int64) (*model.User, error)
	SetReferredBy(ctx context.Context, telegramID, referrerID int64) error
	// CreditReferral credits the join bonus to the referred user and sets the
	// one-shot referral_credited flag. Returns false without mutating anything
	// if the flag was already set.
	CreditReferral(ctx context.Context, telegramID int64, bonus int64) (bool, error)
	// AddReferral credits the referrer's bonus and increments their referral count.
	AddReferral(ctx context.Context, referrerID int64, bonus int64) (*model.User, error)
	SetWithdrawAccount(ctx context.Context, telegramID int64, account string) error
	SetSkipVerified(ctx context.Context, telegramID int64) error
	TopByBalance(ctx context.Context, limit int) ([]*model.User, error)
	TopByReferrals(ctx context.Context, limit int) ([]*model.User, error)
	Count(ctx context.Context) (int64, error)
}

// LeaseStore persists machine leases. Expired leases are never deleted;
// expiration is evaluated lazily by readers.
type LeaseStore interface {
	Install(ctx context.Context, lease *model.Lease) (*model.Lease, error)
	// LatestByUserAndMachine returns the lease with the latest expiry for the
	// (user, machine) pair, expired or not.
	LatestByUserAndMachine(ctx context.Context, userID int64, machineKey string) (*model.Lease, error)
	ListByUser(ctx context.Context, userID int64) ([]*model.Lease, error)
	UpdateLastClaim(ctx context.Context, leaseID int64, at time.Time) error
	// ActiveOwners returns the users holding an unexpired lease of the machine.
	ActiveOwners(ctx context.Context, machineKey string, now time.Time) ([]*model.User, error)
}

// OrderStore persists pending orders. Order ids are allocated from a single
// monotonically increasing sequence shared by both order kinds; a terminal
// decision removes the row, so the set always equals the pending queues.
type OrderStore interface {
	Create(ctx context.Context, o *model.Order) (*model.Order, error)
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	// GetByUser returns the user's open order, or ErrOrderNotFound.
	GetByUser(ctx context.Context, userID int64) (*model.Order, error)
	SetProof(ctx context.Context, id int64, transferNo, receiptRef string, status model.OrderStatus) error
	// ListPending returns open orders of the kind in creation order.
	ListPending(ctx context.Context, kind model.OrderKind) ([]*model.Order, error)
	Delete(ctx context.Context, id int64) error
}

// OpLog records every balance mutation with a type tag.
type OpLog interface {
	Record(ctx context.Context, userID, amount int64, opType string, note *string) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]*model.Operation, error)
}
