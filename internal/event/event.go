// Package event defines the typed domain events the core emits for the
// messaging layer. The core never calls back into messaging directly: it
// publishes events on a Bus after releasing any user lock, and the bot
// layer subscribes to render them.
package event

import (
	"time"

	"wcoin-miner-bot/internal/model"
)

// BalanceChanged is emitted whenever a user's balance moves.
type BalanceChanged struct {
	UserID  int64
	Delta   int64
	Balance int64
	Reason  string // operation type, see model.OpType*
	Notify  bool   // whether the messaging layer should tell the user
}

// LeaseInstalled is emitted when a machine lease becomes active.
type LeaseInstalled struct {
	UserID     int64
	MachineKey string
	Method     model.PaymentMethod
	ExpiresAt  time.Time
}

// OrderCreated is emitted when a purchase or withdrawal order is queued.
type OrderCreated struct {
	Order model.Order
}

// ProofSubmitted is emitted when a machine order receives its payment proof
// and moves to the admin queue.
type ProofSubmitted struct {
	Order model.Order
}

// OrderResolved is emitted when an admin terminates an order.
type OrderResolved struct {
	Order    model.Order
	Decision model.Decision
	AdminID  int64
}

// ReferralCredited is emitted when a join bonus is paid out to both sides
// of a referral pair.
type ReferralCredited struct {
	NewUserID  int64
	ReferrerID int64
	Bonus      int64
}
