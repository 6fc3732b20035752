// Package model defines the data models for the WCoin miner bot.
package model

import "time"

// User represents a Telegram user account in the economy.
type User struct {
	TelegramID       int64     `db:"telegram_id"`
	Username         string    `db:"username"`
	Balance          int64     `db:"balance"`
	Referrals        int64     `db:"referrals"`
	ReferredBy       *int64    `db:"referred_by"`
	ReferralCredited bool      `db:"referral_credited"`
	WithdrawAccount  *string   `db:"withdraw_account"`
	SkipVerified     bool      `db:"skip_verified"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// PaymentMethod distinguishes how a machine lease was paid for.
type PaymentMethod string

const (
	// PayBalance debits the user's WCoin balance directly.
	PayBalance PaymentMethod = "balance"
	// PayTransfer is an external money transfer confirmed by an admin.
	PayTransfer PaymentMethod = "transfer"
)

// Lease is a time-bounded right to earn yield from a purchased machine.
type Lease struct {
	ID            int64         `db:"id"`
	UserID        int64         `db:"user_id"`
	MachineKey    string        `db:"machine_key"`
	PaymentMethod PaymentMethod `db:"payment_method"`
	PurchasedAt   time.Time     `db:"purchased_at"`
	ExpiresAt     time.Time     `db:"expires_at"`
	LastClaimAt   time.Time     `db:"last_claim_at"`
}

// Expired reports whether the lease has lapsed at the given instant.
// A lease is expired from the exact moment now == ExpiresAt.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// OrderKind is the type of an asynchronous admin-resolved request.
type OrderKind string

const (
	OrderKindMachine    OrderKind = "machine_purchase"
	OrderKindWithdrawal OrderKind = "withdrawal"
)

// OrderStatus tracks an order through its pending states. Terminal orders
// (confirmed or rejected) are removed from storage, so no terminal status
// is ever persisted.
type OrderStatus string

const (
	// OrderAwaitingProof: a transfer-paid purchase waiting for the buyer's
	// transfer reference and receipt.
	OrderAwaitingProof OrderStatus = "awaiting_proof"
	// OrderAwaitingAdmin: ready for admin resolution. Withdrawal orders are
	// created directly in this state.
	OrderAwaitingAdmin OrderStatus = "awaiting_admin"
)

// Decision is an admin's terminal resolution of an order.
type Decision string

const (
	DecisionConfirm Decision = "confirm"
	DecisionReject  Decision = "reject"
)

// Order is a pending machine purchase or withdrawal awaiting admin resolution.
// A user holds at most one open order at a time.
type Order struct {
	ID     int64       `db:"id"`
	UserID int64       `db:"user_id"`
	Kind   OrderKind   `db:"kind"`
	Status OrderStatus `db:"status"`

	// Machine purchase payload.
	MachineKey    string        `db:"machine_key"`
	PaymentMethod PaymentMethod `db:"payment_method"`
	TransferNo    string        `db:"transfer_no"`
	ReceiptRef    string        `db:"receipt_ref"`

	// Withdrawal payload.
	Amount  int64  `db:"amount"`
	Account string `db:"account"`

	CreatedAt time.Time `db:"created_at"`
}

// Operation is a single entry in the per-user balance operation log.
type Operation struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Amount    int64     `db:"amount"`
	Type      string    `db:"type"`
	Note      *string   `db:"note"`
	CreatedAt time.Time `db:"created_at"`
}

// Operation types for categorizing balance changes.
const (
	OpTypeJoinBonus       = "join_bonus"       // One-time bonus on first contact
	OpTypeReferralBonus   = "referral_bonus"   // Referral credit, either side
	OpTypeClaim           = "claim"            // Machine yield claim
	OpTypeMachinePurchase = "machine_purchase" // Balance-paid machine purchase
	OpTypeWithdrawReserve = "withdraw_reserve" // Balance reserved for a withdrawal order
	OpTypeAdminAdjust     = "admin_adjust"     // Manual admin balance adjustment
)
