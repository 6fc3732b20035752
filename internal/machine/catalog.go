// Package machine provides the static machine catalog.
// Machine definitions are immutable: lookups have no side effects.
package machine

import (
	"errors"
	"time"

	"wcoin-miner-bot/internal/model"
)

// ErrUnknownMachine is returned for lookups of machine keys not in the catalog.
var ErrUnknownMachine = errors.New("unknown machine")

// Key identifies a machine type.
type Key string

const (
	KeyBasic   Key = "basic"
	KeyCommon  Key = "common"
	KeyEpic    Key = "epic"
	KeyPremium Key = "premium"
)

// WithdrawCounting describes whether an active lease of a machine type
// satisfies the withdrawal eligibility rule.
type WithdrawCounting string

const (
	CountsNever  WithdrawCounting = "never"
	CountsAlways WithdrawCounting = "always"
	// CountsTransferOnly: only a lease paid by external transfer counts.
	// A balance-paid lease of the same machine does not.
	CountsTransferOnly WithdrawCounting = "transfer_only"
)

// Fixed lease parameters shared by every machine type.
const (
	ClaimInterval = 12 * time.Hour
	LeaseDuration = 30 * 24 * time.Hour
)

// Type holds the configuration of a single machine type.
type Type struct {
	Key        Key
	Name       string
	FiatPrice  int64  // price in MMK for a transfer-paid purchase
	CoinPrice  *int64 // price in WCoin; nil means not payable from balance
	DailyYield int64  // WCoin per full day
	Counting   WithdrawCounting
}

func coins(v int64) *int64 { return &v }

// catalog contains all machine types.
var catalog = map[Key]Type{
	KeyBasic: {
		Key:        KeyBasic,
		Name:       "Basic",
		FiatPrice:  0,
		CoinPrice:  coins(0), // free starter machine
		DailyYield: 1500,
		Counting:   CountsNever,
	},
	KeyCommon: {
		Key:        KeyCommon,
		Name:       "Common",
		FiatPrice:  5000,
		DailyYield: 3000,
		Counting:   CountsAlways,
	},
	KeyEpic: {
		Key:        KeyEpic,
		Name:       "Epic",
		FiatPrice:  8000,
		DailyYield: 4500,
		Counting:   CountsAlways,
	},
	KeyPremium: {
		Key:        KeyPremium,
		Name:       "Premium",
		FiatPrice:  30000,
		CoinPrice:  coins(30000),
		DailyYield: 10000,
		Counting:   CountsTransferOnly,
	},
}

// displayOrder fixes the order machines are listed in.
var displayOrder = []Key{KeyBasic, KeyCommon, KeyEpic, KeyPremium}

// All returns all machine types in display order.
func All() []Type {
	out := make([]Type, 0, len(displayOrder))
	for _, k := range displayOrder {
		out = append(out, catalog[k])
	}
	return out
}

// Lookup returns the machine type for the given key.
// Returns ErrUnknownMachine for keys not in the catalog.
func Lookup(key string) (Type, error) {
	t, ok := catalog[Key(key)]
	if !ok {
		return Type{}, ErrUnknownMachine
	}
	return t, nil
}

// PayableFromBalance reports whether the machine can be bought by debiting
// the user's balance, without admin confirmation.
func (t Type) PayableFromBalance() bool {
	return t.CoinPrice != nil
}

// Price returns the price under the given payment method.
func (t Type) Price(method model.PaymentMethod) int64 {
	if method == model.PayBalance && t.CoinPrice != nil {
		return *t.CoinPrice
	}
	return t.FiatPrice
}

// CountsForWithdrawal reports whether a lease of this machine, acquired with
// the given payment method, satisfies the withdrawal machine rule.
func (t Type) CountsForWithdrawal(method model.PaymentMethod) bool {
	switch t.Counting {
	case CountsAlways:
		return true
	case CountsTransferOnly:
		return method == model.PayTransfer
	default:
		return false
	}
}
