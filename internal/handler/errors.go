package handler

import (
	"errors"
	"fmt"
	"time"

	"wcoin-miner-bot/internal/machine"
	"wcoin-miner-bot/internal/repository"
	"wcoin-miner-bot/internal/service"
)

// errorMessage maps service errors to user-facing replies.
func errorMessage(err error) string {
	var cooldown *service.CooldownError
	var elig *service.EligibilityError
	switch {
	case errors.As(err, &cooldown):
		return fmt.Sprintf("⏳ Next claim in %s", cooldown.Remaining.Round(time.Minute))
	case errors.As(err, &elig):
		return "🔒 Withdrawal locked: " + ruleHint(elig.Rule)
	case errors.Is(err, service.ErrInsufficientBalance):
		return "❌ Not enough WCoin"
	case errors.Is(err, service.ErrDuplicateLease):
		return "❌ You already have an active machine of this type"
	case errors.Is(err, service.ErrOrderPending):
		return "⏳ You have a pending order. Finish it or send /cancel first"
	case errors.Is(err, service.ErrNotPayableFromBalance):
		return "❌ This machine can only be bought by money transfer"
	case errors.Is(err, service.ErrLeaseExpired):
		return "⌛ This machine's lease has expired. Buy it again from /machines"
	case errors.Is(err, service.ErrBelowMinWithdraw):
		return "❌ Amount is below the minimum withdrawal"
	case errors.Is(err, service.ErrWithdrawAccountMissing):
		return "🏦 Set your payout account first with /setaccount"
	case errors.Is(err, service.ErrInvalidAmount):
		return "❌ Please enter a valid positive amount"
	case errors.Is(err, service.ErrProofIncomplete):
		return "❌ Both the transfer number and the receipt are required"
	case errors.Is(err, service.ErrOrderNotResolvable):
		return "❌ The order is not in a state that allows this"
	case errors.Is(err, repository.ErrLeaseNotFound):
		return "❌ You don't own this machine"
	case errors.Is(err, repository.ErrOrderNotFound):
		return "❌ No pending order"
	case errors.Is(err, repository.ErrUserNotFound):
		return "❌ Account not found, send /start first"
	case errors.Is(err, machine.ErrUnknownMachine):
		return "❌ Unknown machine"
	default:
		return "❌ Something went wrong, please try again later"
	}
}
