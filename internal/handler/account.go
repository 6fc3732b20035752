// Package handler provides Telegram bot command handlers.
package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"wcoin-miner-bot/internal/service"
)

// AccountHandler handles onboarding and account commands.
type AccountHandler struct {
	accounts  *service.AccountService
	referrals *service.ReferralService
	// botName is the bot's @username, used to build invite links.
	botName string
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accounts *service.AccountService, referrals *service.ReferralService, botName string) *AccountHandler {
	return &AccountHandler{
		accounts:  accounts,
		referrals: referrals,
		botName:   botName,
	}
}

func senderName(sender *tele.User) string {
	if sender.Username != "" {
		return sender.Username
	}
	return sender.FirstName
}

// HandleStart handles /start, including referral deep links
// (t.me/<bot>?start=<referrer id>).
func (h *AccountHandler) HandleStart(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	var referrerID *int64
	if msg := c.Message(); msg != nil && msg.Payload != "" {
		if id, err := strconv.ParseInt(strings.TrimSpace(msg.Payload), 10, 64); err == nil && id > 0 {
			referrerID = &id
		}
	}

	user, created, err := h.accounts.Join(ctx, sender.ID, senderName(sender), referrerID)
	if err != nil {
		return c.Reply("❌ Failed to set up your account, please try again later")
	}

	if created && user.ReferredBy != nil {
		// Credit is idempotent, a failure here resolves on the next /start.
		_ = h.referrals.CreditJoin(ctx, sender.ID, *user.ReferredBy)
	}

	if created {
		return c.Reply(fmt.Sprintf(
			"🎉 Welcome, %s!\n\n"+
				"Your account is ready with %d WCoin.\n\n"+
				"Commands:\n"+
				"/account - your balance and machines\n"+
				"/machines - buy mining machines\n"+
				"/withdraw - request a withdrawal\n"+
				"/invite - your invite link\n"+
				"/history - recent operations",
			user.Username, user.Balance,
		))
	}

	return c.Reply(fmt.Sprintf(
		"👋 Welcome back, %s!\n\nBalance: %d WCoin",
		user.Username, user.Balance,
	))
}

// HandleAccount handles /account: balance, leases, pending order and
// withdrawal status in one snapshot, with claim buttons per active lease.
func (h *AccountHandler) HandleAccount(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	view, err := h.accounts.Snapshot(ctx, sender.ID)
	if err != nil {
		return c.Reply("❌ Failed to load your account, send /start first")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Account\n━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&sb, "💰 Balance: %d WCoin\n", view.User.Balance)
	fmt.Fprintf(&sb, "👥 Referrals: %d\n", view.User.Referrals)
	if view.User.WithdrawAccount != nil {
		fmt.Fprintf(&sb, "🏦 Payout account: %s\n", *view.User.WithdrawAccount)
	}
	fmt.Fprintf(&sb, "⚡ Daily income: %d WCoin\n", view.DailyIncome)

	markup := &tele.ReplyMarkup{}
	var rows []tele.Row
	if len(view.Leases) == 0 {
		sb.WriteString("\n⛏ No active machines. See /machines to get one.\n")
	} else {
		sb.WriteString("\n⛏ Machines:\n")
		for _, lv := range view.Leases {
			fmt.Fprintf(&sb, "• %s — %d/day, expires %s",
				lv.Machine.Name, lv.Machine.DailyYield,
				lv.Lease.ExpiresAt.Format("2006-01-02"))
			if lv.ClaimableIn > 0 {
				fmt.Fprintf(&sb, " (next claim in %s)\n", lv.ClaimableIn.Round(time.Minute))
				continue
			}
			fmt.Fprintf(&sb, " (💎 %d ready)\n", lv.PendingYield)
			rows = append(rows, markup.Row(
				markup.Data(fmt.Sprintf("⛏ Claim %s (+%d)", lv.Machine.Name, lv.PendingYield),
					claimUnique(lv.Machine.Key))))
		}
	}

	if view.PendingOrder != nil {
		fmt.Fprintf(&sb, "\n⏳ Pending order #%d (%s)\n",
			view.PendingOrder.ID, view.PendingOrder.Kind)
	}

	if view.CanWithdraw {
		sb.WriteString("\n✅ You can withdraw. Send /withdraw")
	} else {
		fmt.Fprintf(&sb, "\n🔒 Withdrawal locked: %s", ruleHint(view.FailingRule))
	}

	if len(rows) == 0 {
		return c.Reply(sb.String())
	}
	markup.Inline(rows...)
	return c.Reply(sb.String(), markup)
}

func ruleHint(rule service.Rule) string {
	switch rule {
	case service.RuleMinBalance:
		return "balance is below the minimum withdrawal amount"
	case service.RuleReferrals:
		return "not enough referrals yet, share your /invite link"
	case service.RuleEligibleLease:
		return "you need an active machine that qualifies for withdrawal"
	default:
		return "requirements not met"
	}
}

// HandleInvite handles /invite.
func (h *AccountHandler) HandleInvite(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}
	return c.Reply(fmt.Sprintf(
		"🔗 Your invite link:\nhttps://t.me/%s?start=%d\n\n"+
			"You and each friend who joins get a bonus!",
		h.botName, sender.ID,
	))
}

// HandleHistory handles /history: the most recent balance operations.
func (h *AccountHandler) HandleHistory(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	ops, err := h.accounts.Operations(ctx, sender.ID, 15)
	if err != nil || len(ops) == 0 {
		return c.Reply("📒 No operations yet")
	}

	var sb strings.Builder
	sb.WriteString("📒 Recent operations:\n")
	for _, op := range ops {
		fmt.Fprintf(&sb, "%s  %+d  %s\n",
			op.CreatedAt.Format("01-02 15:04"), op.Amount, op.Type)
	}
	return c.Reply(sb.String())
}
