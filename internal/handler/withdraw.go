package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wcoin-miner-bot/internal/chatstate"
	"wcoin-miner-bot/internal/service"
)

// WithdrawHandler handles the payout account and withdrawal request flows.
type WithdrawHandler struct {
	accounts *service.AccountService
	orders   *service.OrderService
	chat     *chatstate.Store
	// minWithdraw is shown in prompts.
	minWithdraw int64
}

// NewWithdrawHandler creates a new WithdrawHandler.
func NewWithdrawHandler(accounts *service.AccountService, orders *service.OrderService, chat *chatstate.Store, minWithdraw int64) *WithdrawHandler {
	return &WithdrawHandler{
		accounts:    accounts,
		orders:      orders,
		chat:        chat,
		minWithdraw: minWithdraw,
	}
}

// HandleSetAccount handles /setaccount: starts the payout-account flow.
func (h *WithdrawHandler) HandleSetAccount(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if err := h.chat.Set(ctx, sender.ID, chatstate.State{Step: chatstate.StepAwaitWithdrawAccount}); err != nil {
		return c.Reply(errorMessage(err))
	}
	return c.Reply("🏦 Send your payout account (phone number for the money transfer)")
}

// HandleWithdraw handles /withdraw: prompts for the account if missing,
// otherwise for the amount.
func (h *WithdrawHandler) HandleWithdraw(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	view, err := h.accounts.Snapshot(ctx, sender.ID)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	if !view.CanWithdraw {
		return c.Reply("🔒 Withdrawal locked: " + ruleHint(view.FailingRule))
	}
	if view.PendingOrder != nil {
		return c.Reply(errorMessage(service.ErrOrderPending))
	}

	if view.User.WithdrawAccount == nil || *view.User.WithdrawAccount == "" {
		return h.HandleSetAccount(c)
	}

	if err := h.chat.Set(ctx, sender.ID, chatstate.State{Step: chatstate.StepAwaitWithdrawAmount}); err != nil {
		return c.Reply(errorMessage(err))
	}
	return c.Reply(fmt.Sprintf(
		"💸 Balance: %d WCoin\nPayout to: %s\n\nHow much do you want to withdraw? (minimum %d)",
		view.User.Balance, *view.User.WithdrawAccount, h.minWithdraw))
}

// HandleFlowText consumes the text steps of the withdrawal flow.
func (h *WithdrawHandler) HandleFlowText(c tele.Context, st chatstate.State) error {
	switch st.Step {
	case chatstate.StepAwaitWithdrawAccount:
		return h.consumeAccount(c)
	case chatstate.StepAwaitWithdrawAmount:
		return h.consumeAmount(c)
	}
	return nil
}

func (h *WithdrawHandler) consumeAccount(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if err := h.accounts.SetWithdrawAccount(ctx, sender.ID, c.Text()); err != nil {
		return c.Reply(errorMessage(err))
	}
	if err := h.chat.Clear(ctx, sender.ID); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to clear chat state")
	}
	return c.Reply("✅ Payout account saved. Send /withdraw to request a withdrawal")
}

func (h *WithdrawHandler) consumeAmount(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(c.Text()), 10, 64)
	if err != nil {
		return c.Reply("❌ Please enter the amount as a number")
	}

	order, err := h.orders.RequestWithdrawal(ctx, sender.ID, amount)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	if err := h.chat.Clear(ctx, sender.ID); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to clear chat state")
	}

	return c.Reply(fmt.Sprintf(
		"✅ Withdrawal #%d for %d WCoin submitted.\n"+
			"The amount has been reserved from your balance. "+
			"You will be notified once an admin processes it.",
		order.ID, order.Amount))
}
