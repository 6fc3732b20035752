package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wcoin-miner-bot/internal/chatstate"
	"wcoin-miner-bot/internal/machine"
	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/service"
)

// Callback uniques for the machine flow. The claim buttons also appear on
// the /account view.
const (
	cbBuyPrefix    = "buy_"
	cbPayBalPrefix = "paybal_"
	cbPayTrfPrefix = "paytrf_"
	cbClaimPrefix  = "claim_"
)

func claimUnique(key machine.Key) string { return cbClaimPrefix + string(key) }

// MachineHandler handles the machine catalog, purchases, payment proof and
// yield claims.
type MachineHandler struct {
	leases *service.LeaseService
	chat   *chatstate.Store
}

// NewMachineHandler creates a new MachineHandler.
func NewMachineHandler(leases *service.LeaseService, chat *chatstate.Store) *MachineHandler {
	return &MachineHandler{leases: leases, chat: chat}
}

// HandleMachines handles /machines: the catalog with buy buttons.
func (h *MachineHandler) HandleMachines(c tele.Context) error {
	var sb strings.Builder
	sb.WriteString("⛏ Mining machines\n━━━━━━━━━━━━━━━\n")

	markup := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, m := range machine.All() {
		fmt.Fprintf(&sb, "\n%s — %d WCoin/day, 30-day lease\n", m.Name, m.DailyYield)
		switch {
		case m.CoinPrice != nil && *m.CoinPrice == 0:
			sb.WriteString("Price: free\n")
		case m.CoinPrice != nil && m.FiatPrice > 0:
			fmt.Fprintf(&sb, "Price: %d WCoin or %d MMK by transfer\n", *m.CoinPrice, m.FiatPrice)
		case m.CoinPrice != nil:
			fmt.Fprintf(&sb, "Price: %d WCoin\n", *m.CoinPrice)
		default:
			fmt.Fprintf(&sb, "Price: %d MMK by transfer\n", m.FiatPrice)
		}
		rows = append(rows, markup.Row(markup.Data("🛒 Buy "+m.Name, cbBuyPrefix+string(m.Key))))
	}
	markup.Inline(rows...)
	return c.Reply(sb.String(), markup)
}

// HandleCallback routes machine-flow callbacks. data is the callback data
// with the telebot \f prefix already stripped.
func (h *MachineHandler) HandleCallback(c tele.Context, data string) error {
	switch {
	case strings.HasPrefix(data, cbBuyPrefix):
		return h.handleBuy(c, strings.TrimPrefix(data, cbBuyPrefix))
	case strings.HasPrefix(data, cbPayBalPrefix):
		return h.buyFromBalance(c, strings.TrimPrefix(data, cbPayBalPrefix))
	case strings.HasPrefix(data, cbPayTrfPrefix):
		return h.buyByTransfer(c, strings.TrimPrefix(data, cbPayTrfPrefix))
	case strings.HasPrefix(data, cbClaimPrefix):
		return h.handleClaim(c, strings.TrimPrefix(data, cbClaimPrefix))
	}
	return nil
}

func (h *MachineHandler) handleBuy(c tele.Context, key string) error {
	m, err := machine.Lookup(key)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: errorMessage(err), ShowAlert: true})
	}

	// Machines with both prices get a payment chooser.
	if m.CoinPrice != nil && m.FiatPrice > 0 {
		markup := &tele.ReplyMarkup{}
		markup.Inline(
			markup.Row(markup.Data(fmt.Sprintf("💰 %d WCoin", *m.CoinPrice), cbPayBalPrefix+key)),
			markup.Row(markup.Data(fmt.Sprintf("🏦 %d MMK transfer", m.FiatPrice), cbPayTrfPrefix+key)),
		)
		return c.Send(fmt.Sprintf("How do you want to pay for %s?", m.Name), markup)
	}

	if m.PayableFromBalance() {
		return h.buyFromBalance(c, key)
	}
	return h.buyByTransfer(c, key)
}

func (h *MachineHandler) buyFromBalance(c tele.Context, key string) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	m, err := machine.Lookup(key)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: errorMessage(err), ShowAlert: true})
	}

	res, err := h.leases.Purchase(ctx, sender.ID, key, model.PayBalance)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: errorMessage(err), ShowAlert: true})
	}

	return c.Send(fmt.Sprintf(
		"✅ %s machine installed!\nYield: %d WCoin/day, lease until %s.\nClaim every 12 hours from /account.",
		m.Name, m.DailyYield, res.Lease.ExpiresAt.Format("2006-01-02")))
}

func (h *MachineHandler) buyByTransfer(c tele.Context, key string) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	m, err := machine.Lookup(key)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: errorMessage(err), ShowAlert: true})
	}

	res, err := h.leases.Purchase(ctx, sender.ID, key, model.PayTransfer)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: errorMessage(err), ShowAlert: true})
	}

	if err := h.chat.Set(ctx, sender.ID, chatstate.State{Step: chatstate.StepAwaitTransferNo}); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to set chat state")
	}

	return c.Send(fmt.Sprintf(
		"🛒 Order #%d created for %s (%d MMK).\n\n"+
			"1️⃣ Transfer %d MMK to the payment account\n"+
			"2️⃣ Send the transfer reference number here\n"+
			"3️⃣ Send a screenshot of the receipt\n\n"+
			"Send /cancel to abort.",
		res.Order.ID, m.Name, m.FiatPrice, m.FiatPrice))
}

func (h *MachineHandler) handleClaim(c tele.Context, key string) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	res, err := h.leases.Claim(ctx, sender.ID, key)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: errorMessage(err), ShowAlert: true})
	}

	return c.Send(fmt.Sprintf(
		"💎 Claimed %d WCoin!\nBalance: %d WCoin\nNext claim: %s",
		res.Yield, res.Balance, res.NextClaimAt.Format("15:04")))
}

// HandleProofText consumes the transfer reference step of the proof flow.
func (h *MachineHandler) HandleProofText(c tele.Context, st chatstate.State) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if st.Step == chatstate.StepAwaitReceipt {
		return c.Reply("📸 Please send the receipt as a photo")
	}

	transferNo := strings.TrimSpace(c.Text())
	if transferNo == "" {
		return c.Reply("Please send the transfer reference number")
	}

	if err := h.chat.Set(ctx, sender.ID, chatstate.State{
		Step:    chatstate.StepAwaitReceipt,
		Payload: transferNo,
	}); err != nil {
		return c.Reply(errorMessage(err))
	}
	return c.Reply("📸 Got it. Now send a screenshot of the receipt")
}

// HandleReceiptPhoto consumes the receipt step and submits the proof.
func (h *MachineHandler) HandleReceiptPhoto(c tele.Context, st chatstate.State) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	photo := c.Message().Photo
	if photo == nil {
		return c.Reply("📸 Please send the receipt as a photo")
	}

	order, err := h.leases.SubmitProof(ctx, sender.ID, st.Payload, photo.FileID)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	if err := h.chat.Clear(ctx, sender.ID); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to clear chat state")
	}

	return c.Reply(fmt.Sprintf(
		"✅ Order #%d submitted for review.\nYou will be notified once an admin confirms the payment.",
		order.ID))
}

// HandleCancel handles /cancel: aborts the open machine order and any chat
// flow in progress.
func (h *MachineHandler) HandleCancel(c tele.Context) error {
	ctx := context.Background()
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	if err := h.chat.Clear(ctx, sender.ID); err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to clear chat state")
	}

	if err := h.leases.CancelOrder(ctx, sender.ID); err != nil {
		return c.Reply(errorMessage(err))
	}
	return c.Reply("🚫 Order cancelled")
}
