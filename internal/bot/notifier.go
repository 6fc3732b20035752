package bot

import (
	"fmt"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wcoin-miner-bot/internal/config"
	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/model"
)

// Notifier renders domain events into Telegram messages: user
// notifications, admin alerts for new orders, and the public payout
// receipt. It is the only piece that turns core events into chat traffic.
type Notifier struct {
	bot *tele.Bot
	cfg *config.Config
}

// NewNotifier creates a Notifier over the bot.
func NewNotifier(b *tele.Bot, cfg *config.Config) *Notifier {
	return &Notifier{bot: b, cfg: cfg}
}

// Register subscribes the notifier to the event bus.
func (n *Notifier) Register(bus *event.Bus) {
	bus.Subscribe(n.handle)
}

func (n *Notifier) handle(e any) {
	switch ev := e.(type) {
	case event.BalanceChanged:
		if ev.Notify {
			n.sendUser(ev.UserID, fmt.Sprintf(
				"💰 Your balance changed by %+d WCoin.\nNew balance: %d WCoin", ev.Delta, ev.Balance))
		}
	case event.ReferralCredited:
		n.sendUser(ev.NewUserID, fmt.Sprintf(
			"🎁 Referral bonus! You received %d WCoin for joining via an invite link.", ev.Bonus))
	case event.OrderCreated:
		if ev.Order.Status == model.OrderAwaitingAdmin {
			n.alertAdmins(ev.Order)
		}
	case event.ProofSubmitted:
		n.alertAdmins(ev.Order)
	case event.OrderResolved:
		n.notifyResolved(ev)
	case event.LeaseInstalled:
		if ev.Method == model.PayTransfer {
			n.sendUser(ev.UserID, fmt.Sprintf(
				"✅ Your %s machine is now active!\nLease runs until %s.",
				ev.MachineKey, ev.ExpiresAt.Format("2006-01-02")))
		}
	}
}

func (n *Notifier) notifyResolved(ev event.OrderResolved) {
	o := ev.Order
	switch {
	case o.Kind == model.OrderKindWithdrawal && ev.Decision == model.DecisionConfirm:
		n.sendUser(o.UserID, fmt.Sprintf(
			"✅ Withdrawal #%d confirmed!\n%d WCoin paid to %s.", o.ID, o.Amount, o.Account))
		n.postPayoutReceipt(o)
	case o.Kind == model.OrderKindWithdrawal:
		n.sendUser(o.UserID, fmt.Sprintf("❌ Withdrawal #%d was rejected.", o.ID))
	case ev.Decision == model.DecisionReject:
		n.sendUser(o.UserID, fmt.Sprintf(
			"❌ Your %s machine order #%d was rejected.\nContact support if you already paid.",
			o.MachineKey, o.ID))
	}
	// A confirmed machine order is announced by the LeaseInstalled event.
}

// postPayoutReceipt publishes a confirmed withdrawal to the payout-history
// channel.
func (n *Notifier) postPayoutReceipt(o model.Order) {
	if n.cfg.Bot.PayoutChannel == "" {
		return
	}
	chat, err := resolveChannel(n.bot, n.cfg.Bot.PayoutChannel)
	if err != nil {
		log.Error().Err(err).Str("channel", n.cfg.Bot.PayoutChannel).Msg("Failed to resolve payout channel")
		return
	}
	msg := fmt.Sprintf("💸 Payout #%d\nAmount: %d WCoin\nAccount: %s", o.ID, o.Amount, o.Account)
	if _, err := n.bot.Send(chat, msg); err != nil {
		log.Error().Err(err).Int64("order_id", o.ID).Msg("Failed to post payout receipt")
	}
}

func (n *Notifier) alertAdmins(o model.Order) {
	var msg string
	if o.Kind == model.OrderKindWithdrawal {
		msg = fmt.Sprintf(
			"📥 New withdrawal order #%d\nUser: %d\nAmount: %d WCoin\nAccount: %s\n\n/wreqc %d to confirm, /wreqr %d to reject",
			o.ID, o.UserID, o.Amount, o.Account, o.ID, o.ID)
	} else {
		msg = fmt.Sprintf(
			"📥 Machine order #%d ready for review\nUser: %d\nMachine: %s\nTransfer no: %s\n\n/mreqc %d to confirm, /mreqr %d to reject",
			o.ID, o.UserID, o.MachineKey, o.TransferNo, o.ID, o.ID)
	}
	for _, adminID := range n.cfg.Admin.IDs {
		n.sendUser(adminID, msg)
	}
}

func (n *Notifier) sendUser(userID int64, msg string) {
	if _, err := n.bot.Send(&tele.User{ID: userID}, msg); err != nil {
		log.Debug().Err(err).Int64("user_id", userID).Msg("Failed to deliver notification")
	}
}
