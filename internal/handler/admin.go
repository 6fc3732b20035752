package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v3"

	"wcoin-miner-bot/internal/model"
	"wcoin-miner-bot/internal/service"
)

// AdminHandler handles the admin command surface. Every handler here sits
// behind the admin middleware; the services still verify the admin id.
type AdminHandler struct {
	accounts *service.AccountService
	orders   *service.OrderService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(accounts *service.AccountService, orders *service.OrderService) *AdminHandler {
	return &AdminHandler{accounts: accounts, orders: orders}
}

// HandleAddBalance handles /addb <id|@name> <amount> [y|n].
// The optional flag controls whether the user is notified (default yes).
func (h *AdminHandler) HandleAddBalance(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 2 {
		return c.Reply("Usage: /addb <id|@name> <amount> [y|n]")
	}

	ref, err := service.ParseUserRef(args[0])
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return c.Reply("❌ Amount must be a number")
	}
	notify := true
	if len(args) >= 3 && strings.EqualFold(args[2], "n") {
		notify = false
	}

	user, err := h.accounts.AdminAdjustBalance(ctx, c.Sender().ID, ref, amount, notify)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	return c.Reply(fmt.Sprintf("✅ %s now has %d WCoin (%+d)", user.Username, user.Balance, amount))
}

// HandleSkip handles /skip <id|@name>: exempts the user from the referral
// and machine withdrawal rules.
func (h *AdminHandler) HandleSkip(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("Usage: /skip <id|@name>")
	}

	ref, err := service.ParseUserRef(args[0])
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	user, err := h.accounts.AdminSetSkip(ctx, c.Sender().ID, ref)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	return c.Reply(fmt.Sprintf("✅ %s is now verification-exempt", user.Username))
}

// HandleAbout handles /about <id|@name>: a full account summary.
func (h *AdminHandler) HandleAbout(c tele.Context) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("Usage: /about <id|@name>")
	}

	ref, err := service.ParseUserRef(args[0])
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	user, err := h.accounts.Resolve(ctx, ref)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	view, err := h.accounts.Snapshot(ctx, user.TelegramID)
	if err != nil {
		return c.Reply(errorMessage(err))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 %s (%d)\n", user.Username, user.TelegramID)
	fmt.Fprintf(&sb, "💰 Balance: %d\n👥 Referrals: %d\n", user.Balance, user.Referrals)
	fmt.Fprintf(&sb, "🔓 Skip verified: %v\n", user.SkipVerified)
	if user.WithdrawAccount != nil {
		fmt.Fprintf(&sb, "🏦 Account: %s\n", *user.WithdrawAccount)
	}
	if user.ReferredBy != nil {
		fmt.Fprintf(&sb, "🔗 Referred by: %d\n", *user.ReferredBy)
	}
	fmt.Fprintf(&sb, "⛏ Active machines: %d (%d WCoin/day)\n", len(view.Leases), view.DailyIncome)
	if view.PendingOrder != nil {
		fmt.Fprintf(&sb, "⏳ Open order #%d (%s)\n", view.PendingOrder.ID, view.PendingOrder.Kind)
	}

	ops, err := h.accounts.Operations(ctx, user.TelegramID, 10)
	if err == nil && len(ops) > 0 {
		sb.WriteString("\n📒 Recent operations:\n")
		for _, op := range ops {
			fmt.Fprintf(&sb, "%s  %+d  %s\n", op.CreatedAt.Format("01-02 15:04"), op.Amount, op.Type)
		}
	}
	return c.Reply(sb.String())
}

// HandleListWithdrawals handles /wreq.
func (h *AdminHandler) HandleListWithdrawals(c tele.Context) error {
	return h.listPending(c, model.OrderKindWithdrawal)
}

// HandleListMachineOrders handles /mreq.
func (h *AdminHandler) HandleListMachineOrders(c tele.Context) error {
	return h.listPending(c, model.OrderKindMachine)
}

func (h *AdminHandler) listPending(c tele.Context, kind model.OrderKind) error {
	orders, err := h.orders.ListPending(context.Background(), kind)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	if len(orders) == 0 {
		return c.Reply("📭 No pending orders")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📥 Pending %s orders:\n", kind)
	for _, o := range orders {
		if kind == model.OrderKindWithdrawal {
			fmt.Fprintf(&sb, "#%d user %d — %d WCoin to %s\n", o.ID, o.UserID, o.Amount, o.Account)
			continue
		}
		fmt.Fprintf(&sb, "#%d user %d — %s (%s", o.ID, o.UserID, o.MachineKey, o.Status)
		if o.TransferNo != "" {
			fmt.Fprintf(&sb, ", tx %s", o.TransferNo)
		}
		sb.WriteString(")\n")
	}
	return c.Reply(sb.String())
}

// HandleConfirmWithdrawal handles /wreqc <order_id>.
func (h *AdminHandler) HandleConfirmWithdrawal(c tele.Context) error {
	return h.resolve(c, model.OrderKindWithdrawal, model.DecisionConfirm)
}

// HandleRejectWithdrawal handles /wreqr <order_id>.
func (h *AdminHandler) HandleRejectWithdrawal(c tele.Context) error {
	return h.resolve(c, model.OrderKindWithdrawal, model.DecisionReject)
}

// HandleConfirmMachineOrder handles /mreqc <order_id>.
func (h *AdminHandler) HandleConfirmMachineOrder(c tele.Context) error {
	return h.resolve(c, model.OrderKindMachine, model.DecisionConfirm)
}

// HandleRejectMachineOrder handles /mreqr <order_id>.
func (h *AdminHandler) HandleRejectMachineOrder(c tele.Context) error {
	return h.resolve(c, model.OrderKindMachine, model.DecisionReject)
}

func (h *AdminHandler) resolve(c tele.Context, kind model.OrderKind, decision model.Decision) error {
	ctx := context.Background()
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("Usage: provide the order id")
	}
	orderID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Reply("❌ Order id must be a number")
	}

	// The per-kind commands only touch orders of their kind.
	pending, err := h.orders.ListPending(ctx, kind)
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	found := false
	for _, o := range pending {
		if o.ID == orderID {
			found = true
			break
		}
	}
	if !found {
		return c.Reply(fmt.Sprintf("❌ No pending %s order #%d", kind, orderID))
	}

	res, err := h.orders.Resolve(ctx, c.Sender().ID, orderID, decision)
	if err != nil {
		return c.Reply(errorMessage(err))
	}

	if res.Lease != nil {
		return c.Reply(fmt.Sprintf("✅ Order #%d confirmed, %s machine installed for user %d",
			orderID, res.Lease.MachineKey, res.Lease.UserID))
	}
	return c.Reply(fmt.Sprintf("✅ Order #%d %sed", orderID, decision))
}

// HandleTopBalance handles /topb.
func (h *AdminHandler) HandleTopBalance(c tele.Context) error {
	users, err := h.accounts.TopByBalance(context.Background(), 10)
	if err != nil {
		return c.Reply(errorMessage(err))
	}

	var sb strings.Builder
	sb.WriteString("🏆 Top balances:\n")
	for i, u := range users {
		fmt.Fprintf(&sb, "%d. %s — %d WCoin\n", i+1, u.Username, u.Balance)
	}
	return c.Reply(sb.String())
}

// HandleTopInviters handles /topi.
func (h *AdminHandler) HandleTopInviters(c tele.Context) error {
	users, err := h.accounts.TopByReferrals(context.Background(), 10)
	if err != nil {
		return c.Reply(errorMessage(err))
	}

	var sb strings.Builder
	sb.WriteString("🏆 Top inviters:\n")
	for i, u := range users {
		fmt.Fprintf(&sb, "%d. %s — %d referrals\n", i+1, u.Username, u.Referrals)
	}
	return c.Reply(sb.String())
}

// HandleMachineOwners handles /mowner <machine_key>.
func (h *AdminHandler) HandleMachineOwners(c tele.Context) error {
	args := c.Args()
	if len(args) < 1 {
		return c.Reply("Usage: /mowner <basic|common|epic|premium>")
	}

	owners, err := h.accounts.MachineOwners(context.Background(), args[0])
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	if len(owners) == 0 {
		return c.Reply("📭 No active owners")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "⛏ Active %s owners (%d):\n", args[0], len(owners))
	for _, u := range owners {
		fmt.Fprintf(&sb, "• %s (%d)\n", u.Username, u.TelegramID)
	}
	return c.Reply(sb.String())
}

// HandleTotalUsers handles /totaluser.
func (h *AdminHandler) HandleTotalUsers(c tele.Context) error {
	count, err := h.accounts.UserCount(context.Background())
	if err != nil {
		return c.Reply(errorMessage(err))
	}
	return c.Reply(fmt.Sprintf("👥 Total users: %d", count))
}
