// Package bot provides the Telegram bot initialization and handler registration.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wcoin-miner-bot/internal/chatstate"
	"wcoin-miner-bot/internal/config"
	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/handler"
	"wcoin-miner-bot/internal/service"
)

// Bot wraps the telebot instance with application dependencies.
type Bot struct {
	bot  *tele.Bot
	cfg  *config.Config
	chat *chatstate.Store

	accountHandler  *handler.AccountHandler
	machineHandler  *handler.MachineHandler
	withdrawHandler *handler.WithdrawHandler
	adminHandler    *handler.AdminHandler
}

// Dependencies holds all the dependencies needed by the bot handlers.
type Dependencies struct {
	Config          *config.Config
	AccountService  *service.AccountService
	LeaseService    *service.LeaseService
	OrderService    *service.OrderService
	ReferralService *service.ReferralService
	ChatState       *chatstate.Store
	Bus             *event.Bus
}

// New creates a new Bot instance with the given dependencies.
func New(deps *Dependencies) (*Bot, error) {
	if deps.Config.Bot.Token == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	pref := tele.Settings{
		Token:  deps.Config.Bot.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	teleBot, err := tele.NewBot(pref)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := &Bot{
		bot:  teleBot,
		cfg:  deps.Config,
		chat: deps.ChatState,
	}

	// Initialize handlers
	b.accountHandler = handler.NewAccountHandler(deps.AccountService, deps.ReferralService, teleBot.Me.Username)
	b.machineHandler = handler.NewMachineHandler(deps.LeaseService, deps.ChatState)
	b.withdrawHandler = handler.NewWithdrawHandler(
		deps.AccountService, deps.OrderService, deps.ChatState, deps.Config.Economy.MinWithdraw)
	b.adminHandler = handler.NewAdminHandler(deps.AccountService, deps.OrderService)

	// The notifier turns core events into chat messages.
	NewNotifier(teleBot, deps.Config).Register(deps.Bus)

	b.registerMiddleware()
	b.registerHandlers()

	return b, nil
}

// registerMiddleware registers all middleware.
func (b *Bot) registerMiddleware() {
	b.bot.Use(RecoveryMiddleware())
	b.bot.Use(LoggingMiddleware())
	b.bot.Use(ChannelGateMiddleware(b.cfg))
}

// registerHandlers registers all command and callback handlers.
func (b *Bot) registerHandlers() {
	// User commands
	b.bot.Handle("/start", b.accountHandler.HandleStart)
	b.bot.Handle("/account", b.accountHandler.HandleAccount)
	b.bot.Handle("/machines", b.machineHandler.HandleMachines)
	b.bot.Handle("/withdraw", b.withdrawHandler.HandleWithdraw)
	b.bot.Handle("/setaccount", b.withdrawHandler.HandleSetAccount)
	b.bot.Handle("/invite", b.accountHandler.HandleInvite)
	b.bot.Handle("/history", b.accountHandler.HandleHistory)
	b.bot.Handle("/cancel", b.machineHandler.HandleCancel)

	// Admin commands (with admin middleware)
	adminGroup := b.bot.Group()
	adminGroup.Use(AdminMiddleware(b.cfg))
	adminGroup.Handle("/addb", b.adminHandler.HandleAddBalance)
	adminGroup.Handle("/skip", b.adminHandler.HandleSkip)
	adminGroup.Handle("/about", b.adminHandler.HandleAbout)
	adminGroup.Handle("/wreq", b.adminHandler.HandleListWithdrawals)
	adminGroup.Handle("/mreq", b.adminHandler.HandleListMachineOrders)
	adminGroup.Handle("/wreqc", b.adminHandler.HandleConfirmWithdrawal)
	adminGroup.Handle("/wreqr", b.adminHandler.HandleRejectWithdrawal)
	adminGroup.Handle("/mreqc", b.adminHandler.HandleConfirmMachineOrder)
	adminGroup.Handle("/mreqr", b.adminHandler.HandleRejectMachineOrder)
	adminGroup.Handle("/topb", b.adminHandler.HandleTopBalance)
	adminGroup.Handle("/topi", b.adminHandler.HandleTopInviters)
	adminGroup.Handle("/mowner", b.adminHandler.HandleMachineOwners)
	adminGroup.Handle("/totaluser", b.adminHandler.HandleTotalUsers)

	// Multi-step flows consume plain messages and photos.
	b.bot.Handle(tele.OnText, b.handleText)
	b.bot.Handle(tele.OnPhoto, b.handlePhoto)

	// Inline buttons
	b.bot.Handle(tele.OnCallback, b.handleCallback)
}

// handleText routes a plain message to whichever flow the user is in.
func (b *Bot) handleText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	st, err := b.chat.Get(context.Background(), sender.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to read chat state")
		return nil
	}

	switch st.Step {
	case chatstate.StepAwaitTransferNo, chatstate.StepAwaitReceipt:
		return b.machineHandler.HandleProofText(c, st)
	case chatstate.StepAwaitWithdrawAccount, chatstate.StepAwaitWithdrawAmount:
		return b.withdrawHandler.HandleFlowText(c, st)
	}
	return nil
}

// handlePhoto routes photos: only the receipt step consumes them.
func (b *Bot) handlePhoto(c tele.Context) error {
	sender := c.Sender()
	if sender == nil {
		return nil
	}

	st, err := b.chat.Get(context.Background(), sender.ID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", sender.ID).Msg("Failed to read chat state")
		return nil
	}
	if st.Step != chatstate.StepAwaitReceipt {
		return nil
	}
	return b.machineHandler.HandleReceiptPhoto(c, st)
}

// handleCallback routes inline button callbacks.
func (b *Bot) handleCallback(c tele.Context) error {
	callback := c.Callback()
	if callback == nil {
		return nil
	}

	// Telebot v3 may add a \f prefix to callback data
	data := strings.TrimPrefix(callback.Data, "\f")
	return b.machineHandler.HandleCallback(c, data)
}

// Start starts the bot polling.
func (b *Bot) Start() {
	log.Info().Msg("Starting bot...")
	b.bot.Start()
}

// Stop stops the bot gracefully.
func (b *Bot) Stop() {
	log.Info().Msg("Stopping bot...")
	b.bot.Stop()
}
