// Package bot provides middleware for the Telegram bot.
package bot

import (
	"sync"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"wcoin-miner-bot/internal/config"
)

// channelCache memoizes channel username -> chat lookups so the gate does
// not hit the Telegram API on every update.
var (
	channelCache   = make(map[string]*tele.Chat)
	channelCacheMu sync.RWMutex
)

func resolveChannel(b *tele.Bot, username string) (*tele.Chat, error) {
	channelCacheMu.RLock()
	chat, ok := channelCache[username]
	channelCacheMu.RUnlock()
	if ok {
		return chat, nil
	}

	chat, err := b.ChatByUsername(username)
	if err != nil {
		return nil, err
	}
	channelCacheMu.Lock()
	channelCache[username] = chat
	channelCacheMu.Unlock()
	return chat, nil
}

// memberStatuses that count as having joined a channel.
func isMember(status tele.MemberStatus) bool {
	switch status {
	case tele.Creator, tele.Administrator, tele.Member, tele.Restricted:
		return true
	default:
		return false
	}
}

// ChannelGateMiddleware blocks every update from users who have not joined
// all required channels, and tells them which channels are missing. An
// empty channel list disables the gate.
func ChannelGateMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if len(cfg.Bot.Channels) == 0 {
				return next(c)
			}
			sender := c.Sender()
			if sender == nil {
				return nil
			}
			// Admins bypass the gate.
			if cfg.IsAdmin(sender.ID) {
				return next(c)
			}

			var missing []string
			for _, channel := range cfg.Bot.Channels {
				chat, err := resolveChannel(c.Bot(), channel)
				if err != nil {
					log.Warn().Err(err).Str("channel", channel).Msg("Failed to resolve gate channel")
					continue
				}
				member, err := c.Bot().ChatMemberOf(chat, sender)
				if err != nil || !isMember(member.Role) {
					missing = append(missing, channel)
				}
			}
			if len(missing) > 0 {
				msg := "📢 Please join the following channels first:\n"
				for _, ch := range missing {
					msg += "• " + ch + "\n"
				}
				msg += "\nThen send /start again."
				return c.Send(msg)
			}

			return next(c)
		}
	}
}

// AdminMiddleware creates a middleware that checks if the user is an admin.
func AdminMiddleware(cfg *config.Config) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			if sender == nil {
				return nil
			}

			if !cfg.IsAdmin(sender.ID) {
				log.Warn().
					Int64("user_id", sender.ID).
					Str("command", c.Text()).
					Msg("Non-admin attempted admin command")
				return c.Reply("❌ Admin permission required")
			}

			return next(c)
		}
	}
}

// LoggingMiddleware creates a middleware that logs all incoming messages.
func LoggingMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			sender := c.Sender()
			chat := c.Chat()

			logEvent := log.Debug()
			if sender != nil {
				logEvent = logEvent.
					Int64("user_id", sender.ID).
					Str("username", sender.Username)
			}
			if chat != nil {
				logEvent = logEvent.
					Int64("chat_id", chat.ID).
					Str("chat_type", string(chat.Type))
			}
			logEvent.
				Str("text", c.Text()).
				Msg("Received message")

			return next(c)
		}
	}
}

// RecoveryMiddleware creates a middleware that recovers from panics.
func RecoveryMiddleware() tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Msg("Recovered from panic in handler")
					_ = c.Reply("❌ Something went wrong, please try again later")
				}
			}()
			return next(c)
		}
	}
}
