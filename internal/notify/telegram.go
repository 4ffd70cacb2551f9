// Package notify pushes trade events to Telegram. The notifier is a
// no-op when no token is configured so the bot runs fine without it.
package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/papertrade/models"
)

// Notifier sends formatted trade and status messages to one chat.
type Notifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// New builds a notifier. An empty token returns a disabled notifier
// and no error.
func New(token string, chatID int64) (*Notifier, error) {
	logger := log.With().Str("component", "notify").Logger()
	if token == "" {
		logger.Info().Msg("Telegram notifications disabled")
		return &Notifier{logger: logger}, nil
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing telegram bot: %w", err)
	}
	logger.Info().Str("account", bot.Self.UserName).Msg("Telegram notifications enabled")
	return &Notifier{bot: bot, chatID: chatID, logger: logger}, nil
}

// Enabled reports whether messages will actually be sent.
func (n *Notifier) Enabled() bool {
	return n.bot != nil
}

// NotifyTrade sends a summary of one executed paper trade.
func (n *Notifier) NotifyTrade(trade models.Trade, confidence, balance float64) {
	if n.bot == nil {
		return
	}

	emoji := "🟢"
	if trade.Action == models.ActionSell {
		emoji = "🔴"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s %s**\n\n", emoji, trade.Action, trade.Pair)
	fmt.Fprintf(&b, "Price: $%.4f\n", trade.Price)
	fmt.Fprintf(&b, "Quantity: %.6f\n", trade.Quantity)
	fmt.Fprintf(&b, "Confidence: %.0f%%\n", confidence*100)
	if trade.Action == models.ActionSell {
		fmt.Fprintf(&b, "P&L: $%.2f\n", trade.ProfitLoss)
	}
	if len(trade.Indicators) > 0 {
		fmt.Fprintf(&b, "Indicators: %s\n", strings.Join(trade.Indicators, ", "))
	}
	fmt.Fprintf(&b, "\nBalance: $%.2f", balance)

	n.send(b.String())
}

// NotifyStatus sends a free-form status line, used at startup and
// shutdown.
func (n *Notifier) NotifyStatus(message string) {
	if n.bot == nil {
		return
	}
	n.send(message)
}

func (n *Notifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
