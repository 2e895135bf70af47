package notify

import (
	"fmt"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// TelegramNotifier delivers reminder notifications through a Telegram bot.
type TelegramNotifier struct {
	bot *tele.Bot
}

// NewTelegramNotifier creates a bot from the given token. The bot is used for
// sending only, so no poller is configured and no update polling is started.
func NewTelegramNotifier(botToken string) (*TelegramNotifier, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token: botToken,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot}, nil
}

// Deliver sends a message to the user's linked chat
func (n *TelegramNotifier) Deliver(chatID int64, message string) error {
	if chatID == 0 {
		return fmt.Errorf("user has no linked telegram chat")
	}
	_, err := n.bot.Send(tele.ChatID(chatID), message)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when no Telegram bot is
// configured so reminder dispatch still completes.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Deliver logs the notification instead of sending it
func (n *LogNotifier) Deliver(chatID int64, message string) error {
	n.logger.Info("notification",
		zap.Int64("chat_id", chatID),
		zap.String("message", message))
	return nil
}
