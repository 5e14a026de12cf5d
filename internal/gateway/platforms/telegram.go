package platforms

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/aof-dev/aof/pkg/models"
)

// telegramClient is the slice of the Telegram bot SDK the responder uses.
type telegramClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// TelegramResponder posts messages through the Telegram Bot API.
type TelegramResponder struct {
	client telegramClient
}

// NewTelegramResponder builds a responder from a bot token.
func NewTelegramResponder(token string) (*TelegramResponder, error) {
	client, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramResponder{client: client}, nil
}

// Platform identifies this responder.
func (t *TelegramResponder) Platform() models.Platform {
	return models.PlatformTelegram
}

// SendText posts plain text to a chat.
func (t *TelegramResponder) SendText(ctx context.Context, channel, text string) error {
	_, err := t.client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: channel,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send to %s: %w", channel, err)
	}
	return nil
}
