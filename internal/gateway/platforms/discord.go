package platforms

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/aof-dev/aof/pkg/models"
)

// discordSession is the slice of discordgo the responder uses.
type discordSession interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordResponder posts messages through a Discord bot session.
type DiscordResponder struct {
	session discordSession
}

// NewDiscordResponder builds a responder from a bot token.
func NewDiscordResponder(token string) (*DiscordResponder, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return &DiscordResponder{session: session}, nil
}

// Platform identifies this responder.
func (d *DiscordResponder) Platform() models.Platform {
	return models.PlatformDiscord
}

// SendText posts plain text to a channel.
func (d *DiscordResponder) SendText(ctx context.Context, channel, text string) error {
	_, err := d.session.ChannelMessageSend(channel, text, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send to %s: %w", channel, err)
	}
	return nil
}
