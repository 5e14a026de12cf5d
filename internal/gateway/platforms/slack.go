package platforms

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/aof-dev/aof/pkg/models"
)

// slackClient is the slice of the Slack SDK the responder uses.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackResponder posts messages through the Slack Web API.
type SlackResponder struct {
	client slackClient
}

// NewSlackResponder builds a responder from a bot token.
func NewSlackResponder(token string) *SlackResponder {
	return &SlackResponder{client: slack.New(token)}
}

// Platform identifies this responder.
func (s *SlackResponder) Platform() models.Platform {
	return models.PlatformSlack
}

// SendText posts plain text to a channel.
func (s *SlackResponder) SendText(ctx context.Context, channel, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", channel, err)
	}
	return nil
}
