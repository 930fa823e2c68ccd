package alerts

import (
	"context"

	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Slack posts alerts to a channel with a bot token
type Slack struct {
	client    slackClient
	channelID string
}

// NewSlack creates a Slack channel
func NewSlack(botToken, channelID string) *Slack {
	return &Slack{client: slackapi.New(botToken), channelID: channelID}
}

// Name implements Channel
func (s *Slack) Name() string { return "slack" }

// Notify implements Channel. The text is escaped so a display name like
// <!channel> cannot ping the channel.
func (s *Slack) Notify(ctx context.Context, a Alert) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID,
		slackapi.MsgOptionText("*"+a.Subject+"*\n"+a.Text, true))
	return err
}
