package alerts

import (
	"context"

	"github.com/bwmarrin/discordgo"
)

const discordMaxLen = 2000

// discordSession abstracts the discordgo.Session methods we use
type discordSession interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts alerts to a channel with a bot token. Only the REST API is
// used, so no gateway connection is opened.
type Discord struct {
	session   discordSession
	channelID string
}

// NewDiscord creates a Discord channel
func NewDiscord(botToken, channelID string) (*Discord, error) {
	dg, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, err
	}
	return &Discord{session: dg, channelID: channelID}, nil
}

// Name implements Channel
func (d *Discord) Name() string { return "discord" }

// Notify implements Channel
func (d *Discord) Notify(ctx context.Context, a Alert) error {
	content := "**" + a.Subject + "**\n" + a.Text
	if r := []rune(content); len(r) > discordMaxLen {
		content = string(r[:discordMaxLen-3]) + "..."
	}
	// display names are user supplied, so @everyone and friends must not ping
	_, err := d.session.ChannelMessageSendComplex(d.channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(ctx))
	return err
}
