package alerts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	slackapi "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/linesmerrill/haven-api/models"
)

type recordingChannel struct {
	name string
	err  error

	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingChannel) Name() string { return r.name }

func (r *recordingChannel) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestDispatcher_BroadcastJoinsFailures(t *testing.T) {
	ok := &recordingChannel{name: "ok"}
	bad := &recordingChannel{name: "bad", err: errors.New("down")}
	d := NewDispatcher("https://haven.example", ok, bad)

	err := d.Broadcast(context.Background(), Alert{Subject: "s"})

	assert.EqualError(t, err, "bad: down")
	assert.Len(t, ok.alerts, 1)
	assert.Len(t, bad.alerts, 1)
	assert.Equal(t, []string{"ok", "bad"}, d.Channels())
}

func TestDispatcher_SessionCreated(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d := NewDispatcher("https://haven.example/", ch)
	s := &models.Session{ID: primitive.NewObjectID(), DisplayName: models.AnonymousName, Text: "private words"}

	d.SessionCreated(s)
	d.Wait()

	require.Len(t, ch.alerts, 1)
	a := ch.alerts[0]
	assert.Equal(t, "New support session from Anonymous", a.Subject)
	assert.Contains(t, a.Text, "https://haven.example/admin/sessions/"+s.ID.Hex())
	assert.NotContains(t, a.Text, "private words")
	assert.Contains(t, a.HTML, "private words")
}

func TestDispatcher_NoChannelsIsNoop(t *testing.T) {
	d := NewDispatcher("https://haven.example")
	d.SessionCreated(&models.Session{ID: primitive.NewObjectID()})
	d.Wait()
	assert.NoError(t, d.PendingDigest(context.Background(), nil, time.Now()))
}

func TestDispatcher_PendingDigest(t *testing.T) {
	ch := &recordingChannel{name: "rec"}
	d := NewDispatcher("https://haven.example", ch)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	sessions := []models.Session{
		{ID: primitive.NewObjectID(), DisplayName: "Sam", CreatedAt: now.Add(-20 * time.Minute)},
		{ID: primitive.NewObjectID(), DisplayName: "Anonymous", CreatedAt: now.Add(-65 * time.Minute)},
	}

	require.NoError(t, d.PendingDigest(context.Background(), sessions, now))

	require.Len(t, ch.alerts, 1)
	a := ch.alerts[0]
	assert.Equal(t, "2 session(s) waiting for a counselor", a.Subject)
	assert.Contains(t, a.Text, "Sam, waiting 20m0s")
	assert.Contains(t, a.Text, "Anonymous, waiting 1h5m0s")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "short", excerpt("  short "))
	long := strings.Repeat("é", 200)
	got := excerpt(long)
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.Equal(t, excerptLen+1, len([]rune(got)))
}

type fakeSendgrid struct {
	sent   *mail.SGMailV3
	status int
}

func (f *fakeSendgrid) SendWithContext(_ context.Context, m *mail.SGMailV3) (*rest.Response, error) {
	f.sent = m
	return &rest.Response{StatusCode: f.status}, nil
}

func TestEmail_Notify(t *testing.T) {
	fake := &fakeSendgrid{status: 202}
	e := &Email{client: fake, from: mail.NewEmail("Haven Alerts", "no-reply@haven.example"), to: mail.NewEmail("Counselors", "team@haven.example")}

	require.NoError(t, e.Notify(context.Background(), Alert{Subject: "hello", Text: "t", HTML: "<p>t</p>"}))
	assert.Equal(t, "hello", fake.sent.Subject)

	fake.status = 401
	assert.EqualError(t, e.Notify(context.Background(), Alert{Subject: "hello"}), "sendgrid error: status 401")
}

type fakeSlack struct {
	channel string
	text    string
}

func (f *fakeSlack) PostMessageContext(_ context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	f.channel = channelID
	_, values, err := slackapi.UnsafeApplyMsgOptions("token", channelID, "https://slack.com/api/", options...)
	if err != nil {
		return "", "", err
	}
	f.text = values.Get("text")
	return channelID, "1700000000.000100", nil
}

func TestSlack_Notify(t *testing.T) {
	fake := &fakeSlack{}
	s := &Slack{client: fake, channelID: "C123"}

	require.NoError(t, s.Notify(context.Background(), Alert{Subject: "s", Text: "t"}))
	assert.Equal(t, "C123", fake.channel)
	assert.Equal(t, "*s*\nt", fake.text)
}

func TestSlack_NotifyEscapesMentions(t *testing.T) {
	fake := &fakeSlack{}
	s := &Slack{client: fake, channelID: "C123"}

	require.NoError(t, s.Notify(context.Background(), Alert{Subject: "New session from <!channel>", Text: "a & b"}))
	assert.NotContains(t, fake.text, "<!channel>")
	assert.Contains(t, fake.text, "&lt;!channel&gt;")
	assert.Contains(t, fake.text, "a &amp; b")
}

type fakeDiscord struct {
	channel  string
	content  string
	mentions *discordgo.MessageAllowedMentions
}

func (f *fakeDiscord) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.content = data.Content
	f.mentions = data.AllowedMentions
	return &discordgo.Message{ID: "1"}, nil
}

func TestDiscord_NotifySuppressesMentions(t *testing.T) {
	fake := &fakeDiscord{}
	d := &Discord{session: fake, channelID: "42"}

	require.NoError(t, d.Notify(context.Background(), Alert{Subject: "New session from @everyone"}))
	require.NotNil(t, fake.mentions)
	assert.Empty(t, fake.mentions.Parse)
	assert.Empty(t, fake.mentions.Users)
	assert.Empty(t, fake.mentions.Roles)
}

func TestDiscord_NotifyTruncates(t *testing.T) {
	fake := &fakeDiscord{}
	d := &Discord{session: fake, channelID: "42"}

	require.NoError(t, d.Notify(context.Background(), Alert{Subject: "s", Text: strings.Repeat("x", 3000)}))
	assert.Equal(t, "42", fake.channel)
	assert.Equal(t, discordMaxLen, len([]rune(fake.content)))
	assert.True(t, strings.HasPrefix(fake.content, "**s**\n"))
}
