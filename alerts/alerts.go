// Package alerts tells counselors about new and long-waiting sessions over
// email, Slack and Discord. Delivery is best effort; failures are logged.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/models"
	templates "github.com/linesmerrill/haven-api/templates/html"
)

const (
	excerptLen  = 140
	sendTimeout = 10 * time.Second
)

// Alert is one message fanned out to every channel
type Alert struct {
	Subject string
	Text    string
	HTML    string
}

// Channel delivers alerts to one destination
type Channel interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// Dispatcher fans alerts out to the configured channels
type Dispatcher struct {
	channels     []Channel
	dashboardURL string
	wg           sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. dashboardURL is the counselor app base
// used to link sessions.
func NewDispatcher(dashboardURL string, channels ...Channel) *Dispatcher {
	return &Dispatcher{channels: channels, dashboardURL: strings.TrimRight(dashboardURL, "/")}
}

// Channels returns the names of the configured channels
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, c := range d.channels {
		names = append(names, c.Name())
	}
	return names
}

// Broadcast sends a to every channel and returns the joined failures
func (d *Dispatcher) Broadcast(ctx context.Context, a Alert) error {
	var errs []error
	for _, c := range d.channels {
		cctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := c.Notify(cctx, a)
		cancel()
		if err != nil {
			zap.S().Warnw("alert delivery failed", "channel", c.Name(), "subject", a.Subject, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Go sends a in the background
func (d *Dispatcher) Go(a Alert) {
	if len(d.channels) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.Broadcast(context.Background(), a)
	}()
}

// Wait blocks until background sends finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) sessionURL(id string) string {
	return d.dashboardURL + "/admin/sessions/" + id
}

// SessionCreated alerts counselors about a new session. Chat channels only
// get the display name and link; the message excerpt is limited to email.
func (d *Dispatcher) SessionCreated(s *models.Session) {
	id := s.ID.Hex()
	link := d.sessionURL(id)
	d.Go(Alert{
		Subject: "New support session from " + s.DisplayName,
		Text:    fmt.Sprintf("New support session from %s is waiting: %s", s.DisplayName, link),
		HTML: templates.RenderNewSessionEmail(templates.SessionSummary{
			ID:          id,
			DisplayName: s.DisplayName,
			Excerpt:     excerpt(s.Text),
		}, link),
	})
}

// PendingDigest sends one alert listing sessions still pending at now
func (d *Dispatcher) PendingDigest(ctx context.Context, sessions []models.Session, now time.Time) error {
	if len(sessions) == 0 {
		return nil
	}
	summaries := make([]templates.SessionSummary, 0, len(sessions))
	var text strings.Builder
	fmt.Fprintf(&text, "%d session(s) still waiting for a counselor:\n", len(sessions))
	for _, s := range sessions {
		waiting := now.Sub(s.CreatedAt).Round(time.Minute).String()
		summaries = append(summaries, templates.SessionSummary{
			ID:          s.ID.Hex(),
			DisplayName: s.DisplayName,
			Excerpt:     excerpt(s.Text),
			Waiting:     waiting,
		})
		fmt.Fprintf(&text, "- %s, waiting %s: %s\n", s.DisplayName, waiting, d.sessionURL(s.ID.Hex()))
	}
	return d.Broadcast(ctx, Alert{
		Subject: fmt.Sprintf("%d session(s) waiting for a counselor", len(sessions)),
		Text:    text.String(),
		HTML:    templates.RenderPendingDigestEmail(summaries),
	})
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= excerptLen {
		return s
	}
	return string([]rune(s)[:excerptLen]) + "…"
}
