// Package telephony places phone calls for a session through Twilio and
// turns Twilio call status callbacks into lifecycle transitions.
package telephony

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/lifecycle"
	"github.com/linesmerrill/haven-api/models"
)

// CallbackPath is where Twilio posts call status changes, relative to the base url
const CallbackPath = "/api/v1/webhooks/twilio/call-status"

// ErrMissingNumber is returned when a call is requested without both numbers
var ErrMissingNumber = errors.New("both the caller and counselor numbers are required")

// Lifecycle is the part of the lifecycle manager driven by call status
type Lifecycle interface {
	Transition(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger lifecycle.Trigger) (*models.Session, error)
	Advance(ctx context.Context, id primitive.ObjectID, to models.SessionStatus, trigger lifecycle.Trigger) (*models.Session, bool, error)
}

// CallCreator is the Twilio calls API
type CallCreator interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
}

// Bridge connects a user's phone to a counselor's phone
type Bridge struct {
	calls     CallCreator
	validator twilioClient.RequestValidator
	from      string
	baseURL   string
	lifecycle Lifecycle
}

// NewBridge creates a Bridge using the account credentials. baseURL is the
// public address Twilio can reach for status callbacks.
func NewBridge(accountSID, authToken, from, baseURL string, lc Lifecycle) *Bridge {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newBridge(client.Api, authToken, from, baseURL, lc)
}

func newBridge(calls CallCreator, authToken, from, baseURL string, lc Lifecycle) *Bridge {
	return &Bridge{
		calls:     calls,
		validator: twilioClient.NewRequestValidator(authToken),
		from:      from,
		baseURL:   strings.TrimRight(baseURL, "/"),
		lifecycle: lc,
	}
}

// CallbackURL is the status callback registered for a session's call
func (b *Bridge) CallbackURL(sessionID primitive.ObjectID) string {
	return b.baseURL + CallbackPath + "?" + url.Values{"sessionId": {sessionID.Hex()}}.Encode()
}

// PlaceCall rings the user at to and, once answered, dials the counselor.
// It returns the Twilio call sid.
func (b *Bridge) PlaceCall(_ context.Context, sessionID primitive.ObjectID, to, counselor string) (string, error) {
	if to == "" || counselor == "" {
		return "", ErrMissingNumber
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(b.from)
	params.SetTwiml(bridgeTwiml(counselor))
	params.SetStatusCallback(b.CallbackURL(sessionID))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})

	resp, err := b.calls.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("%w: twilio: %v", lifecycle.ErrUpstream, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	zap.S().Infow("phone bridge call placed", "sessionId", sessionID.Hex(), "callSid", sid)
	return sid, nil
}

func bridgeTwiml(counselor string) string {
	var num bytes.Buffer
	_ = xml.EscapeText(&num, []byte(counselor))
	return "<Response><Say>Connecting you with your counselor.</Say><Dial>" + num.String() + "</Dial></Response>"
}

// ValidCallback checks the X-Twilio-Signature of a callback. fullURL must be
// the exact url Twilio requested, including the query string.
func (b *Bridge) ValidCallback(fullURL string, params map[string]string, signature string) bool {
	return b.validator.Validate(fullURL, params, signature)
}

// terminalCallStatus are the Twilio call statuses that end the call
var terminalCallStatus = map[string]bool{
	"completed": true,
	"failed":    true,
	"busy":      true,
	"no-answer": true,
	"canceled":  true,
}

// HandleStatus applies a reported call status to the session. An answered
// call moves a pending session in-call; any terminal status completes it.
// Other statuses are ignored and return a nil session.
func (b *Bridge) HandleStatus(ctx context.Context, sessionID primitive.ObjectID, callStatus string) (*models.Session, error) {
	zap.S().Infow("twilio call status", "sessionId", sessionID.Hex(), "callStatus", callStatus)
	switch {
	case callStatus == "in-progress":
		s, _, err := b.lifecycle.Advance(ctx, sessionID, models.StatusInCall, lifecycle.TriggerExternal)
		return s, err
	case terminalCallStatus[callStatus]:
		s, err := b.lifecycle.Transition(ctx, sessionID, models.StatusCompleted, lifecycle.TriggerExternal)
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			// already completed; twilio retries callbacks
			return nil, nil
		}
		return s, err
	}
	return nil, nil
}
