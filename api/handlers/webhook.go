package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/config"
	"github.com/linesmerrill/haven-api/models"
)

var errBadSignature = errors.New("invalid twilio signature")

// CallStatusSink validates and applies Twilio call status callbacks
type CallStatusSink interface {
	ValidCallback(fullURL string, params map[string]string, signature string) bool
	HandleStatus(ctx context.Context, sessionID primitive.ObjectID, callStatus string) (*models.Session, error)
}

// Webhook exists for dependency injection purposes. BaseURL is the public
// address Twilio calls, used to rebuild the signed url.
type Webhook struct {
	Twilio  CallStatusSink
	BaseURL string
}

// TwilioCallStatusHandler applies a phone bridge status change to the session
func (h Webhook) TwilioCallStatusHandler(w http.ResponseWriter, r *http.Request) {
	if h.Twilio == nil {
		config.ErrorStatus("phone bridge unavailable", http.StatusServiceUnavailable, w, errNotConfigured)
		return
	}
	if err := r.ParseForm(); err != nil {
		config.ErrorStatus("failed to parse form", http.StatusBadRequest, w, err)
		return
	}
	params := make(map[string]string, len(r.PostForm))
	for k, v := range r.PostForm {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	fullURL := strings.TrimRight(h.BaseURL, "/") + r.URL.RequestURI()
	if !h.Twilio.ValidCallback(fullURL, params, r.Header.Get("X-Twilio-Signature")) {
		config.ErrorStatus("unauthorized callback", http.StatusForbidden, w, errBadSignature)
		return
	}
	id, ok := objectID(w, r.URL.Query().Get("sessionId"))
	if !ok {
		return
	}

	if _, err := h.Twilio.HandleStatus(r.Context(), id, r.PostForm.Get("CallStatus")); err != nil {
		zap.S().Errorw("failed to apply call status", "sessionId", id.Hex(), "error", err)
		writeError("failed to apply call status", w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
