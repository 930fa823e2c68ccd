package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/haven-api/chat"
	"github.com/linesmerrill/haven-api/config"
	"github.com/linesmerrill/haven-api/lifecycle"
	"github.com/linesmerrill/haven-api/payments"
	"github.com/linesmerrill/haven-api/telephony"
)

var (
	errNotConfigured = errors.New("not configured")
	errAdminOnly     = errors.New("admin credentials required")
)

// statusFor maps a domain error onto the response code
func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, payments.ErrSessionNotFound),
		errors.Is(err, payments.ErrOrderNotFound),
		errors.Is(err, mongo.ErrNoDocuments):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, payments.ErrAlreadyVerified),
		errors.Is(err, payments.ErrOrderExpired):
		return http.StatusConflict
	case errors.Is(err, chat.ErrInvalidMessage),
		errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrUnknownMethod),
		errors.Is(err, payments.ErrVerificationFailed),
		errors.Is(err, telephony.ErrMissingNumber):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeError(message string, w http.ResponseWriter, err error) {
	config.ErrorStatus(message, statusFor(err), w, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// decodeBody reads a json body of at most 1MB
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

// objectID parses a session id. An id that cannot be an ObjectID names no
// session, so it is a 404 like any other unknown id.
func objectID(w http.ResponseWriter, raw string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		config.ErrorStatus("failed to get objectID from Hex", http.StatusNotFound, w, err)
		return primitive.NilObjectID, false
	}
	return id, true
}
