package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/linesmerrill/haven-api/databases/mocks"
	"github.com/linesmerrill/haven-api/models"
)

const testSecret = "test-secret"

func newTestMiddleware(t *testing.T) (*MiddlewareDB, primitive.ObjectID) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	adminID := primitive.NewObjectID()

	db := mocks.NewAdminDatabase(t)
	db.On("FindOne", mock.Anything, mock.MatchedBy(func(f interface{}) bool {
		m, ok := f.(bson.M)
		return ok && m["email"] == "counselor@haven.test" && m["active"] == true
	})).Return(&models.AdminUser{
		ID:           adminID,
		Email:        "counselor@haven.test",
		PasswordHash: string(hash),
		Active:       true,
	}, nil).Maybe()
	db.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments).Maybe()

	return NewMiddlewareDB(db, testSecret), adminID
}

func issueToken(t *testing.T, m *MiddlewareDB) models.TokenResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.SetBasicAuth("Counselor@haven.test", "hunter2")
	rr := httptest.NewRecorder()
	m.CreateToken(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp models.TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func protected(m *MiddlewareDB) http.Handler {
	return m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := AdminFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(info.ID()))
	}))
}

func TestCreateTokenAndAuthenticate(t *testing.T) {
	m, adminID := newTestMiddleware(t)
	tok := issueToken(t, m)
	assert.Equal(t, adminID.Hex(), tok.ID)
	assert.NotEmpty(t, tok.Token)
	assert.True(t, tok.ExpiresAt.After(time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rr := httptest.NewRecorder()
	protected(m).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, adminID.Hex(), rr.Body.String())
}

func TestCreateTokenWrongPassword(t *testing.T) {
	m, _ := newTestMiddleware(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.SetBasicAuth("counselor@haven.test", "wrong")
	rr := httptest.NewRecorder()
	m.CreateToken(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateTokenUnknownAdmin(t *testing.T) {
	m, _ := newTestMiddleware(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil)
	req.SetBasicAuth("nobody@haven.test", "hunter2")
	rr := httptest.NewRecorder()
	m.CreateToken(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	m, _ := newTestMiddleware(t)
	rr := httptest.NewRecorder()
	protected(m).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMiddlewareRejectsForeignSignature(t *testing.T) {
	m, _ := newTestMiddleware(t)
	other, _ := newTestMiddleware(t)
	other.Secret = []byte("someone-else")
	tok := issueToken(t, other)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rr := httptest.NewRecorder()
	protected(m).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestVerifyToken(t *testing.T) {
	m, adminID := newTestMiddleware(t)
	tok := issueToken(t, m)

	id, err := m.VerifyToken(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, adminID.Hex(), id)

	_, err = m.VerifyToken("not-a-jwt")
	assert.Error(t, err)
}

func TestVerifyTokenExpired(t *testing.T) {
	m, _ := newTestMiddleware(t)
	m.now = func() time.Time { return time.Now().Add(-2 * m.TTL) }
	tok := issueToken(t, m)
	m.now = time.Now

	_, err := m.VerifyToken(tok.Token)
	assert.Error(t, err)
}

func TestRevokeToken(t *testing.T) {
	m, _ := newTestMiddleware(t)
	tok := issueToken(t, m)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/auth/token", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rr := httptest.NewRecorder()
	m.RevokeToken(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rr = httptest.NewRecorder()
	protected(m).ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	_, err := m.VerifyToken(tok.Token)
	assert.ErrorIs(t, err, errRevoked)
}

func TestOptionalAuth(t *testing.T) {
	m, adminID := newTestMiddleware(t)
	tok := issueToken(t, m)

	var seen string
	h := m.OptionalAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ""
		if info, ok := AdminFromContext(r.Context()); ok {
			seen = info.ID()
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, adminID.Hex(), seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, seen)
}
