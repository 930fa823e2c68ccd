package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/basic"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/linesmerrill/haven-api/config"
	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/models"
)

// DefaultTokenTTL is how long an issued counselor token stays valid
const DefaultTokenTTL = 12 * time.Hour

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errRevoked            = errors.New("token revoked")
)

// adminClaims are the claims carried by a counselor token
type adminClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// MiddlewareDB holds the admin store and the authenticator built on it
type MiddlewareDB struct {
	DB     databases.AdminDatabase
	Secret []byte
	TTL    time.Duration

	authenticator auth.Authenticator
	cache         store.Cache
	revoked       store.Cache
	now           func() time.Time
}

// NewMiddlewareDB creates a MiddlewareDB with go-guardian configured
func NewMiddlewareDB(db databases.AdminDatabase, secret string) *MiddlewareDB {
	m := &MiddlewareDB{DB: db, Secret: []byte(secret), TTL: DefaultTokenTTL, now: time.Now}
	m.SetupGoGuardian()
	return m
}

// SetupGoGuardian sets up the go-guardian strategies. Basic auth checks the
// admins collection; bearer tokens are signed JWTs cached after first use.
func (m *MiddlewareDB) SetupGoGuardian() {
	m.authenticator = auth.New()
	m.cache = store.NewFIFO(context.Background(), m.TTL)
	m.revoked = store.NewFIFO(context.Background(), m.TTL)
	basicStrategy := basic.New(m.ValidateUser, m.cache)
	tokenStrategy := bearer.New(m.authenticateToken, m.cache)

	m.authenticator.EnableStrategy(basic.StrategyKey, basicStrategy)
	m.authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
}

// Middleware rejects requests without valid counselor credentials
func (m *MiddlewareDB) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		user, err := m.authenticator.Authenticate(r)
		if err != nil {
			zap.S().Infow("unauthorized", "url", r.URL.Path)
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "unauthorized"}`))
			return
		}
		zap.S().Debugw("admin authenticated", "admin", user.UserName())
		next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), user)))
	})
}

// OptionalAuth attaches the counselor to the context when valid credentials
// are sent and otherwise passes the request through untouched.
func (m *MiddlewareDB) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			if user, err := m.authenticator.Authenticate(r); err == nil {
				r = r.WithContext(WithAdmin(r.Context(), user))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// CreateToken issues a counselor token for basic auth credentials
func (m *MiddlewareDB) CreateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	email, password, ok := r.BasicAuth()
	if !ok {
		config.ErrorStatus("basic auth required", http.StatusUnauthorized, w, errInvalidCredentials)
		return
	}
	info, err := m.ValidateUser(r.Context(), r, email, password)
	if err != nil {
		config.ErrorStatus("failed to authenticate", http.StatusUnauthorized, w, err)
		return
	}

	token, expiresAt, err := m.issue(info.ID(), info.UserName())
	if err != nil {
		config.ErrorStatus("failed to sign token", http.StatusInternalServerError, w, err)
		return
	}
	tokenStrategy := m.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Append(tokenStrategy, token, info, r); err != nil {
		zap.S().Warnw("could not cache token", "admin", info.UserName(), "error", err)
	}

	b, _ := json.Marshal(models.TokenResponse{Token: token, ID: info.ID(), ExpiresAt: expiresAt})
	_, _ = w.Write(b)
}

func (m *MiddlewareDB) issue(adminID, email string) (string, time.Time, error) {
	now := m.now()
	expiresAt := now.Add(m.TTL)
	claims := adminClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   adminID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.Secret)
	return signed, expiresAt, err
}

func (m *MiddlewareDB) parse(token string) (*adminClaims, error) {
	if _, revoked, _ := m.revoked.Load(token, nil); revoked {
		return nil, errRevoked
	}
	claims := &adminClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// authenticateToken is the bearer strategy fallback for tokens not yet cached
func (m *MiddlewareDB) authenticateToken(_ context.Context, _ *http.Request, token string) (auth.Info, error) {
	claims, err := m.parse(token)
	if err != nil {
		return nil, err
	}
	return auth.NewDefaultUser(claims.Email, claims.Subject, nil, nil), nil
}

// VerifyToken resolves a counselor token to the admin id. The relay uses it
// for join-admin and the websocket upgrade.
func (m *MiddlewareDB) VerifyToken(token string) (string, error) {
	claims, err := m.parse(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ValidateUser checks an email and password against the admins collection
func (m *MiddlewareDB) ValidateUser(ctx context.Context, _ *http.Request, email, password string) (auth.Info, error) {
	admin, err := m.DB.FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email)), "active": true})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, errInvalidCredentials
	}
	return auth.NewDefaultUser(admin.Email, admin.ID.Hex(), admin.Roles, nil), nil
}

// RevokeToken revokes the bearer token on the request
func (m *MiddlewareDB) RevokeToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	reqToken := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if reqToken == "" {
		config.ErrorStatus("bearer token required", http.StatusBadRequest, w, errInvalidCredentials)
		return
	}

	tokenStrategy := m.authenticator.Strategy(bearer.CachedStrategyKey)
	if err := auth.Revoke(tokenStrategy, reqToken, r); err != nil {
		zap.S().Debugw("token was not cached", "error", err)
	}
	_ = m.revoked.Store(reqToken, true, r)
	_, _ = w.Write([]byte(`{"revoked": true}`))
}
