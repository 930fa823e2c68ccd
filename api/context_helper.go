package api

import (
	"context"
	"time"

	"github.com/shaj13/go-guardian/auth"
)

// QueryTimeout is the default timeout for database queries
const QueryTimeout = 10 * time.Second

// WithQueryTimeout creates a context with query timeout
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

type adminContextKey struct{}

// WithAdmin stores the authenticated counselor on the context
func WithAdmin(ctx context.Context, info auth.Info) context.Context {
	return context.WithValue(ctx, adminContextKey{}, info)
}

// AdminFromContext returns the authenticated counselor, if any
func AdminFromContext(ctx context.Context) (auth.Info, bool) {
	info, ok := ctx.Value(adminContextKey{}).(auth.Info)
	return info, ok && info != nil
}
