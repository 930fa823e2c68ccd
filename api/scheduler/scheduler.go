package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/linesmerrill/haven-api/databases"
	"github.com/linesmerrill/haven-api/models"
)

const (
	expireOrdersJob  = "expire_payment_orders"
	pendingDigestJob = "pending_session_digest"
	digestLimit      = 50
)

// OrderExpirer marks stale payment orders expired
type OrderExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Digester sends the digest of sessions still waiting for a counselor
type Digester interface {
	PendingDigest(ctx context.Context, sessions []models.Session, now time.Time) error
}

// Scheduler handles periodic background jobs
type Scheduler struct {
	cron         *cron.Cron
	Orders       OrderExpirer
	Sessions     databases.SessionDatabase
	Digest       Digester
	LockDB       databases.SchedulerLockDatabase
	PendingAfter time.Duration
	instanceID   string
	now          func() time.Time
}

// New creates a new scheduler instance
func New(orders OrderExpirer, sessions databases.SessionDatabase, digest Digester, lockDB databases.SchedulerLockDatabase, pendingAfter time.Duration) *Scheduler {
	// Generate a unique instance ID for this pod
	instanceID := os.Getenv("DYNO") // Heroku sets this to "web.1", "web.2", etc.
	if instanceID == "" {
		instanceID = fmt.Sprintf("instance-%d", time.Now().UnixNano())
	}

	return &Scheduler{
		cron:         cron.New(cron.WithLocation(time.UTC)),
		Orders:       orders,
		Sessions:     sessions,
		Digest:       digest,
		LockDB:       lockDB,
		PendingAfter: pendingAfter,
		instanceID:   instanceID,
		now:          time.Now,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc("*/15 * * * *", s.expireOrders); err != nil {
		zap.S().Errorw("failed to register order expiry job", "error", err)
	}
	if _, err := s.cron.AddFunc("0 * * * *", s.sendPendingDigest); err != nil {
		zap.S().Errorw("failed to register pending digest job", "error", err)
	}

	s.cron.Start()
	zap.S().Infow("scheduler started", "instance", s.instanceID)
}

// Stop gracefully stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("scheduler stopped")
}

// withLock runs job when this instance holds the named lease
func (s *Scheduler) withLock(ctx context.Context, name string, ttl time.Duration, job func(context.Context)) {
	acquired, err := s.LockDB.TryAcquireLock(ctx, name, s.instanceID, ttl)
	if err != nil {
		zap.S().Errorw("failed to acquire scheduler lock", "job", name, "error", err)
		return
	}
	if !acquired {
		zap.S().Debugw("job already running on another instance, skipping", "job", name)
		return
	}
	defer func() {
		if err := s.LockDB.ReleaseLock(ctx, name, s.instanceID); err != nil {
			zap.S().Warnw("failed to release scheduler lock", "job", name, "error", err)
		}
	}()
	job(ctx)
}

func (s *Scheduler) expireOrders() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.withLock(ctx, expireOrdersJob, 5*time.Minute, s.ExpireOrders)
}

// ExpireOrders marks created payment orders past their ttl as expired
func (s *Scheduler) ExpireOrders(ctx context.Context) {
	n, err := s.Orders.ExpireStale(ctx)
	if err != nil {
		zap.S().Errorw("failed to expire payment orders", "error", err)
		return
	}
	if n > 0 {
		zap.S().Infow("expired stale payment orders", "count", n)
	}
}

func (s *Scheduler) sendPendingDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	s.withLock(ctx, pendingDigestJob, 10*time.Minute, s.SendPendingDigest)
}

// SendPendingDigest alerts counselors about sessions that have been waiting
// longer than PendingAfter, oldest first
func (s *Scheduler) SendPendingDigest(ctx context.Context) {
	now := s.now().UTC()
	filter := bson.M{
		"status":    models.StatusPending,
		"createdAt": bson.M{"$lt": now.Add(-s.PendingAfter)},
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}).SetLimit(digestLimit)

	sessions, err := s.Sessions.Find(ctx, filter, opts)
	if err != nil {
		zap.S().Errorw("failed to find pending sessions", "error", err)
		return
	}
	if len(sessions) == 0 {
		return
	}
	if err := s.Digest.PendingDigest(ctx, sessions, now); err != nil {
		zap.S().Warnw("pending digest was not delivered everywhere", "error", err)
		return
	}
	zap.S().Infow("pending digest sent", "sessions", len(sessions))
}
