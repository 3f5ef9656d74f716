// Package lock implements a named mutual-exclusion primitive on top of the
// shared database. A lock is one row per name holding the owner token and an
// expiry; acquiring is a single conditional upsert, so two processes racing
// for the same name can never both win. Holders that crash simply let the
// row expire and the next acquirer takes it over.
//
// Acquisition polls: it retries the conditional write at a fixed delay for a
// bounded number of attempts and then fails with ErrLockTimeout, which
// callers treat as "someone else is already doing this work".
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/domain"
)

var (
	// ErrLockTimeout is returned when every acquisition attempt found the lock held.
	ErrLockTimeout = errors.New("lock: acquire timed out")

	// ErrNotOwner marks a release or extend that matched no row for the
	// caller's owner token. It is logged, never returned.
	ErrNotOwner = errors.New("lock: not held by owner")

	errContended = errors.New("lock: held by another owner")
)

// DefaultRetryDelay is the pause between acquisition attempts.
const DefaultRetryDelay = 500 * time.Millisecond

var (
	acquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_lock_acquire_total",
			Help: "Lock acquisition outcomes.",
		},
		[]string{"outcome"}, // acquired|contended|error
	)
	releaseTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_lock_release_total",
			Help: "Lock release outcomes.",
		},
		[]string{"outcome"}, // released|not_owner|error
	)
)

func init() {
	prometheus.MustRegister(acquireTotal, releaseTotal)
}

// Store is the persistence contract required by Locker. Every mutation is
// conditional; there is no unconditional write of a lock row.
type Store interface {
	TryAcquireLock(ctx context.Context, db *gorm.DB, lockID, owner string, now, expiresAt time.Time) (bool, error)
	ExtendLock(ctx context.Context, db *gorm.DB, lockID, owner string, now, expiresAt time.Time) (bool, error)
	ReleaseLock(ctx context.Context, db *gorm.DB, lockID, owner string) (bool, error)
	SweepExpiredLocks(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
	ListLocks(ctx context.Context, db *gorm.DB) ([]domain.DistributedLock, error)
}

// Locker acquires, extends and releases named locks.
type Locker struct {
	DB         *gorm.DB
	Store      Store
	Clock      clock.Clock
	RetryDelay time.Duration

	newOwner func(now time.Time) string
}

// Lock is a successful acquisition. Owner proves who holds it.
type Lock struct {
	ID        string    `json:"lock_id"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// New constructs a Locker. A zero retryDelay means DefaultRetryDelay.
func New(db *gorm.DB, s Store, clk clock.Clock, retryDelay time.Duration) *Locker {
	if clk == nil {
		clk = clock.New()
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Locker{DB: db, Store: s, Clock: clk, RetryDelay: retryDelay}
}

// AcquireOption tunes a single Acquire call.
type AcquireOption func(*acquireOptions)

type acquireOptions struct {
	retryDelay time.Duration
	attempts   int
}

// WithRetryDelay overrides the pause between attempts.
func WithRetryDelay(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		if d > 0 {
			o.retryDelay = d
		}
	}
}

// WithAttempts caps the number of attempts. One attempt means fail fast.
func WithAttempts(n int) AcquireOption {
	return func(o *acquireOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// Attempts returns how many times Acquire tries for a given ttl and delay:
// floor(ttl/delay), at least one.
func Attempts(ttl, delay time.Duration) int {
	if delay <= 0 {
		return 1
	}
	n := int(ttl / delay)
	if n < 1 {
		n = 1
	}
	return n
}

// Acquire takes lockID for ttl. Each attempt is a fresh conditional upsert;
// on contention it waits the retry delay and tries again, up to the attempt
// budget, then returns an error wrapping ErrLockTimeout. Store errors stop
// the retries immediately.
//
// Timestamps (now and expires_at) come from the injected Clock, but the wait
// between attempts is real wall time paced by backoff. A fake clock does not
// shorten it; tests that expect contention should pass WithAttempts(1) or a
// small WithRetryDelay.
func (l *Locker) Acquire(ctx context.Context, lockID string, ttl time.Duration, opts ...AcquireOption) (*Lock, error) {
	ctx, span := otel.Tracer("lock/Locker").Start(ctx, "Acquire",
		trace.WithAttributes(
			attribute.String("lock.id", lockID),
			attribute.Int64("lock.ttl_ms", ttl.Milliseconds()),
		),
	)
	defer span.End()

	o := acquireOptions{retryDelay: l.RetryDelay}
	if o.retryDelay <= 0 {
		o.retryDelay = DefaultRetryDelay
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts == 0 {
		o.attempts = Attempts(ttl, o.retryDelay)
	}

	owner := l.owner()
	op := func() (*Lock, error) {
		now := l.Clock.Now()
		exp := now.Add(ttl)
		ok, err := l.Store.TryAcquireLock(ctx, l.DB, lockID, owner, now, exp)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if !ok {
			return nil, errContended
		}
		return &Lock{ID: lockID, Owner: owner, ExpiresAt: exp}, nil
	}

	lk, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.retryDelay)),
		backoff.WithMaxTries(uint(o.attempts)),
		backoff.WithMaxElapsedTime(0),
	)
	switch {
	case err == nil:
		acquireTotal.WithLabelValues("acquired").Inc()
		span.SetAttributes(attribute.String("lock.owner", owner))
		log.Debug().Str("component", "lock").Str("lock_id", lockID).Str("owner", owner).
			Time("expires_at", lk.ExpiresAt).Msg("lock acquired")
		return lk, nil
	case errors.Is(err, errContended):
		acquireTotal.WithLabelValues("contended").Inc()
		return nil, fmt.Errorf("%w: %s after %d attempts", ErrLockTimeout, lockID, o.attempts)
	case ctx.Err() != nil:
		acquireTotal.WithLabelValues("error").Inc()
		return nil, err
	default:
		acquireTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, fmt.Errorf("acquire lock %s: %w", lockID, err)
	}
}

// Release deletes lockID if owner still holds it. False means the lock had
// expired and possibly been taken by someone else; that is logged as a
// warning and is not an error.
func (l *Locker) Release(ctx context.Context, lockID, owner string) (bool, error) {
	ctx, span := otel.Tracer("lock/Locker").Start(ctx, "Release",
		trace.WithAttributes(attribute.String("lock.id", lockID)),
	)
	defer span.End()

	ok, err := l.Store.ReleaseLock(ctx, l.DB, lockID, owner)
	if err != nil {
		releaseTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		return false, fmt.Errorf("release lock %s: %w", lockID, err)
	}
	if !ok {
		releaseTotal.WithLabelValues("not_owner").Inc()
		log.Warn().Err(ErrNotOwner).Str("component", "lock").Str("lock_id", lockID).Str("owner", owner).
			Msg("lock release matched no row")
		return false, nil
	}
	releaseTotal.WithLabelValues("released").Inc()
	return true, nil
}

// Extend pushes the expiry of a held lock to now+additional. It reports
// false when owner no longer holds a live lock; the caller's work goes on.
func (l *Locker) Extend(ctx context.Context, lockID, owner string, additional time.Duration) (bool, error) {
	now := l.Clock.Now()
	ok, err := l.Store.ExtendLock(ctx, l.DB, lockID, owner, now, now.Add(additional))
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", lockID, err)
	}
	if !ok {
		log.Warn().Err(ErrNotOwner).Str("component", "lock").Str("lock_id", lockID).Str("owner", owner).
			Msg("lock extend matched no live row")
	}
	return ok, nil
}

// SweepExpired deletes every expired lock row and returns how many went.
func (l *Locker) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.Store.SweepExpiredLocks(ctx, l.DB, l.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired locks: %w", err)
	}
	if n > 0 {
		log.Info().Str("component", "lock").Int64("removed", n).Msg("expired locks swept")
	}
	return n, nil
}

// List returns the lock rows currently stored, expired ones included.
func (l *Locker) List(ctx context.Context) ([]domain.DistributedLock, error) {
	return l.Store.ListLocks(ctx, l.DB)
}

func (l *Locker) owner() string {
	if l.newOwner != nil {
		return l.newOwner(l.Clock.Now())
	}
	return fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixNano())
}
