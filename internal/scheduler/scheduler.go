// Package scheduler runs stock maintenance on a fixed interval: expired lock
// cleanup, negative manual stock reset, then a full calibration. A run is
// guarded by its own lock so that only one replica performs it.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/pos-coordinator/internal/calibration"
	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/lock"
)

// LockID guards a maintenance run.
const LockID = "scheduled-stock-maintenance"

var runsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "pos_scheduler_runs_total",
		Help: "Scheduled maintenance runs, by outcome.",
	},
	[]string{"outcome"}, // ok|skipped|failed
)

func init() {
	prometheus.MustRegister(runsTotal)
}

// Locks is what the scheduler needs from lock.Locker.
type Locks interface {
	Acquire(ctx context.Context, lockID string, ttl time.Duration, opts ...lock.AcquireOption) (*lock.Lock, error)
	Release(ctx context.Context, lockID, owner string) (bool, error)
	Extend(ctx context.Context, lockID, owner string, additional time.Duration) (bool, error)
	SweepExpired(ctx context.Context) (int64, error)
}

// Calibrator is what the scheduler needs from calibration.Service.
type Calibrator interface {
	BulkResetMinusManualStocks(ctx context.Context) calibration.BulkResetResult
	CalibrateAll(ctx context.Context) (calibration.Summary, error)
}

// Scheduler is the recurring maintenance job.
type Scheduler struct {
	Locks      Locks
	Calibrator Calibrator
	Clock      clock.Clock
	Interval   time.Duration
	Warmup     time.Duration
	LockTTL    time.Duration
}

// New returns a Scheduler. A zero lockTTL defaults to 15 minutes.
func New(l Locks, c Calibrator, clk clock.Clock, interval, warmup, lockTTL time.Duration) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	return &Scheduler{Locks: l, Calibrator: c, Clock: clk, Interval: interval, Warmup: warmup, LockTTL: lockTTL}
}

// Run performs one maintenance run after the warm-up delay and then one per
// interval until ctx is canceled. It returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Str("component", "scheduler").
		Dur("warmup", s.Warmup).Dur("interval", s.Interval).
		Msg("stock maintenance scheduled")

	if err := s.Clock.Sleep(ctx, s.Warmup); err != nil {
		return err
	}
	for {
		s.RunOnce(ctx)
		if s.Interval <= 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		if err := s.Clock.Sleep(ctx, s.Interval); err != nil {
			return err
		}
	}
}

// RunOnce performs a single maintenance run. It reports false when the run
// was skipped because another instance holds the lock or the lock store
// failed.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	lg := log.With().Str("component", "scheduler").Logger()

	lk, err := s.Locks.Acquire(ctx, LockID, s.LockTTL, lock.WithAttempts(1))
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			runsTotal.WithLabelValues("skipped").Inc()
			lg.Info().Msg("maintenance already running elsewhere, skipping")
			return false
		}
		runsTotal.WithLabelValues("failed").Inc()
		lg.Error().Err(err).Msg("maintenance lock failed")
		return false
	}
	hb := s.keepAlive(context.WithoutCancel(ctx), lk.Owner)
	defer func() {
		hb.stop()
		if _, err := s.Locks.Release(context.WithoutCancel(ctx), LockID, lk.Owner); err != nil {
			lg.Warn().Err(err).Msg("maintenance lock release failed")
		}
	}()

	started := s.Clock.Now()
	if n, err := s.Locks.SweepExpired(ctx); err != nil {
		lg.Warn().Err(err).Msg("expired lock sweep failed")
	} else if n > 0 {
		lg.Info().Int64("swept", n).Msg("expired locks removed")
	}

	reset := s.Calibrator.BulkResetMinusManualStocks(ctx)
	sum, err := s.Calibrator.CalibrateAll(ctx)

	outcome := "ok"
	switch {
	case errors.Is(err, calibration.ErrAlreadyRunning):
		// A manual run got there first; it does the same work.
		lg.Info().Msg("calibration already running, skipping")
	case err != nil || !sum.Success || !reset.Success:
		outcome = "failed"
	}
	runsTotal.WithLabelValues(outcome).Inc()

	ev := lg.Info()
	if outcome == "failed" {
		ev = lg.Warn().AnErr("calibration_error", err).Str("summary_error", sum.Error)
	}
	ev.Int("manual_resets", reset.Reset).
		Int("processed", sum.Processed).
		Int("failed", sum.Failed).
		Dur("took", s.Clock.Now().Sub(started)).
		Msg("stock maintenance finished")
	return true
}

// heartbeat pushes the maintenance lock's expiry out every third of its TTL
// until stopped, so a run longer than the TTL keeps its lock.
type heartbeat struct {
	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

func (s *Scheduler) keepAlive(ctx context.Context, owner string) *heartbeat {
	hb := &heartbeat{}
	every := s.LockTTL / 3
	var beat func()
	beat = func() {
		hb.mu.Lock()
		defer hb.mu.Unlock()
		if hb.stopped {
			return
		}
		ok, err := s.Locks.Extend(ctx, LockID, owner, s.LockTTL)
		if err != nil || !ok {
			log.Warn().Err(err).Str("component", "scheduler").Msg("maintenance lock heartbeat failed")
		}
		hb.timer = s.Clock.AfterFunc(every, beat)
	}
	hb.mu.Lock()
	hb.timer = s.Clock.AfterFunc(every, beat)
	hb.mu.Unlock()
	return hb
}

func (hb *heartbeat) stop() {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	hb.stopped = true
	if hb.timer != nil {
		hb.timer.Stop()
	}
}
