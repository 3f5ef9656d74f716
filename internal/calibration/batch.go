package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/pos-coordinator/internal/domain"
	"github.com/tbourn/pos-coordinator/internal/lock"
	"github.com/tbourn/pos-coordinator/internal/sysutil"
)

// ItemError is one failed item of a run.
type ItemError struct {
	MenuItemID string `json:"menuItemId"`
	Error      string `json:"error"`
}

// Summary aggregates a multi-item run.
type Summary struct {
	Success      bool        `json:"success"`
	Processed    int         `json:"processed"`
	Succeeded    int         `json:"succeeded"`
	Failed       int         `json:"failed"`
	Activated    int         `json:"activated"`
	Deactivated  int         `json:"deactivated"`
	ManualResets int         `json:"manualResets"`
	Fallbacks    int         `json:"fallbacks"`
	DurationMs   int64       `json:"durationMs"`
	AvgItemMs    float64     `json:"avgItemMs"`
	Errors       []ItemError `json:"errors,omitempty"`
	Error        string      `json:"error,omitempty"`
	StartedAt    time.Time   `json:"startedAt"`
	FinishedAt   time.Time   `json:"finishedAt"`
}

func (sum *Summary) add(res *Result, err error, id string) {
	sum.Processed++
	if err != nil {
		sum.Failed++
		sum.Errors = append(sum.Errors, ItemError{MenuItemID: id, Error: err.Error()})
		return
	}
	sum.Succeeded++
	switch res.StatusChange {
	case Activated:
		sum.Activated++
	case Deactivated:
		sum.Deactivated++
	}
	if res.ManualStockReset {
		sum.ManualResets++
	}
	if res.FallbackUsed {
		sum.Fallbacks++
	}
}

func (sum *Summary) finish(started, finished time.Time) {
	sum.StartedAt = started
	sum.FinishedAt = finished
	sum.DurationMs = finished.Sub(started).Milliseconds()
	if sum.Processed > 0 {
		sum.AvgItemMs = float64(sum.DurationMs) / float64(sum.Processed)
	}
}

// CalibrateAll recalibrates every menu item under the global calibration
// lock. AllLockAttempts bounds the acquisition (one try by default, zero
// polls for the whole TTL); contention past that budget returns
// ErrAlreadyRunning. Per-item failures are counted and never stop the run; a failure to
// read the catalog ends it with Success=false.
//
// Once the lock is held the run is not bound to ctx cancellation, so an HTTP
// client disconnecting does not leave the catalog half calibrated.
func (s *Service) CalibrateAll(ctx context.Context) (Summary, error) {
	ctx, span := otel.Tracer("calibration/Service").Start(ctx, "CalibrateAll")
	defer span.End()

	var opts []lock.AcquireOption
	if s.AllLockAttempts > 0 {
		opts = append(opts, lock.WithAttempts(s.AllLockAttempts))
	}
	lk, err := s.Locks.Acquire(ctx, AllLockID, s.AllLockTTL, opts...)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return Summary{Error: ErrAlreadyRunning.Error()}, ErrAlreadyRunning
		}
		return Summary{Error: err.Error()}, err
	}
	ctx = context.WithoutCancel(ctx)
	defer func() {
		if _, rerr := s.Locks.Release(ctx, AllLockID, lk.Owner); rerr != nil {
			log.Warn().Err(rerr).Str("component", "calibration").Msg("run lock release failed")
		}
	}()

	started := s.Clock.Now()
	sum := Summary{}
	batches := 0
	walkErr := s.Repo.StreamMenuItems(ctx, s.DB, s.BatchSize, func(items []domain.MenuItem) error {
		if batches > 0 {
			if err := s.Clock.Sleep(ctx, s.BatchDelay); err != nil {
				return err
			}
		}
		batches++
		for i, it := range items {
			if i > 0 {
				if err := s.Clock.Sleep(ctx, s.ItemDelay); err != nil {
					return err
				}
			}
			res, err := s.CalibrateOne(ctx, it.ID)
			if err != nil {
				log.Warn().Err(err).Str("component", "calibration").Str("menu_item_id", it.ID).Msg("item calibration failed")
			}
			sum.add(res, err, it.ID)
		}
		ok, err := s.Locks.Extend(ctx, AllLockID, lk.Owner, s.AllLockTTL)
		if err != nil || !ok {
			log.Warn().Err(err).Str("component", "calibration").Int("batch", batches).Msg("run lock heartbeat failed")
		}
		return nil
	})

	sum.finish(started, s.Clock.Now())
	sum.Success = walkErr == nil
	if walkErr != nil {
		sum.Error = fmt.Sprintf("stream menu items: %v", walkErr)
		span.RecordError(walkErr)
	}
	runSeconds.WithLabelValues("all").Observe(sum.FinishedAt.Sub(started).Seconds())
	span.SetAttributes(
		attribute.Int("calibration.processed", sum.Processed),
		attribute.Int("calibration.failed", sum.Failed),
	)

	ev := log.Info()
	if !sum.Success {
		ev = log.Error().Str("error", sum.Error)
	}
	ev.Str("component", "calibration").
		Int("batches", batches).
		Int("processed", sum.Processed).
		Int("failed", sum.Failed).
		Int("activated", sum.Activated).
		Int("deactivated", sum.Deactivated).
		Int64("duration_ms", sum.DurationMs).
		Msg("calibration run finished")
	return sum, nil
}

// CalibrateSelected runs the per-item pipeline over ids, in order, skipping
// blanks and duplicates. It does not take the global run lock; each item is
// still guarded by its own lock.
func (s *Service) CalibrateSelected(ctx context.Context, ids []string) (Summary, []*Result) {
	ctx, span := otel.Tracer("calibration/Service").Start(ctx, "CalibrateSelected",
		trace.WithAttributes(attribute.Int("calibration.requested", len(ids))),
	)
	defer span.End()

	ids = sysutil.Dedupe(ids)
	started := s.Clock.Now()
	sum := Summary{}
	results := make([]*Result, 0, len(ids))
	for i, id := range ids {
		if i > 0 && s.ItemDelay > 0 {
			if err := s.Clock.Sleep(ctx, s.ItemDelay); err != nil {
				sum.Error = err.Error()
				break
			}
		}
		res, err := s.CalibrateOne(ctx, id)
		sum.add(res, err, id)
		if res != nil {
			results = append(results, res)
		}
	}
	sum.finish(started, s.Clock.Now())
	sum.Success = sum.Error == ""
	runSeconds.WithLabelValues("selected").Observe(sum.FinishedAt.Sub(started).Seconds())
	return sum, results
}
