package calibration

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// BulkResetResult is the outcome of BulkResetMinusManualStocks.
type BulkResetResult struct {
	Success bool        `json:"success"`
	Found   int         `json:"found"`
	Reset   int         `json:"reset"`
	Skipped int         `json:"skipped"`
	Failed  int         `json:"failed"`
	Errors  []ItemError `json:"errors,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BulkResetMinusManualStocks clears every negative manual stock and mirrors
// the fallback stock onto the parent menu item. Writes run concurrently and
// in no particular order; a failed write is recorded and the rest continue.
//
// No per-item calibration lock is taken here, so a concurrent CalibrateOne on
// the same item may interleave. Both paths only ever move a negative
// override to zero, which keeps the race benign.
func (s *Service) BulkResetMinusManualStocks(ctx context.Context) BulkResetResult {
	ctx, span := otel.Tracer("calibration/Service").Start(ctx, "BulkResetMinusManualStocks")
	defer span.End()
	started := s.Clock.Now()

	rows, err := s.Repo.ListNegativeManualStocks(ctx, s.DB)
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Str("component", "calibration").Msg("list negative manual stocks failed")
		return BulkResetResult{Error: err.Error()}
	}

	out := BulkResetResult{Found: len(rows)}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.BulkConcurrency)
	for _, row := range rows {
		id := row.MenuItemID
		g.Go(func() error {
			ok, err := s.Repo.ResetNegativeManualStockWithParent(ctx, s.DB, id, s.Clock.Now())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				out.Failed++
				out.Errors = append(out.Errors, ItemError{MenuItemID: id, Error: err.Error()})
			case ok:
				out.Reset++
			default:
				out.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	out.Success = out.Failed == 0
	runSeconds.WithLabelValues("bulk_reset").Observe(s.Clock.Now().Sub(started).Seconds())
	log.Info().Str("component", "calibration").
		Int("found", out.Found).Int("reset", out.Reset).Int("failed", out.Failed).
		Msg("negative manual stock reset finished")
	return out
}
