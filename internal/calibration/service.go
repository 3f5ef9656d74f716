// Package calibration recomputes menu stock from recipe ingredients,
// reconciles manual overrides, and switches menu items on or off for sale.
//
// Every item is calibrated under its own lock ("calibrate-single-<id>"); a
// full run additionally holds "calibrate-all-menu-stocks" so that only one
// full run happens at a time across processes. Full runs walk the catalog in
// small sequential batches with pauses in between to keep load off the
// database serving the tills.
package calibration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/config"
	"github.com/tbourn/pos-coordinator/internal/domain"
	"github.com/tbourn/pos-coordinator/internal/lock"
	"github.com/tbourn/pos-coordinator/internal/repo"
)

// Lock names.
const (
	AllLockID      = "calibrate-all-menu-stocks"
	itemLockPrefix = "calibrate-single-"
)

var (
	// ErrAlreadyRunning means the lock for the requested work is held elsewhere.
	ErrAlreadyRunning = errors.New("calibration already running")
	// ErrMenuItemNotFound is returned for an unknown menu item id.
	ErrMenuItemNotFound = errors.New("menu item not found")
)

var (
	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_calibration_items_total",
			Help: "Menu items calibrated, by outcome.",
		},
		[]string{"outcome"}, // ok|fallback|failed
	)
	runSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pos_calibration_run_seconds",
			Help:    "Wall time of calibration runs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"job"}, // all|selected|bulk_reset
	)
)

func init() {
	prometheus.MustRegister(itemsTotal, runSeconds)
}

// Repo is the persistence contract of the calibration service.
type Repo interface {
	StreamMenuItems(ctx context.Context, db *gorm.DB, batchSize int, fn func([]domain.MenuItem) error) error
	GetMenuItem(ctx context.Context, db *gorm.DB, id string) (*domain.MenuItem, error)
	DefaultIngredients(ctx context.Context, db *gorm.DB, menuItemID string) ([]domain.RecipeIngredient, error)
	UpdateMenuItemAvailability(ctx context.Context, db *gorm.DB, id string, active bool, stock int, now time.Time) error

	GetStock(ctx context.Context, db *gorm.DB, menuItemID string) (*domain.MenuStock, error)
	ResetNegativeManualStock(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) (bool, error)
	WriteCurrentStock(ctx context.Context, db *gorm.DB, menuItemID string, calculated, current int, now time.Time) error
	ForceResetStock(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) error
	ListNegativeManualStocks(ctx context.Context, db *gorm.DB) ([]domain.MenuStock, error)
	ResetNegativeManualStockWithParent(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) (bool, error)
}

// Locker is the subset of lock.Locker the service needs.
type Locker interface {
	Acquire(ctx context.Context, lockID string, ttl time.Duration, opts ...lock.AcquireOption) (*lock.Lock, error)
	Release(ctx context.Context, lockID, owner string) (bool, error)
	Extend(ctx context.Context, lockID, owner string, additional time.Duration) (bool, error)
}

// Service runs calibrations.
type Service struct {
	DB    *gorm.DB
	Repo  Repo
	Locks Locker
	Yield YieldCalculator
	Clock clock.Clock

	BatchSize       int
	ItemDelay       time.Duration
	BatchDelay      time.Duration
	ItemLockTTL     time.Duration
	AllLockTTL      time.Duration
	AllLockAttempts int // 0 polls for the whole AllLockTTL
	BulkConcurrency int
}

// NewService constructs a Service from the calibration settings.
func NewService(db *gorm.DB, r Repo, l Locker, clk clock.Clock, cfg config.CalibrationConfig) *Service {
	if clk == nil {
		clk = clock.New()
	}
	s := &Service{
		DB:              db,
		Repo:            r,
		Locks:           l,
		Yield:           RecipeYield{},
		Clock:           clk,
		BatchSize:       cfg.BatchSize,
		ItemDelay:       cfg.ItemDelay,
		BatchDelay:      cfg.BatchDelay,
		ItemLockTTL:     cfg.ItemLockTTL,
		AllLockTTL:      cfg.AllLockTTL,
		AllLockAttempts: cfg.AllLockAttempts,
		BulkConcurrency: cfg.BulkConcurrency,
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 25
	}
	if s.ItemLockTTL <= 0 {
		s.ItemLockTTL = 60 * time.Second
	}
	if s.AllLockTTL <= 0 {
		s.AllLockTTL = 10 * time.Minute
	}
	if s.BulkConcurrency <= 0 {
		s.BulkConcurrency = 8
	}
	return s
}

// Status values.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// StatusChange records a flip of the active flag.
type StatusChange string

const (
	Activated   StatusChange = "activated"
	Deactivated StatusChange = "deactivated"
)

// Result is the outcome of calibrating one menu item.
type Result struct {
	MenuItemID          string       `json:"menuItemId"`
	Name                string       `json:"name"`
	CalculatedStock     int          `json:"calculatedStock"`
	ManualStock         *int         `json:"manualStock"`
	PreviousManualStock *int         `json:"previousManualStock,omitempty"`
	EffectiveStock      int          `json:"effectiveStock"`
	PreviousStatus      string       `json:"previousStatus"`
	CurrentStatus       string       `json:"currentStatus"`
	StatusChange        StatusChange `json:"statusChange,omitempty"`
	ManualStockReset    bool         `json:"manualStockReset"`
	FallbackUsed        bool         `json:"fallbackUsed"`
}

func statusOf(active bool) string {
	if active {
		return StatusActive
	}
	return StatusInactive
}

// CalibrateOne calibrates a single menu item under its per-item lock.
func (s *Service) CalibrateOne(ctx context.Context, menuItemID string) (*Result, error) {
	ctx, span := otel.Tracer("calibration/Service").Start(ctx, "CalibrateOne",
		trace.WithAttributes(attribute.String("menu_item.id", menuItemID)),
	)
	defer span.End()

	lockID := itemLockPrefix + menuItemID
	lk, err := s.Locks.Acquire(ctx, lockID, s.ItemLockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockTimeout) {
			return nil, fmt.Errorf("%w: menu item %s", ErrAlreadyRunning, menuItemID)
		}
		return nil, err
	}
	defer func() {
		if _, rerr := s.Locks.Release(context.WithoutCancel(ctx), lockID, lk.Owner); rerr != nil {
			log.Warn().Err(rerr).Str("component", "calibration").Str("lock_id", lockID).Msg("item lock release failed")
		}
	}()

	res, err := s.calibrate(ctx, menuItemID)
	if err != nil && res != nil && errors.Is(err, repo.ErrStockConflict) {
		log.Warn().Err(err).Str("component", "calibration").Str("menu_item_id", menuItemID).
			Msg("stock write conflict, forcing reset")
		if ferr := s.forceReset(ctx, res); ferr != nil {
			itemsTotal.WithLabelValues("failed").Inc()
			span.RecordError(ferr)
			return nil, errors.Join(err, ferr)
		}
		itemsTotal.WithLabelValues("fallback").Inc()
		return res, nil
	}
	if err != nil {
		itemsTotal.WithLabelValues("failed").Inc()
		span.RecordError(err)
		return nil, err
	}
	itemsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

// calibrate does the work of CalibrateOne. On error it still returns the
// partial result once the item has been loaded.
func (s *Service) calibrate(ctx context.Context, id string) (*Result, error) {
	item, err := s.Repo.GetMenuItem(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMenuItemNotFound, id)
		}
		return nil, fmt.Errorf("load menu item %s: %w", id, err)
	}
	res := &Result{
		MenuItemID:     item.ID,
		Name:           item.Name,
		PreviousStatus: statusOf(item.IsActive),
		CurrentStatus:  statusOf(item.IsActive),
	}

	lines, err := s.Repo.DefaultIngredients(ctx, s.DB, id)
	if err != nil {
		return res, fmt.Errorf("load recipe of %s: %w", id, err)
	}
	res.CalculatedStock = s.Yield.Portions(lines)
	now := s.Clock.Now()

	stock, err := s.Repo.GetStock(ctx, s.DB, id)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return res, fmt.Errorf("load stock of %s: %w", id, err)
	}

	var manual *int
	if stock != nil && stock.ManualStock != nil {
		m := *stock.ManualStock
		manual = &m
		if m < 0 {
			reset, err := s.Repo.ResetNegativeManualStock(ctx, s.DB, id, now)
			if err != nil {
				return res, fmt.Errorf("reset manual stock of %s: %w", id, err)
			}
			if reset {
				prev, zero := m, 0
				res.ManualStockReset = true
				res.PreviousManualStock = &prev
				manual = &zero
			} else if fresh, err := s.Repo.GetStock(ctx, s.DB, id); err == nil {
				// Someone corrected it first; use their value.
				manual = fresh.ManualStock
			}
		}
	}
	res.ManualStock = manual

	manualSet := manual != nil && *manual != 0
	effective := res.CalculatedStock
	if manualSet {
		effective = *manual
	}
	if err := s.Repo.WriteCurrentStock(ctx, s.DB, id, res.CalculatedStock, effective, now); err != nil {
		return res, fmt.Errorf("write stock of %s: %w", id, err)
	}
	res.EffectiveStock = effective

	active := effective > 0
	if manualSet {
		active = *manual >= 1
	}
	if err := s.Repo.UpdateMenuItemAvailability(ctx, s.DB, id, active, effective, now); err != nil {
		return res, fmt.Errorf("update availability of %s: %w", id, err)
	}
	res.CurrentStatus = statusOf(active)
	res.StatusChange = change(item.IsActive, active)
	return res, nil
}

// forceReset zeroes the item's stock and takes it off sale.
func (s *Service) forceReset(ctx context.Context, res *Result) error {
	now := s.Clock.Now()
	if err := s.Repo.ForceResetStock(ctx, s.DB, res.MenuItemID, now); err != nil {
		return fmt.Errorf("force reset stock of %s: %w", res.MenuItemID, err)
	}
	if err := s.Repo.UpdateMenuItemAvailability(ctx, s.DB, res.MenuItemID, false, 0, now); err != nil {
		return fmt.Errorf("deactivate %s: %w", res.MenuItemID, err)
	}
	res.FallbackUsed = true
	res.EffectiveStock = 0
	res.CurrentStatus = StatusInactive
	res.StatusChange = change(res.PreviousStatus == StatusActive, false)
	return nil
}

func change(was, now bool) StatusChange {
	switch {
	case !was && now:
		return Activated
	case was && !now:
		return Deactivated
	default:
		return ""
	}
}
