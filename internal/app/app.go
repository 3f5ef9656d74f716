// Package app assembles the coordination core from configuration and a
// database handle: the device registry and websocket hub, the order router,
// the job lock, stock calibration and the maintenance scheduler.
//
// Services depend on narrow repository interfaces; the shim types below
// bridge those interfaces to the free functions of package repo.
package app

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-coordinator/internal/broadcast"
	"github.com/tbourn/pos-coordinator/internal/calibration"
	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/config"
	"github.com/tbourn/pos-coordinator/internal/devices"
	"github.com/tbourn/pos-coordinator/internal/domain"
	"github.com/tbourn/pos-coordinator/internal/lock"
	"github.com/tbourn/pos-coordinator/internal/repo"
	"github.com/tbourn/pos-coordinator/internal/scheduler"
	"github.com/tbourn/pos-coordinator/internal/ws"
)

// lockStoreShim adapts the repo lock functions to lock.Store.
type lockStoreShim struct{}

// TryAcquireLock proxies repo.TryAcquireLock.
func (lockStoreShim) TryAcquireLock(ctx context.Context, db *gorm.DB, lockID, owner string, now, expiresAt time.Time) (bool, error) {
	return repo.TryAcquireLock(ctx, db, lockID, owner, now, expiresAt)
}

// ExtendLock proxies repo.ExtendLock.
func (lockStoreShim) ExtendLock(ctx context.Context, db *gorm.DB, lockID, owner string, now, expiresAt time.Time) (bool, error) {
	return repo.ExtendLock(ctx, db, lockID, owner, now, expiresAt)
}

// ReleaseLock proxies repo.ReleaseLock.
func (lockStoreShim) ReleaseLock(ctx context.Context, db *gorm.DB, lockID, owner string) (bool, error) {
	return repo.ReleaseLock(ctx, db, lockID, owner)
}

// SweepExpiredLocks proxies repo.SweepExpiredLocks.
func (lockStoreShim) SweepExpiredLocks(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	return repo.SweepExpiredLocks(ctx, db, now)
}

// ListLocks proxies repo.ListLocks.
func (lockStoreShim) ListLocks(ctx context.Context, db *gorm.DB) ([]domain.DistributedLock, error) {
	return repo.ListLocks(ctx, db)
}

// calibrationRepoShim adapts the repo menu and stock functions to
// calibration.Repo.
type calibrationRepoShim struct{}

// StreamMenuItems proxies repo.StreamMenuItems.
func (calibrationRepoShim) StreamMenuItems(ctx context.Context, db *gorm.DB, batchSize int, fn func([]domain.MenuItem) error) error {
	return repo.StreamMenuItems(ctx, db, batchSize, fn)
}

// GetMenuItem proxies repo.GetMenuItem.
func (calibrationRepoShim) GetMenuItem(ctx context.Context, db *gorm.DB, id string) (*domain.MenuItem, error) {
	return repo.GetMenuItem(ctx, db, id)
}

// DefaultIngredients proxies repo.DefaultIngredients.
func (calibrationRepoShim) DefaultIngredients(ctx context.Context, db *gorm.DB, menuItemID string) ([]domain.RecipeIngredient, error) {
	return repo.DefaultIngredients(ctx, db, menuItemID)
}

// UpdateMenuItemAvailability proxies repo.UpdateMenuItemAvailability.
func (calibrationRepoShim) UpdateMenuItemAvailability(ctx context.Context, db *gorm.DB, id string, active bool, stock int, now time.Time) error {
	return repo.UpdateMenuItemAvailability(ctx, db, id, active, stock, now)
}

// GetStock proxies repo.GetStock.
func (calibrationRepoShim) GetStock(ctx context.Context, db *gorm.DB, menuItemID string) (*domain.MenuStock, error) {
	return repo.GetStock(ctx, db, menuItemID)
}

// ResetNegativeManualStock proxies repo.ResetNegativeManualStock.
func (calibrationRepoShim) ResetNegativeManualStock(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) (bool, error) {
	return repo.ResetNegativeManualStock(ctx, db, menuItemID, now)
}

// WriteCurrentStock proxies repo.WriteCurrentStock.
func (calibrationRepoShim) WriteCurrentStock(ctx context.Context, db *gorm.DB, menuItemID string, calculated, current int, now time.Time) error {
	return repo.WriteCurrentStock(ctx, db, menuItemID, calculated, current, now)
}

// ForceResetStock proxies repo.ForceResetStock.
func (calibrationRepoShim) ForceResetStock(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) error {
	return repo.ForceResetStock(ctx, db, menuItemID, now)
}

// ListNegativeManualStocks proxies repo.ListNegativeManualStocks.
func (calibrationRepoShim) ListNegativeManualStocks(ctx context.Context, db *gorm.DB) ([]domain.MenuStock, error) {
	return repo.ListNegativeManualStocks(ctx, db)
}

// ResetNegativeManualStockWithParent proxies repo.ResetNegativeManualStockWithParent.
func (calibrationRepoShim) ResetNegativeManualStockWithParent(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) (bool, error) {
	return repo.ResetNegativeManualStockWithParent(ctx, db, menuItemID, now)
}

// deviceDirectory serves ws.Directory from the devices table.
type deviceDirectory struct{ db *gorm.DB }

// GetDevice proxies repo.GetDevice.
func (d deviceDirectory) GetDevice(ctx context.Context, deviceID string) (*domain.Device, error) {
	return repo.GetDevice(ctx, d.db, deviceID)
}

// App holds the assembled components.
type App struct {
	DB          *gorm.DB
	Clock       clock.Clock
	Registry    *devices.Registry
	Hub         *ws.Hub
	Router      *broadcast.Router
	Locks       *lock.Locker
	Calibration *calibration.Service
	Scheduler   *scheduler.Scheduler
}

// New wires every component. A nil clk means the wall clock.
func New(cfg config.Config, db *gorm.DB, clk clock.Clock) *App {
	if clk == nil {
		clk = clock.New()
	}
	reg := devices.NewRegistry(clk)
	hub := ws.NewHub(reg, deviceDirectory{db: db}, ws.Options{
		WriteTimeout:     cfg.WS.WriteTimeout,
		PingInterval:     cfg.WS.PingInterval,
		HandshakeTimeout: cfg.WS.HandshakeTimeout,
		SendBuffer:       cfg.WS.SendBuffer,
		DirectoryTTL:     cfg.WS.DirectoryTTL,
	})
	locker := lock.New(db, lockStoreShim{}, clk, cfg.Lock.RetryDelay)
	cal := calibration.NewService(db, calibrationRepoShim{}, locker, clk, cfg.Calibration)

	return &App{
		DB:          db,
		Clock:       clk,
		Registry:    reg,
		Hub:         hub,
		Router:      broadcast.NewRouter(reg, hub, clk, cfg.Broadcast.KitchenDelay),
		Locks:       locker,
		Calibration: cal,
		Scheduler:   scheduler.New(locker, cal, clk, cfg.Calibration.Interval, cfg.Calibration.Warmup, 0),
	}
}
