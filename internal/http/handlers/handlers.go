package handlers

import (
	"context"

	"github.com/tbourn/pos-coordinator/internal/broadcast"
	"github.com/tbourn/pos-coordinator/internal/calibration"
	"github.com/tbourn/pos-coordinator/internal/devices"
	"github.com/tbourn/pos-coordinator/internal/domain"
)

//
// Service contracts
//

// DeviceRegistry answers which devices are connected right now.
type DeviceRegistry interface {
	Snapshot() devices.Snapshot
	GetByDeviceID(deviceID string) (devices.Session, bool)
	ListByOutlet(outletID string) []devices.Session
	ListByRole(role, outletID string) []devices.Session
}

// OrderBroadcaster routes orders and station messages to devices.
type OrderBroadcaster interface {
	BroadcastOrder(ctx context.Context, ev broadcast.OrderEvent) broadcast.Summary
	BroadcastToWorkstation(ctx context.Context, role, outletID, event string, data any) int
}

// Calibrator runs stock calibration jobs.
type Calibrator interface {
	CalibrateOne(ctx context.Context, menuItemID string) (*calibration.Result, error)
	CalibrateAll(ctx context.Context) (calibration.Summary, error)
	CalibrateSelected(ctx context.Context, ids []string) (calibration.Summary, []*calibration.Result)
	BulkResetMinusManualStocks(ctx context.Context) calibration.BulkResetResult
}

// LockAdmin exposes lock housekeeping.
type LockAdmin interface {
	SweepExpired(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]domain.DistributedLock, error)
}

// Handlers groups the HTTP endpoints. Each dependency may be nil when the
// corresponding routes are not mounted.
type Handlers struct {
	devices DeviceRegistry
	orders  OrderBroadcaster
	calib   Calibrator
	locks   LockAdmin
}

// New constructs Handlers bound to the given services.
func New(reg DeviceRegistry, orders OrderBroadcaster, calib Calibrator, locks LockAdmin) *Handlers {
	return &Handlers{devices: reg, orders: orders, calib: calib, locks: locks}
}
