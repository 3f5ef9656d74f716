package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-coordinator/internal/broadcast"
	"github.com/tbourn/pos-coordinator/internal/calibration"
	"github.com/tbourn/pos-coordinator/internal/devices"
	"github.com/tbourn/pos-coordinator/internal/domain"
)

// ---------- stubs ----------

type stubRegistry struct {
	sessions []devices.Session
}

func (s stubRegistry) Snapshot() devices.Snapshot {
	out := devices.Snapshot{TotalConnected: len(s.sessions)}
	for _, x := range s.sessions {
		out.Devices = append(out.Devices, devices.Summary{ConnectionID: x.ConnectionID, DeviceID: x.DeviceID, OutletID: x.OutletID})
	}
	return out
}

func (s stubRegistry) GetByDeviceID(id string) (devices.Session, bool) {
	for _, x := range s.sessions {
		if x.DeviceID == id {
			return x, true
		}
	}
	return devices.Session{}, false
}

func (s stubRegistry) ListByOutlet(outletID string) []devices.Session {
	var out []devices.Session
	for _, x := range s.sessions {
		if x.OutletID == outletID {
			out = append(out, x)
		}
	}
	return out
}

func (s stubRegistry) ListByRole(role, outletID string) []devices.Session {
	var out []devices.Session
	for _, x := range s.ListByOutlet(outletID) {
		if strings.Contains(x.Role, role) {
			out = append(out, x)
		}
	}
	return out
}

type stubOrders struct {
	got     broadcast.OrderEvent
	sum     broadcast.Summary
	station []string
}

func (s *stubOrders) BroadcastOrder(_ context.Context, ev broadcast.OrderEvent) broadcast.Summary {
	s.got = ev
	return s.sum
}

func (s *stubOrders) BroadcastToWorkstation(_ context.Context, role, outletID, event string, _ any) int {
	s.station = []string{role, outletID, event}
	return 2
}

type stubCalib struct {
	oneErr   error
	allErr   error
	allSum   calibration.Summary
	selected []string
	reset    calibration.BulkResetResult
}

func (s *stubCalib) CalibrateOne(_ context.Context, id string) (*calibration.Result, error) {
	if s.oneErr != nil {
		return nil, s.oneErr
	}
	return &calibration.Result{MenuItemID: id, CurrentStatus: calibration.StatusActive}, nil
}

func (s *stubCalib) CalibrateAll(context.Context) (calibration.Summary, error) {
	return s.allSum, s.allErr
}

func (s *stubCalib) CalibrateSelected(_ context.Context, ids []string) (calibration.Summary, []*calibration.Result) {
	s.selected = ids
	return calibration.Summary{Success: true, Processed: len(ids)}, nil
}

func (s *stubCalib) BulkResetMinusManualStocks(context.Context) calibration.BulkResetResult {
	return s.reset
}

type stubLocks struct {
	rows []domain.DistributedLock
	err  error
}

func (s stubLocks) SweepExpired(context.Context) (int64, error) { return 3, s.err }
func (s stubLocks) List(context.Context) ([]domain.DistributedLock, error) {
	return s.rows, s.err
}

// ---------- harness ----------

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/devices", h.ListDevices)
	r.GET("/devices/:deviceId", h.GetDevice)
	r.GET("/outlets/:outletId/devices", h.ListOutletDevices)
	r.POST("/orders/broadcast", h.BroadcastOrder)
	r.POST("/workstations/:role/broadcast", h.BroadcastToWorkstation)
	r.POST("/stock/calibrations", h.CalibrateAll)
	r.POST("/stock/calibrations/selected", h.CalibrateSelected)
	r.POST("/stock/calibrations/:menuItemId", h.CalibrateOne)
	r.POST("/stock/manual-resets", h.ResetManualStocks)
	r.GET("/locks", h.ListLocks)
	r.POST("/locks/cleanup", h.CleanupLocks)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v (%s)", v, err, w.Body.String())
	}
	return v
}

var connectedAt = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func sampleRegistry() stubRegistry {
	return stubRegistry{sessions: []devices.Session{
		{ConnectionID: "c1", DeviceID: "bar-1", OutletID: "O1", Role: "bar", Workstation: devices.Bar, ConnectedAt: connectedAt},
		{ConnectionID: "c2", DeviceID: "kds-1", OutletID: "O1", Role: "kitchen-senior", Workstation: devices.Kitchen, ConnectedAt: connectedAt},
		{ConnectionID: "c3", DeviceID: "kds-9", OutletID: "O2", Role: "kitchen", Workstation: devices.Kitchen, ConnectedAt: connectedAt},
	}}
}

// ---------- devices ----------

func TestDeviceEndpoints(t *testing.T) {
	r := newRouter(New(sampleRegistry(), nil, nil, nil))

	w := do(r, http.MethodGet, "/devices", "")
	snap := decode[devices.Snapshot](t, w)
	if w.Code != http.StatusOK || snap.TotalConnected != 3 {
		t.Fatalf("snapshot: %d %+v", w.Code, snap)
	}

	w = do(r, http.MethodGet, "/devices/kds-1", "")
	dev := decode[map[string]any](t, w)
	if w.Code != http.StatusOK || dev["connectionId"] != "c2" || dev["workstation"] != "kitchen" {
		t.Fatalf("device: %d %v", w.Code, dev)
	}

	w = do(r, http.MethodGet, "/devices/ghost", "")
	if w.Code != http.StatusNotFound || decode[ErrorResponse](t, w).Code != ErrCodeNotFound {
		t.Fatalf("ghost: %d", w.Code)
	}

	w = do(r, http.MethodGet, "/outlets/O1/devices", "")
	if got := decode[OutletDevicesResponse](t, w); got.Count != 2 {
		t.Fatalf("outlet devices: %+v", got)
	}
	w = do(r, http.MethodGet, "/outlets/O1/devices?role=kitchen", "")
	if got := decode[OutletDevicesResponse](t, w); got.Count != 1 || got.Devices[0].DeviceID != "kds-1" || got.Role != "kitchen" {
		t.Fatalf("role filter: %+v", got)
	}
}

// ---------- orders ----------

func TestBroadcastOrder(t *testing.T) {
	orders := &stubOrders{sum: broadcast.Summary{Success: true, OrderID: "ord-1", DevicesNotified: 2, KitchenDeferred: true}}
	r := newRouter(New(nil, orders, nil, nil))

	body := `{"orderId":"ord-1","outletId":"O1","tableNumber":"A12","orderItems":[{"name":"Es Teh","category":"Minuman","quantity":2}]}`
	w := do(r, http.MethodPost, "/orders/broadcast", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if sum := decode[broadcast.Summary](t, w); !sum.KitchenDeferred || sum.DevicesNotified != 2 {
		t.Fatalf("summary: %+v", sum)
	}
	if orders.got.OutletID != "O1" || len(orders.got.Items) != 1 || orders.got.Items[0].Quantity != 2 {
		t.Fatalf("event not bound: %+v", orders.got)
	}
}

func TestBroadcastOrder_Validation(t *testing.T) {
	r := newRouter(New(nil, &stubOrders{}, nil, nil))
	for _, body := range []string{`{"orderId":"x"}`, `not json`} {
		w := do(r, http.MethodPost, "/orders/broadcast", body)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%q -> %d", body, w.Code)
		}
	}
}

func TestBroadcastOrder_FailureSummary(t *testing.T) {
	orders := &stubOrders{sum: broadcast.Summary{Success: false, Error: "device directory unavailable"}}
	r := newRouter(New(nil, orders, nil, nil))

	w := do(r, http.MethodPost, "/orders/broadcast", `{"outletId":"O1"}`)
	er := decode[ErrorResponse](t, w)
	if w.Code != http.StatusInternalServerError || er.Code != ErrCodeBroadcastFailed || er.Message != "device directory unavailable" {
		t.Fatalf("failure: %d %+v", w.Code, er)
	}
}

func TestBroadcastToWorkstation(t *testing.T) {
	orders := &stubOrders{}
	r := newRouter(New(nil, orders, nil, nil))

	w := do(r, http.MethodPost, "/workstations/kitchen/broadcast", `{"outletId":"O1","event":"order_recalled","data":{"orderId":"o1"}}`)
	got := decode[WorkstationBroadcastResponse](t, w)
	if w.Code != http.StatusOK || got.Delivered != 2 || got.Role != "kitchen" {
		t.Fatalf("response: %d %+v", w.Code, got)
	}
	if fmt.Sprint(orders.station) != "[kitchen O1 order_recalled]" {
		t.Fatalf("call: %v", orders.station)
	}

	if w := do(r, http.MethodPost, "/workstations/kitchen/broadcast", `{"outletId":"O1"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing event -> %d", w.Code)
	}
}

// ---------- calibration ----------

func TestCalibrateAll_StatusMapping(t *testing.T) {
	tests := []struct {
		name string
		cal  *stubCalib
		code int
		err  string
	}{
		{"ok", &stubCalib{allSum: calibration.Summary{Success: true, Processed: 4}}, http.StatusOK, ""},
		{"running", &stubCalib{allErr: calibration.ErrAlreadyRunning}, http.StatusConflict, ErrCodeCalibrationRunning},
		{"lock store", &stubCalib{allErr: errors.New("db down")}, http.StatusInternalServerError, ErrCodeCalibrationFailed},
		{"stream failed", &stubCalib{allSum: calibration.Summary{Error: "stream menu items: boom"}}, http.StatusInternalServerError, ErrCodeCalibrationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(newRouter(New(nil, nil, tt.cal, nil)), http.MethodPost, "/stock/calibrations", "")
			if w.Code != tt.code {
				t.Fatalf("status = %d", w.Code)
			}
			if tt.err != "" && decode[ErrorResponse](t, w).Code != tt.err {
				t.Fatalf("code mismatch: %s", w.Body.String())
			}
		})
	}
}

func TestCalibrateOne_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: m9", calibration.ErrMenuItemNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: menu item m1", calibration.ErrAlreadyRunning), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := do(newRouter(New(nil, nil, &stubCalib{oneErr: tt.err}, nil)), http.MethodPost, "/stock/calibrations/m1", "")
		if w.Code != tt.code {
			t.Fatalf("err %v -> %d", tt.err, w.Code)
		}
	}

	w := do(newRouter(New(nil, nil, &stubCalib{}, nil)), http.MethodPost, "/stock/calibrations/m1", "")
	if res := decode[calibration.Result](t, w); res.MenuItemID != "m1" {
		t.Fatalf("result: %+v", res)
	}
}

func TestCalibrateSelected(t *testing.T) {
	cal := &stubCalib{}
	r := newRouter(New(nil, nil, cal, nil))

	w := do(r, http.MethodPost, "/stock/calibrations/selected", `{"menuItemIds":["m1","m2"]}`)
	got := decode[CalibrateSelectedResponse](t, w)
	if w.Code != http.StatusOK || got.Summary.Processed != 2 || len(cal.selected) != 2 {
		t.Fatalf("selected: %d %+v", w.Code, got)
	}
	if w := do(r, http.MethodPost, "/stock/calibrations/selected", `{"menuItemIds":[]}`); w.Code != http.StatusBadRequest {
		t.Fatalf("empty list -> %d", w.Code)
	}
}

func TestResetManualStocks(t *testing.T) {
	partial := &stubCalib{reset: calibration.BulkResetResult{Found: 2, Reset: 1, Failed: 1}}
	w := do(newRouter(New(nil, nil, partial, nil)), http.MethodPost, "/stock/manual-resets", "")
	if w.Code != http.StatusOK || decode[calibration.BulkResetResult](t, w).Failed != 1 {
		t.Fatalf("partial: %d %s", w.Code, w.Body.String())
	}

	broken := &stubCalib{reset: calibration.BulkResetResult{Error: "relation does not exist"}}
	w = do(newRouter(New(nil, nil, broken, nil)), http.MethodPost, "/stock/manual-resets", "")
	if w.Code != http.StatusInternalServerError || decode[ErrorResponse](t, w).Code != ErrCodeResetFailed {
		t.Fatalf("broken: %d", w.Code)
	}
}

// ---------- locks ----------

func TestLockEndpoints(t *testing.T) {
	rows := []domain.DistributedLock{{LockID: "calibrate-all-menu-stocks", Owner: "o1"}}
	r := newRouter(New(nil, nil, nil, stubLocks{rows: rows}))

	w := do(r, http.MethodGet, "/locks", "")
	if got := decode[LocksResponse](t, w); len(got.Locks) != 1 || got.Locks[0].LockID != "calibrate-all-menu-stocks" {
		t.Fatalf("locks: %+v", got)
	}
	w = do(r, http.MethodPost, "/locks/cleanup", "")
	if got := decode[CleanupResponse](t, w); got.Removed != 3 {
		t.Fatalf("cleanup: %+v", got)
	}

	r = newRouter(New(nil, nil, nil, stubLocks{err: errors.New("db down")}))
	if w := do(r, http.MethodGet, "/locks", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("list error -> %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/locks/cleanup", ""); w.Code != http.StatusInternalServerError {
		t.Fatalf("cleanup error -> %d", w.Code)
	}
}
