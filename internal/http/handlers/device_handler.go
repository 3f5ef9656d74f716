// Device HTTP handlers.
//
//   - GET /devices                       (registry snapshot)
//   - GET /devices/{deviceId}            (latest connection of a device)
//   - GET /outlets/{outletId}/devices    (connected devices of an outlet, ?role=)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-coordinator/internal/devices"
)

// DeviceResponse is a connected device with its resolved workstation tags.
type DeviceResponse struct {
	devices.Session
	Workstation string `json:"workstation" example:"bar+kitchen"`
}

// OutletDevicesResponse lists the connected devices of an outlet.
type OutletDevicesResponse struct {
	OutletID string           `json:"outletId"`
	Role     string           `json:"role,omitempty"`
	Count    int              `json:"count"`
	Devices  []DeviceResponse `json:"devices"`
}

func deviceResponse(s devices.Session) DeviceResponse {
	return DeviceResponse{Session: s, Workstation: s.Workstation.String()}
}

// ListDevices godoc
// @ID          listDevices
// @Summary     Registry snapshot
// @Description Returns every live device connection of this process.
// @Tags        Devices
// @Produce     json
// @Success     200  {object}  devices.Snapshot
// @Router      /devices [get]
func (h *Handlers) ListDevices(c *gin.Context) {
	ok(c, http.StatusOK, h.devices.Snapshot())
}

// GetDevice godoc
// @ID          getDevice
// @Summary     Get a connected device
// @Tags        Devices
// @Produce     json
// @Param       deviceId  path  string  true  "Device ID"  example(kds-hot-1)
// @Success     200  {object}  handlers.DeviceResponse
// @Failure     404  {object}  handlers.ErrorResponse  "Device not connected"
// @Router      /devices/{deviceId} [get]
func (h *Handlers) GetDevice(c *gin.Context) {
	s, found := h.devices.GetByDeviceID(c.Param("deviceId"))
	if !found {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "device not connected")
		return
	}
	ok(c, http.StatusOK, deviceResponse(s))
}

// ListOutletDevices godoc
// @ID          listOutletDevices
// @Summary     Connected devices of an outlet
// @Description Lists the outlet's live connections. With ?role= only devices whose role contains the value (case-insensitive) are returned.
// @Tags        Devices
// @Produce     json
// @Param       outletId  path   string  true   "Outlet ID"  example(O1)
// @Param       role      query  string  false  "Role substring"  example(kitchen)
// @Success     200  {object}  handlers.OutletDevicesResponse
// @Router      /outlets/{outletId}/devices [get]
func (h *Handlers) ListOutletDevices(c *gin.Context) {
	outletID := c.Param("outletId")
	role := strings.TrimSpace(c.Query("role"))

	var ss []devices.Session
	if role != "" {
		ss = h.devices.ListByRole(role, outletID)
	} else {
		ss = h.devices.ListByOutlet(outletID)
	}
	out := make([]DeviceResponse, 0, len(ss))
	for _, s := range ss {
		out = append(out, deviceResponse(s))
	}
	ok(c, http.StatusOK, OutletDevicesResponse{OutletID: outletID, Role: role, Count: len(out), Devices: out})
}
