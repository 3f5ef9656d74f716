// Order HTTP handlers.
//
//   - POST /orders/broadcast                 (route a new order to devices)
//   - POST /workstations/{role}/broadcast    (free-form message to a station)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-coordinator/internal/broadcast"
)

// WorkstationBroadcastRequest is the payload of a station message.
type WorkstationBroadcastRequest struct {
	OutletID string `json:"outletId" binding:"required" example:"O1"`
	Event    string `json:"event"    binding:"required" example:"order_recalled"`
	Data     any    `json:"data"`
}

// WorkstationBroadcastResponse reports how many connections were reached.
type WorkstationBroadcastResponse struct {
	Role      string `json:"role"`
	OutletID  string `json:"outletId"`
	Delivered int    `json:"delivered"`
}

// BroadcastOrder godoc
// @ID          broadcastOrder
// @Summary     Broadcast an order
// @Description Sends beverage items to bar devices first and kitchen items to kitchen devices, possibly deferred. Retries carrying the same Idempotency-Key get the first summary back with Idempotent-Replay: true.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header  string  false  "Client retry key"  example(order-7f3a)
// @Param       body  body  broadcast.OrderEvent  true  "Order event"
// @Success     200  {object}  broadcast.Summary
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Same key still in progress"
// @Failure     500  {object}  handlers.ErrorResponse  "Broadcast failed"
// @Router      /orders/broadcast [post]
func (h *Handlers) BroadcastOrder(c *gin.Context) {
	var ev broadcast.OrderEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid order event: outletId is required")
		return
	}
	sum := h.orders.BroadcastOrder(c.Request.Context(), ev)
	if !sum.Success {
		fail(c, http.StatusInternalServerError, ErrCodeBroadcastFailed, sum.Error)
		return
	}
	ok(c, http.StatusOK, sum)
}

// BroadcastToWorkstation godoc
// @ID          broadcastToWorkstation
// @Summary     Message a workstation
// @Description Emits an arbitrary event to every device of the outlet whose role contains the path role.
// @Tags        Orders
// @Accept      json
// @Produce     json
// @Param       role  path  string  true  "Role substring"  example(kitchen)
// @Param       body  body  handlers.WorkstationBroadcastRequest  true  "Message"
// @Success     200  {object}  handlers.WorkstationBroadcastResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /workstations/{role}/broadcast [post]
func (h *Handlers) BroadcastToWorkstation(c *gin.Context) {
	role := strings.TrimSpace(c.Param("role"))
	var req WorkstationBroadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil || role == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "outletId and event are required")
		return
	}
	n := h.orders.BroadcastToWorkstation(c.Request.Context(), role, req.OutletID, req.Event, req.Data)
	ok(c, http.StatusOK, WorkstationBroadcastResponse{Role: role, OutletID: req.OutletID, Delivered: n})
}
