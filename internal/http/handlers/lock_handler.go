// Lock diagnostics.
//
//   - GET  /locks          (current lock rows)
//   - POST /locks/cleanup  (delete expired rows)
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

// LocksResponse lists lock rows.
type LocksResponse struct {
	Locks []domain.DistributedLock `json:"locks"`
}

// CleanupResponse reports how many expired rows were removed.
type CleanupResponse struct {
	Removed int64 `json:"removed"`
}

// ListLocks godoc
// @ID          listLocks
// @Summary     Current lock rows
// @Tags        Locks
// @Produce     json
// @Success     200  {object}  handlers.LocksResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Store error"
// @Router      /locks [get]
func (h *Handlers) ListLocks(c *gin.Context) {
	rows, err := h.locks.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeLockFailed, err.Error())
		return
	}
	if rows == nil {
		rows = []domain.DistributedLock{}
	}
	ok(c, http.StatusOK, LocksResponse{Locks: rows})
}

// CleanupLocks godoc
// @ID          cleanupLocks
// @Summary     Delete expired locks
// @Tags        Locks
// @Produce     json
// @Success     200  {object}  handlers.CleanupResponse
// @Failure     500  {object}  handlers.ErrorResponse  "Store error"
// @Router      /locks/cleanup [post]
func (h *Handlers) CleanupLocks(c *gin.Context) {
	n, err := h.locks.SweepExpired(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeLockFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, CleanupResponse{Removed: n})
}
