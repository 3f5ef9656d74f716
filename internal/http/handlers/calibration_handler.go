// Stock calibration HTTP handlers.
//
//   - POST /stock/calibrations                 (full run)
//   - POST /stock/calibrations/selected        (listed items)
//   - POST /stock/calibrations/{menuItemId}    (one item)
//   - POST /stock/manual-resets                (clear negative manual stock)
//
// Runs are synchronous; the response is the run summary.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/pos-coordinator/internal/calibration"
)

// CalibrateSelectedRequest lists the menu items to calibrate.
type CalibrateSelectedRequest struct {
	MenuItemIDs []string `json:"menuItemIds" binding:"required,min=1,max=500" example:"m-espresso,m-nasi-goreng"`
}

// CalibrateSelectedResponse carries the run summary and per-item results.
type CalibrateSelectedResponse struct {
	Summary calibration.Summary   `json:"summary"`
	Results []*calibration.Result `json:"results"`
}

// CalibrateAll godoc
// @ID          calibrateAll
// @Summary     Calibrate every menu item
// @Description Recomputes stock and availability for the whole catalog. Only one full run can be active across all instances.
// @Tags        Stock
// @Produce     json
// @Success     200  {object}  calibration.Summary
// @Failure     409  {object}  handlers.ErrorResponse  "Run already in progress"
// @Failure     500  {object}  handlers.ErrorResponse  "Run failed"
// @Router      /stock/calibrations [post]
func (h *Handlers) CalibrateAll(c *gin.Context) {
	sum, err := h.calib.CalibrateAll(c.Request.Context())
	switch {
	case errors.Is(err, calibration.ErrAlreadyRunning):
		fail(c, http.StatusConflict, ErrCodeCalibrationRunning, err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeCalibrationFailed, err.Error())
	case !sum.Success:
		fail(c, http.StatusInternalServerError, ErrCodeCalibrationFailed, sum.Error)
	default:
		ok(c, http.StatusOK, sum)
	}
}

// CalibrateSelected godoc
// @ID          calibrateSelected
// @Summary     Calibrate listed menu items
// @Tags        Stock
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CalibrateSelectedRequest  true  "Menu item ids"
// @Success     200  {object}  handlers.CalibrateSelectedResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /stock/calibrations/selected [post]
func (h *Handlers) CalibrateSelected(c *gin.Context) {
	var req CalibrateSelectedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "menuItemIds must list 1 to 500 ids")
		return
	}
	sum, results := h.calib.CalibrateSelected(c.Request.Context(), req.MenuItemIDs)
	ok(c, http.StatusOK, CalibrateSelectedResponse{Summary: sum, Results: results})
}

// CalibrateOne godoc
// @ID          calibrateOne
// @Summary     Calibrate one menu item
// @Tags        Stock
// @Produce     json
// @Param       menuItemId  path  string  true  "Menu item ID"  example(m-espresso)
// @Success     200  {object}  calibration.Result
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown menu item"
// @Failure     409  {object}  handlers.ErrorResponse  "Item is being calibrated"
// @Failure     500  {object}  handlers.ErrorResponse  "Calibration failed"
// @Router      /stock/calibrations/{menuItemId} [post]
func (h *Handlers) CalibrateOne(c *gin.Context) {
	res, err := h.calib.CalibrateOne(c.Request.Context(), c.Param("menuItemId"))
	switch {
	case errors.Is(err, calibration.ErrMenuItemNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, calibration.ErrAlreadyRunning):
		fail(c, http.StatusConflict, ErrCodeCalibrationRunning, err.Error())
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeCalibrationFailed, err.Error())
	default:
		ok(c, http.StatusOK, res)
	}
}

// ResetManualStocks godoc
// @ID          resetManualStocks
// @Summary     Clear negative manual stock
// @Description Resets every negative manual override to zero and refreshes the parent menu items. Individual failures are listed in the result.
// @Tags        Stock
// @Produce     json
// @Success     200  {object}  calibration.BulkResetResult
// @Failure     500  {object}  handlers.ErrorResponse  "Could not list stock"
// @Router      /stock/manual-resets [post]
func (h *Handlers) ResetManualStocks(c *gin.Context) {
	res := h.calib.BulkResetMinusManualStocks(c.Request.Context())
	if res.Error != "" {
		fail(c, http.StatusInternalServerError, ErrCodeResetFailed, res.Error)
		return
	}
	ok(c, http.StatusOK, res)
}
