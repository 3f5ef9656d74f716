// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable, lowercase snake_case strings returned in the error
// envelope next to the HTTP status. Clients branch on the code, not on the
// message.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "calibration_running",
//	  "message": "calibration already running"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeCalibrationRunning = "calibration_running"
	ErrCodeCalibrationFailed  = "calibration_failed"
	ErrCodeResetFailed        = "reset_failed"
	ErrCodeBroadcastFailed    = "broadcast_failed"
	ErrCodeLockFailed         = "lock_failed"
)
