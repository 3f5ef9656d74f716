package repo

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrStockConflict marks a stock write rejected by the store: a violated
// stock constraint or a concurrent write the database refused to serialize.
// Calibration answers it with a forced reset instead of failing the item.
var ErrStockConflict = errors.New("stock write conflict")

// classifyStockErr wraps store errors that indicate a stock write conflict
// with ErrStockConflict and returns every other error untouched.
func classifyStockErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrCheckConstraintViolated) || errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrStockConflict, err)
	}
	// glebarez/sqlite and pgx report constraint and serialization failures
	// as plain text unless TranslateError is enabled.
	low := strings.ToLower(err.Error())
	for _, marker := range []string{
		"constraint failed",
		"violates check constraint",
		"could not serialize access",
		"deadlock detected",
	} {
		if strings.Contains(low, marker) {
			return fmt.Errorf("%w: %v", ErrStockConflict, err)
		}
	}
	return err
}
