// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the menu stock writes used by
// calibration. Writes that can collide with a concurrent correction are
// conditioned in their WHERE clause; conflicts reported by the store are
// wrapped with ErrStockConflict.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

// GetStock fetches the stock record of a menu item, or ErrNotFound.
func GetStock(ctx context.Context, db *gorm.DB, menuItemID string) (*domain.MenuStock, error) {
	var s domain.MenuStock
	if err := db.WithContext(ctx).Where("menu_item_id = ?", menuItemID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ResetNegativeManualStock sets a negative manual override to zero. It
// reports false when the override was no longer negative at write time.
func ResetNegativeManualStock(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.MenuStock{}).
		Where("menu_item_id = ? AND manual_stock < 0", menuItemID).
		Updates(map[string]any{"manual_stock": 0, "updated_at": now.UTC()})
	if res.Error != nil {
		return false, classifyStockErr(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// WriteCurrentStock upserts the calculated and current stock of a menu item.
// The manual override column is never touched.
func WriteCurrentStock(ctx context.Context, db *gorm.DB, menuItemID string, calculated, current int, now time.Time) error {
	now = now.UTC()
	row := domain.MenuStock{
		MenuItemID:       menuItemID,
		CalculatedStock:  calculated,
		CurrentStock:     current,
		LastCalibratedAt: &now,
		UpdatedAt:        now,
	}
	err := db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "menu_item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"calculated_stock", "current_stock", "last_calibrated_at", "updated_at"}),
		}).
		Create(&row).Error
	return classifyStockErr(err)
}

// ForceResetStock zeroes the current stock of a menu item unconditionally and
// clears a negative manual override. It is the fallback after a stock
// conflict.
func ForceResetStock(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) error {
	now = now.UTC()
	row := domain.MenuStock{MenuItemID: menuItemID, UpdatedAt: now}
	return db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "menu_item_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"current_stock": 0,
				"manual_stock":  gorm.Expr("CASE WHEN menu_stocks.manual_stock < 0 THEN 0 ELSE menu_stocks.manual_stock END"),
				"updated_at":    now,
			}),
		}).
		Create(&row).Error
}

// ListNegativeManualStocks returns every stock record whose manual override
// is below zero.
func ListNegativeManualStocks(ctx context.Context, db *gorm.DB) ([]domain.MenuStock, error) {
	var out []domain.MenuStock
	err := db.WithContext(ctx).
		Where("manual_stock < 0").
		Order("menu_item_id ASC").
		Find(&out).Error
	return out, err
}

// ResetNegativeManualStockWithParent clears a negative manual override, falls
// back to the calculated stock, and mirrors the result onto the parent menu
// item, all in one transaction. It reports false when the override had
// already been corrected by someone else.
func ResetNegativeManualStockWithParent(ctx context.Context, db *gorm.DB, menuItemID string, now time.Time) (bool, error) {
	now = now.UTC()
	reset := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.MenuStock{}).
			Where("menu_item_id = ? AND manual_stock < 0", menuItemID).
			Updates(map[string]any{
				"manual_stock":  0,
				"current_stock": gorm.Expr("calculated_stock"),
				"updated_at":    now,
			})
		if res.Error != nil {
			return classifyStockErr(res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		reset = true

		var s domain.MenuStock
		if err := tx.Where("menu_item_id = ?", menuItemID).First(&s).Error; err != nil {
			return err
		}
		return tx.Model(&domain.MenuItem{}).
			Where("id = ?", menuItemID).
			Updates(map[string]any{
				"available_stock": s.CurrentStock,
				"is_active":       s.CurrentStock > 0,
				"updated_at":      now,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return reset, nil
}
