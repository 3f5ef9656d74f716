// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the menu item reads and writes used by
// stock calibration.
//
// Functions:
//
//   - StreamMenuItems(ctx, db, batchSize, fn)
//     Walks every menu item in primary-key order, batchSize rows at a time,
//     loading only id, name, is_active and available_stock.
//
//   - GetMenuItem(ctx, db, id) -> *domain.MenuItem, error
//
//   - DefaultIngredients(ctx, db, menuItemID) -> []domain.RecipeIngredient, error
//     Returns the default recipe lines of the item with their raw material.
//
//   - UpdateMenuItemAvailability(ctx, db, id, active, stock, now) -> error
//     Writes the active flag and available stock in one statement.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

// StreamMenuItems calls fn once per batch of projected menu items. An error
// returned by fn stops the walk and is returned.
func StreamMenuItems(ctx context.Context, db *gorm.DB, batchSize int, fn func([]domain.MenuItem) error) error {
	if batchSize <= 0 {
		batchSize = 25
	}
	var batch []domain.MenuItem
	res := db.WithContext(ctx).
		Model(&domain.MenuItem{}).
		Select("id", "name", "is_active", "available_stock").
		FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
			items := make([]domain.MenuItem, len(batch))
			copy(items, batch)
			return fn(items)
		})
	return res.Error
}

// GetMenuItem fetches a menu item by id, or ErrNotFound.
func GetMenuItem(ctx context.Context, db *gorm.DB, id string) (*domain.MenuItem, error) {
	var m domain.MenuItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// DefaultIngredients returns the default lines of the item's recipe with
// their raw material preloaded. An item without a recipe yields no lines.
func DefaultIngredients(ctx context.Context, db *gorm.DB, menuItemID string) ([]domain.RecipeIngredient, error) {
	var out []domain.RecipeIngredient
	err := db.WithContext(ctx).
		Joins("JOIN recipes ON recipes.id = recipe_ingredients.recipe_id").
		Where("recipes.menu_item_id = ? AND recipe_ingredients.is_default = ?", menuItemID, true).
		Preload("RawMaterial").
		Order("recipe_ingredients.id ASC").
		Find(&out).Error
	return out, err
}

// UpdateMenuItemAvailability sets the active flag and available stock of a
// menu item. Returns ErrNotFound if the item does not exist.
func UpdateMenuItemAvailability(ctx context.Context, db *gorm.DB, id string, active bool, stock int, now time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.MenuItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":       active,
			"available_stock": stock,
			"updated_at":      now.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
