package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

// GetDevice fetches a device directory entry by device id, or ErrNotFound.
func GetDevice(ctx context.Context, db *gorm.DB, deviceID string) (*domain.Device, error) {
	var d domain.Device
	if err := db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDevice creates or fully replaces a device directory entry.
func UpsertDevice(ctx context.Context, db *gorm.DB, d *domain.Device) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}},
			UpdateAll: true,
		}).
		Create(d).Error
}

// ListDevices returns the directory entries of an outlet ordered by id.
func ListDevices(ctx context.Context, db *gorm.DB, outletID string) ([]domain.Device, error) {
	var out []domain.Device
	err := db.WithContext(ctx).
		Where("outlet_id = ?", outletID).
		Order("device_id ASC").
		Find(&out).Error
	return out, err
}
