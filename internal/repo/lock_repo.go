// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the conditional writes behind the
// distributed job lock.
//
// Every mutation of a lock row goes through one of these functions and each
// is a single statement whose WHERE clause carries the whole precondition:
//
//   - TryAcquireLock: INSERT ... ON CONFLICT (lock_id) DO UPDATE ... WHERE
//     the stored row has expired (expires_at <= now). Two racing acquirers
//     can never both observe a changed row.
//   - ExtendLock: UPDATE guarded by owner match and "not yet expired".
//   - ReleaseLock: DELETE guarded by owner match.
//   - SweepExpiredLocks: DELETE of rows whose deadline has passed.
//
// Callers pass timestamps explicitly (UTC) so that a single clock drives
// both the stored deadline and the expiry comparison.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

// TryAcquireLock inserts the lock row or takes over an expired one. It
// reports true only when this call wrote the row.
func TryAcquireLock(ctx context.Context, db *gorm.DB, lockID, owner string, now, expiresAt time.Time) (bool, error) {
	row := domain.DistributedLock{
		LockID:    lockID,
		Owner:     owner,
		LockedAt:  now.UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lock_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"owner", "locked_at", "expires_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Lte{
					Column: clause.Column{Table: domain.DistributedLock{}.TableName(), Name: "expires_at"},
					Value:  now.UTC(),
				},
			}},
		}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExtendLock moves the deadline of a lock still held by owner to expiresAt.
// It reports false when the owner no longer matches or the lock has already
// expired.
func ExtendLock(ctx context.Context, db *gorm.DB, lockID, owner string, now, expiresAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.DistributedLock{}).
		Where("lock_id = ? AND owner = ? AND expires_at > ?", lockID, owner, now.UTC()).
		Update("expires_at", expiresAt.UTC())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseLock deletes the lock row if owner still holds it.
func ReleaseLock(ctx context.Context, db *gorm.DB, lockID, owner string) (bool, error) {
	res := db.WithContext(ctx).
		Where("lock_id = ? AND owner = ?", lockID, owner).
		Delete(&domain.DistributedLock{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SweepExpiredLocks deletes every lock whose deadline is at or before now and
// returns the number of rows removed.
func SweepExpiredLocks(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now.UTC()).
		Delete(&domain.DistributedLock{})
	return res.RowsAffected, res.Error
}

// GetLock returns the stored row for lockID or ErrNotFound.
func GetLock(ctx context.Context, db *gorm.DB, lockID string) (*domain.DistributedLock, error) {
	var l domain.DistributedLock
	if err := db.WithContext(ctx).Where("lock_id = ?", lockID).First(&l).Error; err != nil {
		return nil, err
	}
	return &l, nil
}

// ListLocks returns every stored lock row ordered by id.
func ListLocks(ctx context.Context, db *gorm.DB) ([]domain.DistributedLock, error) {
	var out []domain.DistributedLock
	err := db.WithContext(ctx).Order("lock_id ASC").Find(&out).Error
	return out, err
}
