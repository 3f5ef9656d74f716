package domain

import "time"

// DistributedLock is the storage row behind a named job lock. At most one
// non-expired row exists per LockID; an expired row may be taken over by any
// acquirer without being deleted first.
type DistributedLock struct {
	LockID    string    `json:"lock_id"    gorm:"column:lock_id;type:varchar(191);primaryKey"`
	Owner     string    `json:"owner"      gorm:"type:varchar(191);not null"`
	LockedAt  time.Time `json:"locked_at"  gorm:"not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null;index:idx_locks_expires"`
}

// TableName returns the database table name for DistributedLock.
func (DistributedLock) TableName() string { return "distributed_locks" }

// Expired reports whether the lock is no longer valid at now.
func (l DistributedLock) Expired(now time.Time) bool { return !l.ExpiresAt.After(now) }
