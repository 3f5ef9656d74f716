package repo

import (
	"database/sql/driver"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/pos-coordinator/internal/domain"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// newTestDB opens a migrated SQLite file in a temp dir.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	// One connection keeps PRAGMAs in effect and serializes writers.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newMockDB returns a GORM handle speaking the Postgres dialect over sqlmock.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open gorm over sqlmock: %v", err)
	}
	return db, mock
}

// Any matches any sqlmock argument.
type Any struct{}

// Match satisfies the sqlmock.Argument interface.
func (Any) Match(driver.Value) bool { return true }

func seedMenuItem(t *testing.T, db *gorm.DB, id string, active bool, stock int) {
	t.Helper()
	m := domain.MenuItem{ID: id, OutletID: "O1", Name: "item " + id, Category: "food", IsActive: active, AvailableStock: stock}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed menu item %s: %v", id, err)
	}
}

func seedStock(t *testing.T, db *gorm.DB, id string, calculated int, manual *int, current int) {
	t.Helper()
	s := domain.MenuStock{MenuItemID: id, CalculatedStock: calculated, ManualStock: manual, CurrentStock: current}
	if err := db.Omit("MenuItem").Create(&s).Error; err != nil {
		t.Fatalf("seed stock %s: %v", id, err)
	}
}

func intPtr(v int) *int { return &v }
