package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-entitlements/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:repo_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

// newMigratedDB returns a test DB with the full schema.
func newMigratedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db := newTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestEntitlementStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := EntitlementStats(context.Background(), db, "i1")
	if err == nil {
		t.Fatalf("expected error due to missing entitlements table")
	}
}

func TestEntitlementStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.Entitlement{})
	count, maxAt, err := EntitlementStats(context.Background(), db, "i1")
	if err != nil {
		t.Fatalf("EntitlementStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestEntitlementStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.Entitlement{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // max for i1
	t3 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)   // other identity

	rows := []*domain.Entitlement{
		{ID: "e1", IdentityID: "i1", ProductID: "a", Source: domain.SourceBundle, GrantedAt: t1, CreatedAt: t1, UpdatedAt: t1},
		{ID: "e2", IdentityID: "i1", ProductID: "b", Source: domain.SourceBundle, GrantedAt: t2, CreatedAt: t2, UpdatedAt: t2},
		{ID: "e3", IdentityID: "i2", ProductID: "a", Source: domain.SourceBundle, GrantedAt: t3, CreatedAt: t3, UpdatedAt: t3},
	}
	for _, r := range rows {
		if err := db.Create(r).Error; err != nil {
			t.Fatalf("seed %s: %v", r.ID, err)
		}
	}

	count, maxAt, err := EntitlementStats(context.Background(), db, "i1")
	if err != nil {
		t.Fatalf("EntitlementStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxUpdatedAt %v, got %v", t2, maxAt)
	}
}

// Force the second query (SELECT updated_at ...) to fail by renaming the column.
func TestEntitlementStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.Entitlement{})

	now := time.Now().UTC()
	if err := db.Create(&domain.Entitlement{
		ID: "ex", IdentityID: "ierr", ProductID: "a", Source: domain.SourceBundle,
		GrantedAt: now, CreatedAt: now, UpdatedAt: now,
	}).Error; err != nil {
		t.Fatalf("seed entitlement: %v", err)
	}

	if err := db.Exec(`ALTER TABLE entitlements RENAME COLUMN updated_at TO updated_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	_, _, err := EntitlementStats(context.Background(), db, "ierr")
	if err == nil {
		t.Fatalf("expected error from latest-updated select after column rename")
	}
}
