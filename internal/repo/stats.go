// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// EntitlementStats returns the number of entitlement rows (active or not) of
// an identity and the greatest UpdatedAt among them.
//
// When the identity has no rows, the returned count is 0 and maxUpdatedAt is
// nil. Any grant or revocation bumps updated_at, so the pair changes whenever
// the identity's access summary can change.
func EntitlementStats(ctx context.Context, db *gorm.DB, identityID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Entitlement{}).Where("identity_id = ?", identityID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
