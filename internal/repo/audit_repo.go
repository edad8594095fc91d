// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the append-only audit log.
package repo

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// AppendAudit inserts e, assigning a ULID id and UTC timestamp when unset.
// ULIDs sort by creation time, which keeps the log ordered by id.
func AppendAudit(ctx context.Context, db *gorm.DB, e *domain.AuditLogEntry) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(e).Error
}

func auditScope(db *gorm.DB, identityID string) *gorm.DB {
	if identityID != "" {
		return db.Where("identity_id = ?", identityID)
	}
	return db
}

// CountAudit returns the number of audit entries, optionally scoped to one
// identity.
func CountAudit(ctx context.Context, db *gorm.DB, identityID string) (int64, error) {
	var total int64
	err := auditScope(db.WithContext(ctx).Model(&domain.AuditLogEntry{}), identityID).
		Count(&total).Error
	return total, err
}

// ListAuditPage returns a page of audit entries, newest first. Use CountAudit
// for the pagination total.
func ListAuditPage(ctx context.Context, db *gorm.DB, identityID string, offset, limit int) ([]domain.AuditLogEntry, error) {
	var out []domain.AuditLogEntry
	err := auditScope(db.WithContext(ctx), identityID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
