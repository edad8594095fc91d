// Package services – AuditService
//
// AuditService exposes the append-only audit log for operators. Entries are
// written by the ledger inside the mutating transaction; this service only
// reads them, newest first.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/repo"
	"github.com/tbourn/go-entitlements/internal/utils"
)

// AuditService lists audit entries.
type AuditService struct {
	DB *gorm.DB
}

// NewAuditService constructs an AuditService.
func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db}
}

// ListPage returns a page of audit entries, optionally for one identity.
// page and pageSize are clamped with utils.ClampPage. The total count is
// returned alongside the page.
func (s *AuditService) ListPage(ctx context.Context, identityID string, page, pageSize int) ([]domain.AuditLogEntry, int64, error) {
	page, pageSize = utils.ClampPage(page, pageSize)

	total, err := repo.CountAudit(ctx, s.DB, identityID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.AuditLogEntry{}, 0, nil
	}
	items, err := repo.ListAuditPage(ctx, s.DB, identityID, utils.Offset(page, pageSize), pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
