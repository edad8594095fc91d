// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Entitlement model.
//
// Grants are written with a single INSERT … ON CONFLICT (identity_id,
// product_id, source, source_app) DO UPDATE, so concurrent retries of the same
// grant converge on one row. Revocations only ever touch the rows selected by
// an EntitlementFilter.
//
// Functions:
//
//   - UpsertEntitlement(ctx, db, e) -> *domain.Entitlement, error
//     Inserts or refreshes the row for e's key and returns the stored row.
//
//   - GetEntitlement / GetEntitlementByKey
//     Point reads, ErrNotFound when absent.
//
//   - ListActiveEntitlements(ctx, db, identityID, productID, now)
//     Active rows for one product, most recently granted first.
//
//   - ListActiveForIdentity(ctx, db, identityID, now)
//     Active rows across all products for an identity.
//
//   - CountActive(ctx, db, identityID, productID, now)
//     Number of active rows remaining for one (identity, product).
//
//   - RevokeMatching(ctx, db, filter, reason, now)
//     Revokes every unrevoked row matching filter and returns them.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// ErrEmptyFilter guards against revoking the whole table by accident.
var ErrEmptyFilter = errors.New("entitlement filter must select an id, identity or subscription")

// entitlementKey lists the columns of the unique entitlement key.
var entitlementKey = []clause.Column{
	{Name: "identity_id"},
	{Name: "product_id"},
	{Name: "source"},
	{Name: "source_app"},
}

// refreshedOnGrant lists the columns a re-grant overwrites. Clearing
// revoked_at/revoked_reason is what makes resubscription idempotent.
var refreshedOnGrant = []string{
	"granted_at",
	"expires_at",
	"revoked_at",
	"revoked_reason",
	"bundle_id",
	"stripe_subscription_id",
	"stripe_price_id",
	"amount_paid",
	"currency",
	"updated_at",
}

// UpsertEntitlement atomically inserts e or refreshes the existing row with
// the same (identity_id, product_id, source, source_app) key. The stored row
// is read back, since after a conflict its ID differs from e.ID.
func UpsertEntitlement(ctx context.Context, db *gorm.DB, e *domain.Entitlement) (*domain.Entitlement, error) {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.GrantedAt.IsZero() {
		e.GrantedAt = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	e.RevokedAt = nil
	e.RevokedReason = nil

	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   entitlementKey,
			DoUpdates: clause.AssignmentColumns(refreshedOnGrant),
		}).
		Create(e).Error
	if err != nil {
		return nil, err
	}
	return GetEntitlementByKey(ctx, db, e.IdentityID, e.ProductID, e.Source, e.SourceApp)
}

// GetEntitlement fetches a row by id, or ErrNotFound.
func GetEntitlement(ctx context.Context, db *gorm.DB, id string) (*domain.Entitlement, error) {
	var e domain.Entitlement
	if err := db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntitlementByKey fetches the row for a full entitlement key, or ErrNotFound.
func GetEntitlementByKey(ctx context.Context, db *gorm.DB, identityID, productID, source, sourceApp string) (*domain.Entitlement, error) {
	var e domain.Entitlement
	err := db.WithContext(ctx).
		Where("identity_id = ? AND product_id = ? AND source = ? AND source_app = ?",
			identityID, productID, source, sourceApp).
		First(&e).Error
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func activeAt(q *gorm.DB, now time.Time) *gorm.DB {
	return q.Where("revoked_at IS NULL AND (expires_at IS NULL OR expires_at > ?)", now)
}

// ListActiveEntitlements returns the active rows for (identityID, productID),
// most recently granted first.
func ListActiveEntitlements(ctx context.Context, db *gorm.DB, identityID, productID string, now time.Time) ([]domain.Entitlement, error) {
	var out []domain.Entitlement
	q := db.WithContext(ctx).Where("identity_id = ? AND product_id = ?", identityID, productID)
	err := activeAt(q, now).
		Order("granted_at DESC").
		Find(&out).Error
	return out, err
}

// ListActiveForIdentity returns every active row of an identity, ordered by
// product and then most recent grant.
func ListActiveForIdentity(ctx context.Context, db *gorm.DB, identityID string, now time.Time) ([]domain.Entitlement, error) {
	var out []domain.Entitlement
	q := db.WithContext(ctx).Where("identity_id = ?", identityID)
	err := activeAt(q, now).
		Order("product_id ASC").
		Order("granted_at DESC").
		Find(&out).Error
	return out, err
}

// CountActive returns how many active rows remain for (identityID, productID).
func CountActive(ctx context.Context, db *gorm.DB, identityID, productID string, now time.Time) (int64, error) {
	var n int64
	q := db.WithContext(ctx).Model(&domain.Entitlement{}).
		Where("identity_id = ? AND product_id = ?", identityID, productID)
	err := activeAt(q, now).Count(&n).Error
	return n, err
}

// EntitlementFilter selects rows for revocation. Zero-valued fields are
// ignored; at least one of ID, IdentityID or SubscriptionID must be set.
type EntitlementFilter struct {
	ID             string
	IdentityID     string
	ProductIDs     []string
	Source         string
	SourceApp      *string
	SubscriptionID string
}

func (f EntitlementFilter) empty() bool {
	return f.ID == "" && f.IdentityID == "" && f.SubscriptionID == ""
}

func (f EntitlementFilter) apply(q *gorm.DB) *gorm.DB {
	if f.ID != "" {
		q = q.Where("id = ?", f.ID)
	}
	if f.IdentityID != "" {
		q = q.Where("identity_id = ?", f.IdentityID)
	}
	if len(f.ProductIDs) > 0 {
		q = q.Where("product_id IN ?", f.ProductIDs)
	}
	if f.Source != "" {
		q = q.Where("source = ?", f.Source)
	}
	if f.SourceApp != nil {
		q = q.Where("source_app = ?", *f.SourceApp)
	}
	if f.SubscriptionID != "" {
		q = q.Where("stripe_subscription_id = ?", f.SubscriptionID)
	}
	return q
}

// RevokeMatching sets revoked_at/revoked_reason on every unrevoked row that
// matches f and returns those rows as revoked. Rows outside f are untouched.
// Callers needing a consistent view should pass a transaction.
func RevokeMatching(ctx context.Context, db *gorm.DB, f EntitlementFilter, reason string, now time.Time) ([]domain.Entitlement, error) {
	if f.empty() {
		return nil, ErrEmptyFilter
	}
	db = db.WithContext(ctx)

	var rows []domain.Entitlement
	if err := f.apply(db.Where("revoked_at IS NULL")).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	res := db.Model(&domain.Entitlement{}).
		Where("id IN ? AND revoked_at IS NULL", ids).
		Updates(map[string]any{
			"revoked_at":     now,
			"revoked_reason": reason,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, res.Error
	}

	for i := range rows {
		rows[i].RevokedAt = &now
		rows[i].RevokedReason = &reason
		rows[i].UpdatedAt = now
	}
	return rows, nil
}
