// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for identities
// and their per-product email bindings.
//
// Find-or-create is a single INSERT … ON CONFLICT DO NOTHING followed by a
// read, so concurrent first purchases for one email converge on one row.
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

// FindOrCreateIdentity returns the identity whose primary email is email,
// inserting it first when absent. email must already be normalized.
func FindOrCreateIdentity(ctx context.Context, db *gorm.DB, email string) (*domain.Identity, error) {
	now := time.Now().UTC()
	ident := &domain.Identity{
		ID:           uuid.NewString(),
		PrimaryEmail: email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "primary_email"}}, DoNothing: true}).
		Create(ident).Error
	if err != nil {
		return nil, err
	}
	return GetIdentityByEmail(ctx, db, email)
}

// GetIdentity fetches an identity by id, or ErrNotFound.
func GetIdentity(ctx context.Context, db *gorm.DB, id string) (*domain.Identity, error) {
	var ident domain.Identity
	if err := db.WithContext(ctx).Where("id = ?", id).First(&ident).Error; err != nil {
		return nil, err
	}
	return &ident, nil
}

// GetIdentityByEmail fetches an identity by its primary email, or ErrNotFound.
func GetIdentityByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Identity, error) {
	var ident domain.Identity
	if err := db.WithContext(ctx).Where("primary_email = ?", email).First(&ident).Error; err != nil {
		return nil, err
	}
	return &ident, nil
}

// GetIdentityByCustomerID fetches the identity attached to a payment
// customer id, or ErrNotFound.
func GetIdentityByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Identity, error) {
	var ident domain.Identity
	if err := db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&ident).Error; err != nil {
		return nil, err
	}
	return &ident, nil
}

// AttachCustomerID records the payment customer id on an identity. It returns
// ErrDuplicate when another identity already owns that customer id.
func AttachCustomerID(ctx context.Context, db *gorm.DB, identityID, customerID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Identity{}).
		Where("id = ?", identityID).
		Updates(map[string]any{
			"stripe_customer_id": customerID,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return ErrDuplicate
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertBinding binds (email, productID) to identityID. An existing binding
// for the pair is repointed; the last writer wins.
func UpsertBinding(ctx context.Context, db *gorm.DB, email, productID, identityID string) error {
	now := time.Now().UTC()
	b := &domain.IdentityEmailBinding{
		ID:         uuid.NewString(),
		Email:      email,
		ProductID:  productID,
		IdentityID: identityID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}, {Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"identity_id", "updated_at"}),
		}).
		Create(b).Error
}

// GetBinding returns the binding for (email, productID), or ErrNotFound.
func GetBinding(ctx context.Context, db *gorm.DB, email, productID string) (*domain.IdentityEmailBinding, error) {
	var b domain.IdentityEmailBinding
	err := db.WithContext(ctx).
		Where("email = ? AND product_id = ?", email, productID).
		First(&b).Error
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// FindIdentityIDByAnyBinding returns the identity most recently bound to email
// on any product, or ErrNotFound.
func FindIdentityIDByAnyBinding(ctx context.Context, db *gorm.DB, email string) (string, error) {
	var b domain.IdentityEmailBinding
	err := db.WithContext(ctx).
		Where("email = ?", email).
		Order("updated_at DESC").
		First(&b).Error
	if err != nil {
		return "", err
	}
	return b.IdentityID, nil
}

// ListBindingEmails returns the emails bound to identityID for productID,
// most recent first.
func ListBindingEmails(ctx context.Context, db *gorm.DB, identityID, productID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.IdentityEmailBinding{}).
		Where("identity_id = ? AND product_id = ?", identityID, productID).
		Order("updated_at DESC").
		Pluck("email", &out).Error
	return out, err
}

// IsNotFound reports whether err is a not-found error from this package.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
