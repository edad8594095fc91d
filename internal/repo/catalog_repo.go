// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the product
// and bundle catalog.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// UpsertProduct inserts p or updates the catalog fields of the existing
// product with the same id.
func UpsertProduct(ctx context.Context, db *gorm.DB, p *domain.Product) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "sync_url", "collect_email", "form_schema", "updated_at"}),
		}).
		Create(p).Error
}

// UpsertBundle inserts b or updates the existing bundle with the same id, then
// replaces its product set with productIDs. All products must already exist.
func UpsertBundle(ctx context.Context, db *gorm.DB, b *domain.Bundle, productIDs []string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		b.CreatedAt = now
		b.UpdatedAt = now
		err := tx.Omit("Products").
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "duration_type", "duration_value", "stripe_price_id", "updated_at"}),
			}).
			Create(b).Error
		if err != nil {
			return err
		}

		products, err := ListProductsByIDs(ctx, tx, productIDs)
		if err != nil {
			return err
		}
		if len(products) != len(productIDs) {
			return ErrNotFound
		}
		if err := tx.Model(b).Association("Products").Replace(products); err != nil {
			return err
		}
		b.Products = products
		return nil
	})
}

func withProducts(db *gorm.DB) *gorm.DB {
	return db.Preload("Products", func(q *gorm.DB) *gorm.DB {
		return q.Order("products.id ASC")
	})
}

// GetBundle fetches a bundle and its products by id, or ErrNotFound.
func GetBundle(ctx context.Context, db *gorm.DB, id string) (*domain.Bundle, error) {
	var b domain.Bundle
	if err := withProducts(db.WithContext(ctx)).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBundleByPriceID fetches the bundle sold under a gateway price id, or
// ErrNotFound.
func GetBundleByPriceID(ctx context.Context, db *gorm.DB, priceID string) (*domain.Bundle, error) {
	var b domain.Bundle
	if err := withProducts(db.WithContext(ctx)).Where("stripe_price_id = ?", priceID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetProduct fetches a product by id, or ErrNotFound.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ListProductsByIDs returns the products with the given ids, ordered by id.
// Unknown ids are skipped.
func ListProductsByIDs(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Product, error) {
	out := []domain.Product{}
	if len(ids) == 0 {
		return out, nil
	}
	err := db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListProducts returns the whole product catalog ordered by id.
func ListProducts(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var out []domain.Product
	err := db.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}
