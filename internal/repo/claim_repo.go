// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for claim tokens
// and the product submissions collected while activating them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-entitlements/internal/domain"
)

// CreateClaimToken inserts t. When t carries a checkout session id that
// already has a token, nothing is written and the existing token is
// returned with created=false.
func CreateClaimToken(ctx context.Context, db *gorm.DB, t *domain.ClaimToken) (stored *domain.ClaimToken, created bool, err error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(t)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return t, true, nil
	}
	if t.StripeSessionID == nil {
		// Token collision on a random 256-bit value; surface it.
		return nil, false, ErrDuplicate
	}
	existing, err := GetClaimTokenBySession(ctx, db, *t.StripeSessionID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetClaimToken fetches a token, or ErrNotFound.
func GetClaimToken(ctx context.Context, db *gorm.DB, token string) (*domain.ClaimToken, error) {
	var t domain.ClaimToken
	if err := db.WithContext(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// GetClaimTokenBySession fetches the token issued for a checkout session, or
// ErrNotFound.
func GetClaimTokenBySession(ctx context.Context, db *gorm.DB, sessionID string) (*domain.ClaimToken, error) {
	var t domain.ClaimToken
	if err := db.WithContext(ctx).Where("stripe_session_id = ?", sessionID).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// MarkClaimed moves token to the claimed state if it is still unclaimed.
// It reports false when another caller claimed it first (or it is unknown).
func MarkClaimed(ctx context.Context, db *gorm.DB, token string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.ClaimToken{}).
		Where("token = ? AND claimed_at IS NULL", token).
		Update("claimed_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpsertSubmission stores the validated form data for (token, product),
// replacing an earlier submission for the same pair.
func UpsertSubmission(ctx context.Context, db *gorm.DB, s *domain.ProductSubmission) error {
	now := time.Now().UTC()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "claim_token"}, {Name: "product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"identity_id", "email", "form_data", "updated_at"}),
		}).
		Create(s).Error
}

// ListSubmissions returns the submissions stored for token, ordered by product.
func ListSubmissions(ctx context.Context, db *gorm.DB, token string) ([]domain.ProductSubmission, error) {
	var out []domain.ProductSubmission
	err := db.WithContext(ctx).
		Where("claim_token = ?", token).
		Order("product_id ASC").
		Find(&out).Error
	return out, err
}
