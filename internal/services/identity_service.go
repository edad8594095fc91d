// Package services – IdentityService
//
// IdentityService unifies the emails a buyer uses across products into one
// canonical identity. Lookups for a product go through the per-product email
// binding first and fall back to the primary email, so a user that registered
// on a product with a different address is still recognized.
package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/forms"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// IdentityService resolves and maintains identities and email bindings.
type IdentityService struct {
	DB *gorm.DB
}

// NewIdentityService constructs an IdentityService.
func NewIdentityService(db *gorm.DB) *IdentityService {
	return &IdentityService{DB: db}
}

// FindOrCreate returns the identity whose primary email is email, creating it
// when absent. Concurrent calls for the same email converge on one row.
func (s *IdentityService) FindOrCreate(ctx context.Context, db *gorm.DB, email string) (*domain.Identity, error) {
	email = NormalizeEmail(email)
	if !forms.IsEmail(email) {
		return nil, invalid("invalid email %q", email)
	}
	return repo.FindOrCreateIdentity(ctx, s.db(db), email)
}

// AttachCustomer records the gateway customer id on identityID. A customer id
// already owned by another identity is logged and left alone.
func (s *IdentityService) AttachCustomer(ctx context.Context, db *gorm.DB, ident *domain.Identity, customerID string) error {
	if customerID == "" || derefStr(ident.StripeCustomerID) == customerID {
		return nil
	}
	err := repo.AttachCustomerID(ctx, s.db(db), ident.ID, customerID)
	if errors.Is(err, repo.ErrDuplicate) {
		log.Warn().
			Str("identity_id", ident.ID).
			Str("customer_id", customerID).
			Msg("customer id already attached to another identity")
		return nil
	}
	if err != nil {
		return err
	}
	ident.StripeCustomerID = &customerID
	return nil
}

// Bind points (email, productID) at identityID. The last writer wins.
func (s *IdentityService) Bind(ctx context.Context, db *gorm.DB, email, productID, identityID string) error {
	email = NormalizeEmail(email)
	if !forms.IsEmail(email) {
		return invalid("invalid email %q", email)
	}
	return repo.UpsertBinding(ctx, s.db(db), email, productID, identityID)
}

// Resolve finds the identity an email refers to on productID: the direct
// binding first, then the primary email. ErrIdentityNotFound when neither.
func (s *IdentityService) Resolve(ctx context.Context, email, productID string) (*domain.Identity, error) {
	tr := otel.Tracer("services/IdentityService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("product_id", productID)),
	)
	defer span.End()

	email = NormalizeEmail(email)
	if productID != "" {
		b, err := repo.GetBinding(ctx, s.DB, email, productID)
		switch {
		case err == nil:
			return s.byID(ctx, b.IdentityID)
		case !repo.IsNotFound(err):
			return nil, err
		}
	}
	ident, err := repo.GetIdentityByEmail(ctx, s.DB, email)
	if repo.IsNotFound(err) {
		return nil, ErrIdentityNotFound
	}
	return ident, err
}

// ResolveAny finds the identity for email regardless of product: the primary
// email first, then the most recently updated binding.
func (s *IdentityService) ResolveAny(ctx context.Context, email string) (*domain.Identity, error) {
	email = NormalizeEmail(email)
	ident, err := repo.GetIdentityByEmail(ctx, s.DB, email)
	if err == nil {
		return ident, nil
	}
	if !repo.IsNotFound(err) {
		return nil, err
	}
	id, err := repo.FindIdentityIDByAnyBinding(ctx, s.DB, email)
	if repo.IsNotFound(err) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.byID(ctx, id)
}

// ByCustomerID returns the identity attached to a gateway customer id.
func (s *IdentityService) ByCustomerID(ctx context.Context, customerID string) (*domain.Identity, error) {
	if customerID == "" {
		return nil, ErrIdentityNotFound
	}
	ident, err := repo.GetIdentityByCustomerID(ctx, s.DB, customerID)
	if repo.IsNotFound(err) {
		return nil, ErrIdentityNotFound
	}
	return ident, err
}

// SyncEmails lists the addresses productID knows identityID by: its bound
// emails, or the primary email when none are bound.
func (s *IdentityService) SyncEmails(ctx context.Context, identityID, productID string) ([]string, error) {
	emails, err := repo.ListBindingEmails(ctx, s.DB, identityID, productID)
	if err != nil {
		return nil, err
	}
	if len(emails) > 0 {
		return emails, nil
	}
	ident, err := s.byID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return []string{ident.PrimaryEmail}, nil
}

func (s *IdentityService) byID(ctx context.Context, id string) (*domain.Identity, error) {
	ident, err := repo.GetIdentity(ctx, s.DB, id)
	if repo.IsNotFound(err) {
		return nil, ErrIdentityNotFound
	}
	return ident, err
}

// db returns tx when the caller runs inside a transaction.
func (s *IdentityService) db(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.DB
}
