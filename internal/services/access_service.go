// Package services – AccessService
//
// AccessService is the read side remote products call on login. It never
// writes and never talks to the dispatcher or the gateway.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// ProductAccess summarizes one product's active entitlements.
type ProductAccess struct {
	ProductID   string         `json:"product_id"`
	ProductName string         `json:"product_name,omitempty"`
	HasAccess   bool           `json:"has_access"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
	Grants      []GrantSummary `json:"grants"`
}

// GrantSummary is one active entitlement as exposed to products.
type GrantSummary struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	SourceApp  string     `json:"source_app,omitempty"`
	BundleID   string     `json:"bundle_id,omitempty"`
	BundleName string     `json:"bundle_name,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// AccessList is every active entitlement of an identity, by product.
type AccessList struct {
	IdentityID string          `json:"identity_id,omitempty"`
	Email      string          `json:"email"`
	Products   []ProductAccess `json:"products"`
}

// AccessService answers access queries.
type AccessService struct {
	DB         *gorm.DB
	Identities *IdentityService
	Ledger     *LedgerService
	Now        Clock
}

// NewAccessService constructs an AccessService.
func NewAccessService(db *gorm.DB, ids *IdentityService, ledger *LedgerService) *AccessService {
	return &AccessService{DB: db, Identities: ids, Ledger: ledger}
}

// Check reports whether email has access to productID.
func (s *AccessService) Check(ctx context.Context, email, productID string) (*AccessResult, error) {
	return s.Ledger.CheckAccess(ctx, email, productID)
}

// List returns the active entitlements of the identity email resolves to,
// grouped by product. The longest expiry wins a product's ExpiresAt; any
// perpetual grant makes it nil. Unknown emails yield an empty list.
func (s *AccessService) List(ctx context.Context, email string) (*AccessList, error) {
	tr := otel.Tracer("services/AccessService")
	ctx, span := tr.Start(ctx, "List")
	defer span.End()

	email = NormalizeEmail(email)
	if email == "" {
		return nil, invalid("email is required")
	}
	out := &AccessList{Email: email, Products: []ProductAccess{}}

	ident, err := s.Identities.ResolveAny(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	out.IdentityID = ident.ID
	span.SetAttributes(attribute.String("identity_id", ident.ID))

	rows, err := repo.ListActiveForIdentity(ctx, s.DB, ident.ID, s.Now.now())
	if err != nil {
		return nil, err
	}
	names, err := s.names(ctx, rows)
	if err != nil {
		return nil, err
	}

	idx := map[string]int{}
	for _, r := range rows {
		i, ok := idx[r.ProductID]
		if !ok {
			i = len(out.Products)
			idx[r.ProductID] = i
			out.Products = append(out.Products, ProductAccess{
				ProductID:   r.ProductID,
				ProductName: names.products[r.ProductID],
				HasAccess:   true,
				ExpiresAt:   r.ExpiresAt,
			})
		}
		pa := &out.Products[i]
		pa.ExpiresAt = laterExpiry(pa.ExpiresAt, r.ExpiresAt)

		g := GrantSummary{
			ID:        r.ID,
			Source:    r.Source,
			SourceApp: r.SourceApp,
			GrantedAt: r.GrantedAt,
			ExpiresAt: r.ExpiresAt,
		}
		if r.BundleID != nil {
			g.BundleID = *r.BundleID
			g.BundleName = names.bundles[*r.BundleID]
		}
		pa.Grants = append(pa.Grants, g)
	}
	return out, nil
}

// Fingerprint returns a weak validator for the identity's entitlement set.
// It changes whenever a row for the identity is written.
func (s *AccessService) Fingerprint(ctx context.Context, email string) (string, error) {
	ident, err := s.Identities.ResolveAny(ctx, email)
	if errors.Is(err, ErrIdentityNotFound) {
		return "none", nil
	}
	if err != nil {
		return "", err
	}
	n, last, err := repo.EntitlementStats(ctx, s.DB, ident.ID)
	if err != nil {
		return "", err
	}
	var ts int64
	if last != nil {
		ts = last.UTC().UnixNano()
	}
	return fmt.Sprintf("%s-%d-%d", ident.ID, n, ts), nil
}

type catalogNames struct {
	products map[string]string
	bundles  map[string]string
}

func (s *AccessService) names(ctx context.Context, rows []domain.Entitlement) (catalogNames, error) {
	out := catalogNames{products: map[string]string{}, bundles: map[string]string{}}
	var pids []string
	for _, r := range rows {
		if _, ok := out.products[r.ProductID]; !ok {
			out.products[r.ProductID] = ""
			pids = append(pids, r.ProductID)
		}
		if r.BundleID != nil {
			if _, ok := out.bundles[*r.BundleID]; !ok {
				out.bundles[*r.BundleID] = ""
				if b, err := repo.GetBundle(ctx, s.DB, *r.BundleID); err == nil {
					out.bundles[*r.BundleID] = b.Name
				} else if !repo.IsNotFound(err) {
					return out, err
				}
			}
		}
	}
	products, err := repo.ListProductsByIDs(ctx, s.DB, pids)
	if err != nil {
		return out, err
	}
	for _, p := range products {
		out.products[p.ID] = p.Name
	}
	return out, nil
}

// laterExpiry returns the later of two expiries, treating nil as never.
func laterExpiry(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if b.After(*a) {
		return b
	}
	return a
}
