// Package services – ClaimService
//
// ClaimService runs the claim workflow for bundles containing products that
// collect their own email or form data. A checkout issues a single-use token;
// the buyer opens the claim portal, supplies per-product data, and activation
// grants the whole bundle in one transaction. Tokens are issued → claimed
// (terminal), and expiry is evaluated lazily on read.
package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/forms"
	"github.com/tbourn/go-entitlements/internal/observability"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// DefaultClaimTTL is how long a claim token stays redeemable.
const DefaultClaimTTL = 30 * 24 * time.Hour

// ActionClaimActivate is the audit action of a successful activation.
const ActionClaimActivate = "claim.activate"

// Claim token states reported by Status.
const (
	ClaimValid   = "valid"
	ClaimClaimed = "claimed"
	ClaimExpired = "expired"
)

// IssueRequest describes the purchase a claim token is issued for.
type IssueRequest struct {
	IdentityID    string
	BundleID      string
	PurchaseEmail string
	SessionID     string
	Payment       domain.PaymentMeta
}

// ClaimProduct is one bundled product as shown on the claim portal.
type ClaimProduct struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	CollectEmail bool               `json:"collect_email"`
	Form         []domain.FormField `json:"form,omitempty"`
}

// ClaimStatus is the claim portal's view of a token.
type ClaimStatus struct {
	State         string         `json:"state"`
	BundleID      string         `json:"bundle_id"`
	BundleName    string         `json:"bundle_name"`
	PurchaseEmail string         `json:"purchase_email"`
	Products      []ClaimProduct `json:"products"`
	ExpiresAt     time.Time      `json:"expires_at"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
}

// ProductInput is the buyer-supplied data for one product. An empty Email
// defaults to the purchase email.
type ProductInput struct {
	Email    string         `json:"email"`
	FormData map[string]any `json:"form_data,omitempty"`
}

// UnmarshalJSON also accepts "formData" for the form payload.
func (p *ProductInput) UnmarshalJSON(b []byte) error {
	type plain ProductInput
	var in struct {
		plain
		FormDataAlias map[string]any `json:"formData"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*p = ProductInput(in.plain)
	if p.FormData == nil {
		p.FormData = in.FormDataAlias
	}
	return nil
}

// ClaimService issues, inspects and activates claim tokens.
type ClaimService struct {
	DB         *gorm.DB
	Identities *IdentityService
	Ledger     *LedgerService
	Now        Clock

	// TTL is the redemption window of new tokens.
	TTL time.Duration
	// BaseURL is the claim portal URL the token is appended to.
	BaseURL string
}

// NewClaimService constructs a ClaimService with the default TTL.
func NewClaimService(db *gorm.DB, ids *IdentityService, ledger *LedgerService, baseURL string) *ClaimService {
	return &ClaimService{
		DB:         db,
		Identities: ids,
		Ledger:     ledger,
		TTL:        DefaultClaimTTL,
		BaseURL:    baseURL,
	}
}

// Issue creates a claim token for a purchase. It is idempotent per checkout
// session: a second call returns the existing token with created=false.
func (s *ClaimService) Issue(ctx context.Context, db *gorm.DB, req IssueRequest) (*domain.ClaimToken, bool, error) {
	tr := otel.Tracer("services/ClaimService")
	ctx, span := tr.Start(ctx, "Issue",
		trace.WithAttributes(attribute.String("bundle_id", req.BundleID)),
	)
	defer span.End()

	if db == nil {
		db = s.DB
	}
	tok, err := newToken()
	if err != nil {
		return nil, false, err
	}
	now := s.Now.now()
	t := &domain.ClaimToken{
		Token:                tok,
		IdentityID:           req.IdentityID,
		BundleID:             req.BundleID,
		PurchaseEmail:        NormalizeEmail(req.PurchaseEmail),
		StripeSessionID:      strPtr(req.SessionID),
		StripeSubscriptionID: req.Payment.StripeSubscriptionID,
		StripePriceID:        req.Payment.StripePriceID,
		AmountPaid:           req.Payment.AmountPaid,
		Currency:             req.Payment.Currency,
		CreatedAt:            now,
		ExpiresAt:            now.Add(s.ttl()),
	}
	stored, created, err := repo.CreateClaimToken(ctx, db, t)
	if err != nil {
		return nil, false, err
	}
	if created {
		observability.ClaimsTotal.WithLabelValues("issued").Inc()
	}
	return stored, created, nil
}

// Link returns the claim portal URL for token.
func (s *ClaimService) Link(token string) string {
	base := strings.TrimRight(s.BaseURL, "/")
	return base + "/" + url.PathEscape(token)
}

// Validate returns the token when it can still be activated.
func (s *ClaimService) Validate(ctx context.Context, token string) (*domain.ClaimToken, error) {
	t, err := s.get(ctx, s.DB, token)
	if err != nil {
		return nil, err
	}
	if t.Claimed() {
		return nil, ErrAlreadyClaimed
	}
	if t.Expired(s.Now.now()) {
		return nil, ErrClaimExpired
	}
	return t, nil
}

// Status describes a token for the claim portal, including each product's
// form schema. Claimed and expired tokens are reported, not rejected.
func (s *ClaimService) Status(ctx context.Context, token string) (*ClaimStatus, error) {
	tr := otel.Tracer("services/ClaimService")
	ctx, span := tr.Start(ctx, "Status")
	defer span.End()

	t, err := s.get(ctx, s.DB, token)
	if err != nil {
		return nil, err
	}
	b, err := repo.GetBundle(ctx, s.DB, t.BundleID)
	if repo.IsNotFound(err) {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, err
	}

	st := &ClaimStatus{
		State:         ClaimValid,
		BundleID:      b.ID,
		BundleName:    b.Name,
		PurchaseEmail: t.PurchaseEmail,
		ExpiresAt:     t.ExpiresAt,
		ClaimedAt:     t.ClaimedAt,
		Products:      make([]ClaimProduct, 0, len(b.Products)),
	}
	switch {
	case t.Claimed():
		st.State = ClaimClaimed
	case t.Expired(s.Now.now()):
		st.State = ClaimExpired
	}
	for _, p := range b.Products {
		fields, err := p.Schema()
		if err != nil {
			return nil, err
		}
		st.Products = append(st.Products, ClaimProduct{
			ID:           p.ID,
			Name:         p.Name,
			CollectEmail: p.CollectEmail,
			Form:         fields,
		})
	}
	return st, nil
}

// Activate redeems token. Every input is validated first; then one
// transaction claims the token (exactly one concurrent caller wins), binds
// each product email, stores form data and grants the whole bundle.
func (s *ClaimService) Activate(ctx context.Context, token string, inputs map[string]ProductInput) (*Mutation, error) {
	tr := otel.Tracer("services/ClaimService")
	ctx, span := tr.Start(ctx, "Activate")
	defer span.End()

	t, err := s.Validate(ctx, token)
	if err != nil {
		s.count(err)
		return nil, err
	}
	b, err := repo.GetBundle(ctx, s.DB, t.BundleID)
	if repo.IsNotFound(err) {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, err
	}

	for pid := range inputs {
		if !contains(b.ProductIDs(), pid) {
			return nil, invalid("product %q is not part of bundle %q", pid, b.ID)
		}
	}

	type prepared struct {
		product domain.Product
		email   string
		form    map[string]any
	}
	plan := make([]prepared, 0, len(b.Products))
	for _, p := range b.Products {
		in := inputs[p.ID]
		email := NormalizeEmail(in.Email)
		if email == "" {
			email = t.PurchaseEmail
		}
		if !forms.IsEmail(email) {
			return nil, invalid("product %s: invalid email %q", p.ID, in.Email)
		}
		fields, err := p.Schema()
		if err != nil {
			return nil, err
		}
		var data map[string]any
		if len(fields) > 0 {
			data, err = forms.Validate(fields, in.FormData)
			if err != nil {
				var fe forms.Errors
				if errors.As(err, &fe) {
					return nil, &FormError{ProductID: p.ID, Fields: fe}
				}
				return nil, invalid("product %s: %v", p.ID, err)
			}
		}
		plan = append(plan, prepared{product: p, email: email, form: data})
	}

	now := s.Now.now()
	var m *Mutation
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := repo.MarkClaimed(ctx, tx, t.Token, now)
		if err != nil {
			return err
		}
		if !won {
			return ErrAlreadyClaimed
		}
		for _, pl := range plan {
			if err := s.Identities.Bind(ctx, tx, pl.email, pl.product.ID, t.IdentityID); err != nil {
				return err
			}
			if pl.form == nil && !pl.product.CollectEmail {
				continue
			}
			raw, err := json.Marshal(nonNilMap(pl.form))
			if err != nil {
				return err
			}
			if err := repo.UpsertSubmission(ctx, tx, &domain.ProductSubmission{
				ID:         uuid.NewString(),
				ClaimToken: t.Token,
				ProductID:  pl.product.ID,
				IdentityID: t.IdentityID,
				Email:      pl.email,
				FormData:   datatypes.JSON(raw),
			}); err != nil {
				return err
			}
		}
		bundleID := b.ID
		m, err = s.Ledger.GrantTx(ctx, tx, GrantRequest{
			IdentityID: t.IdentityID,
			ProductIDs: b.ProductIDs(),
			Source:     domain.SourceBundle,
			BundleID:   &bundleID,
			Duration:   b.Duration(),
			Payment:    t.PaymentMeta(),
			Action:     ActionClaimActivate,
			Reason:     "claim activated",
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.count(err)
		if !errors.Is(err, ErrAlreadyClaimed) {
			s.Ledger.auditFailure(ctx, t.IdentityID, ActionClaimActivate, b.ProductIDs(), domain.SourceBundle, "", err)
		}
		return nil, err
	}
	observability.ClaimsTotal.WithLabelValues("activated").Inc()
	s.Ledger.Publish(ctx, m)
	return m, nil
}

func (s *ClaimService) get(ctx context.Context, db *gorm.DB, token string) (*domain.ClaimToken, error) {
	if token == "" {
		return nil, ErrClaimNotFound
	}
	t, err := repo.GetClaimToken(ctx, db, token)
	if repo.IsNotFound(err) {
		return nil, ErrClaimNotFound
	}
	return t, err
}

func (s *ClaimService) count(err error) {
	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		observability.ClaimsTotal.WithLabelValues("already_claimed").Inc()
	case errors.Is(err, ErrClaimExpired):
		observability.ClaimsTotal.WithLabelValues("expired").Inc()
	}
}

func (s *ClaimService) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultClaimTTL
	}
	return s.TTL
}

// newToken returns 32 random bytes, URL-safe base64 encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
