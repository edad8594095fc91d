// Package services – ReportService
//
// ReportService accepts subscriptions that a product sold on its own and
// reports to the core. Reported grants are recorded with source "direct" and
// the reporting app as source_app, so they never collide with bundle grants
// and a revoke from one app cannot touch another app's rows. Pushes are not
// sent back to the reporting app.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/forms"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// Report actions.
const (
	ReportGrant  = "grant"
	ReportRevoke = "revoke"
)

// ProviderReport labels app reports in the webhook log.
const ProviderReport = "report"

// ReportRequest is one app-reported subscription change.
type ReportRequest struct {
	Email                string     `json:"email"`
	ProductID            string     `json:"product_id"`
	Action               string     `json:"action"`
	SourceApp            string     `json:"source_app"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	StripePriceID        string     `json:"stripe_price_id,omitempty"`
	AmountPaid           *int64     `json:"amount_paid,omitempty"`
	Currency             string     `json:"currency,omitempty"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	Reason               string     `json:"reason,omitempty"`

	// IdempotencyKey deduplicates retried reports from the same caller.
	IdempotencyKey string `json:"-"`
	// KeyScope namespaces IdempotencyKey. The HTTP layer sets it to the
	// authenticated caller so its early replay check builds the same key.
	KeyScope string `json:"-"`
}

// UnmarshalJSON accepts camelCase names (productId, sourceApp, ...) as
// aliases of the snake_case fields. The snake_case value wins when both are
// present.
func (r *ReportRequest) UnmarshalJSON(b []byte) error {
	type plain ReportRequest
	var in struct {
		plain
		ProductIDAlias            string     `json:"productId"`
		SourceAppAlias            string     `json:"sourceApp"`
		StripeSubscriptionIDAlias string     `json:"stripeSubscriptionId"`
		StripePriceIDAlias        string     `json:"stripePriceId"`
		AmountPaidAlias           *int64     `json:"amountPaid"`
		ExpiresAtAlias            *time.Time `json:"expiresAt"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = ReportRequest(in.plain)
	if r.ProductID == "" {
		r.ProductID = in.ProductIDAlias
	}
	if r.SourceApp == "" {
		r.SourceApp = in.SourceAppAlias
	}
	if r.StripeSubscriptionID == "" {
		r.StripeSubscriptionID = in.StripeSubscriptionIDAlias
	}
	if r.StripePriceID == "" {
		r.StripePriceID = in.StripePriceIDAlias
	}
	if r.AmountPaid == nil {
		r.AmountPaid = in.AmountPaidAlias
	}
	if r.ExpiresAt == nil {
		r.ExpiresAt = in.ExpiresAtAlias
	}
	return nil
}

// ReportIdempotencyKey is the webhook log id under which a report with
// idempotency key key from scope is recorded.
func ReportIdempotencyKey(scope, key string) string {
	return "report:" + scope + ":" + key
}

// ReportResult describes the effect of a report.
type ReportResult struct {
	Action     string `json:"action"`
	IdentityID string `json:"identity_id,omitempty"`
	Affected   int    `json:"affected"`
	Replayed   bool   `json:"replayed,omitempty"`
}

// ReportService applies app reports to the ledger.
type ReportService struct {
	DB         *gorm.DB
	Identities *IdentityService
	Ledger     *LedgerService
}

// NewReportService constructs a ReportService.
func NewReportService(db *gorm.DB, ids *IdentityService, ledger *LedgerService) *ReportService {
	return &ReportService{DB: db, Identities: ids, Ledger: ledger}
}

// Apply validates and applies req. A replayed idempotency key is
// acknowledged with Replayed set and no further effect.
func (s *ReportService) Apply(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	tr := otel.Tracer("services/ReportService")
	ctx, span := tr.Start(ctx, "Apply",
		trace.WithAttributes(
			attribute.String("product_id", req.ProductID),
			attribute.String("source_app", req.SourceApp),
			attribute.String("action", req.Action),
		),
	)
	defer span.End()

	if err := s.validate(ctx, &req); err != nil {
		return nil, err
	}

	key := ""
	if req.IdempotencyKey != "" {
		key = ReportIdempotencyKey(req.KeyScope, req.IdempotencyKey)
		owned, err := repo.ClaimWebhookEvent(ctx, s.DB, &domain.WebhookLogEntry{
			EventID:   key,
			Provider:  ProviderReport,
			EventType: "report." + req.Action,
		}, time.Now().UTC().Add(-DefaultStaleAfter))
		if err != nil {
			return nil, err
		}
		if !owned {
			return &ReportResult{Action: req.Action, Replayed: true}, nil
		}
	}

	var (
		res *ReportResult
		err error
	)
	if req.Action == ReportGrant {
		res, err = s.grant(ctx, req)
	} else {
		res, err = s.revoke(ctx, req)
	}

	if key != "" {
		status, msg := domain.WebhookProcessed, ""
		if err != nil {
			status, msg = domain.WebhookFailed, err.Error()
		}
		if ferr := repo.FinishWebhookEvent(ctx, s.DB, key, status, msg); ferr != nil {
			log.Error().Err(ferr).Str("key", key).Msg("finish report")
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return res, nil
}

func (s *ReportService) grant(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	ident, err := s.Identities.FindOrCreate(ctx, nil, req.Email)
	if err != nil {
		return nil, err
	}
	g := GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: []string{req.ProductID},
		Source:     domain.SourceDirect,
		SourceApp:  req.SourceApp,
		Duration:   domain.Lifetime,
		ExpiresAt:  req.ExpiresAt,
		Payment: domain.PaymentMeta{
			StripeSubscriptionID: strPtr(req.StripeSubscriptionID),
			StripePriceID:        strPtr(req.StripePriceID),
			AmountPaid:           req.AmountPaid,
			Currency:             strPtr(req.Currency),
		},
		Action:     "report." + ReportGrant,
		Reason:     req.Reason,
		ExcludeApp: req.SourceApp,
	}
	var m *Mutation
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Identities.Bind(ctx, tx, req.Email, req.ProductID, ident.ID); err != nil {
			return err
		}
		var err error
		m, err = s.Ledger.GrantTx(ctx, tx, g)
		return err
	})
	if err != nil {
		s.Ledger.auditFailure(ctx, ident.ID, g.Action, g.ProductIDs, g.Source, g.SourceApp, err)
		return nil, err
	}
	s.Ledger.Publish(ctx, m)
	return &ReportResult{Action: ReportGrant, IdentityID: ident.ID, Affected: len(m.Entitlements)}, nil
}

func (s *ReportService) revoke(ctx context.Context, req ReportRequest) (*ReportResult, error) {
	ident, err := s.Identities.Resolve(ctx, req.Email, req.ProductID)
	if errors.Is(err, ErrIdentityNotFound) {
		return &ReportResult{Action: ReportRevoke}, nil
	}
	if err != nil {
		return nil, err
	}
	app := req.SourceApp
	reason := req.Reason
	if reason == "" {
		reason = "reported by " + app
	}
	rows, err := s.Ledger.RevokeScoped(ctx, RevokeRequest{
		Filter: repo.EntitlementFilter{
			IdentityID:     ident.ID,
			ProductIDs:     []string{req.ProductID},
			Source:         domain.SourceDirect,
			SourceApp:      &app,
			SubscriptionID: req.StripeSubscriptionID,
		},
		Reason:     reason,
		Action:     "report." + ReportRevoke,
		ExcludeApp: app,
	})
	if err != nil {
		return nil, err
	}
	return &ReportResult{Action: ReportRevoke, IdentityID: ident.ID, Affected: len(rows)}, nil
}

func (s *ReportService) validate(ctx context.Context, req *ReportRequest) error {
	req.Email = NormalizeEmail(req.Email)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.SourceApp = strings.TrimSpace(req.SourceApp)
	req.Action = strings.TrimSpace(req.Action)

	var missing []string
	if req.Email == "" {
		missing = append(missing, "email")
	}
	if req.ProductID == "" {
		missing = append(missing, "product_id")
	}
	if req.Action == "" {
		missing = append(missing, "action")
	}
	if req.SourceApp == "" {
		missing = append(missing, "source_app")
	}
	if len(missing) > 0 {
		return invalid("missing %s", strings.Join(missing, ", "))
	}
	if !forms.IsEmail(req.Email) {
		return invalid("invalid email %q", req.Email)
	}
	if req.Action != ReportGrant && req.Action != ReportRevoke {
		return invalid("action must be %q or %q", ReportGrant, ReportRevoke)
	}
	if _, err := repo.GetProduct(ctx, s.DB, req.ProductID); err != nil {
		if repo.IsNotFound(err) {
			return invalid("unknown product %q", req.ProductID)
		}
		return err
	}
	return nil
}
