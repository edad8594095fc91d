// Package services – LedgerService
//
// LedgerService is the single writer of the entitlements table. A grant is an
// atomic upsert on (identity, product, source, source_app): re-granting the
// same key refreshes expiry and payment metadata and clears any revocation, so
// resubscription never creates a second row. Revocation comes in three scopes:
//
//   - Revoke: blanket, every source for (identity, product). RevokeEmail
//     resolves an email first.
//   - RevokeOne: exactly one row by id.
//   - RevokeScoped: rows matching a source scope (subscription id, or
//     identity+product+source+source_app).
//
// Every mutation appends one audit entry. After commit, products whose access
// tier changed are pushed through the Syncer; revocations only push for
// products left with no active rows.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/dispatch"
	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/observability"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// Audit actions written by the ledger.
const (
	ActionGrant       = "grant"
	ActionRevoke      = "revoke"
	ActionRevokeOne   = "revoke_one"
	ActionRevokeScope = "revoke_scoped"
)

// GrantRequest describes one ledger grant covering one or more products.
type GrantRequest struct {
	IdentityID string
	ProductIDs []string
	Source     string
	SourceApp  string
	BundleID   *string

	// Duration computes the expiry from now unless ExpiresAt is set.
	Duration  domain.Duration
	ExpiresAt *time.Time
	Payment   domain.PaymentMeta

	// Action overrides the audit action (default "grant").
	Action  string
	Reason  string
	Details map[string]any

	// ExcludeApp suppresses the push to the product that reported the change.
	ExcludeApp string
}

// RevokeRequest describes a scoped revocation.
type RevokeRequest struct {
	Filter     repo.EntitlementFilter
	Reason     string
	Action     string
	Details    map[string]any
	ExcludeApp string
}

// Mutation is the committed effect of one ledger call on one identity. Its
// ProductIDs are the products whose access tier changed to Tier.
type Mutation struct {
	IdentityID   string
	Tier         string
	Source       string
	Reason       string
	Action       string
	ProductIDs   []string
	ExcludeApp   string
	Entitlements []domain.Entitlement
}

// AccessResult answers "does this email have access to this product".
type AccessResult struct {
	HasAccess  bool       `json:"has_access"`
	Source     string     `json:"source,omitempty"`
	SourceApp  string     `json:"source_app,omitempty"`
	BundleName string     `json:"bundle_name,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	GrantedAt  *time.Time `json:"granted_at,omitempty"`
}

// LedgerService grants, revokes and checks entitlements.
type LedgerService struct {
	DB         *gorm.DB
	Identities *IdentityService
	Sync       Syncer
	Now        Clock
}

// NewLedgerService constructs a LedgerService. sync may be nil, which
// disables pushes.
func NewLedgerService(db *gorm.DB, ids *IdentityService, sync Syncer) *LedgerService {
	return &LedgerService{DB: db, Identities: ids, Sync: sync}
}

// Grant upserts one entitlement per product in a single transaction, appends
// an audit entry, and pushes tier=pro for the granted products.
func (s *LedgerService) Grant(ctx context.Context, req GrantRequest) (*Mutation, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "Grant",
		trace.WithAttributes(
			attribute.String("identity_id", req.IdentityID),
			attribute.String("source", req.Source),
			attribute.Int("products", len(req.ProductIDs)),
		),
	)
	defer span.End()

	var m *Mutation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		m, err = s.GrantTx(ctx, tx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.auditFailure(ctx, req.IdentityID, actionOr(req.Action, ActionGrant), req.ProductIDs, req.Source, req.SourceApp, err)
		return nil, err
	}
	s.Publish(ctx, m)
	return m, nil
}

// GrantTx performs the grant on tx without pushing. Callers commit and then
// pass the returned Mutation to Publish.
func (s *LedgerService) GrantTx(ctx context.Context, tx *gorm.DB, req GrantRequest) (*Mutation, error) {
	if err := validateGrant(req); err != nil {
		return nil, err
	}
	now := s.Now.now()
	// SQLite compares stored timestamps as text; keep them in UTC.
	var expires *time.Time
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		expires = &t
	} else {
		expires = req.Duration.ExpiryFrom(now)
	}

	rows := make([]domain.Entitlement, 0, len(req.ProductIDs))
	for _, pid := range req.ProductIDs {
		e := &domain.Entitlement{
			IdentityID:           req.IdentityID,
			ProductID:            pid,
			Source:               req.Source,
			SourceApp:            req.SourceApp,
			GrantedAt:            now,
			ExpiresAt:            expires,
			BundleID:             req.BundleID,
			StripeSubscriptionID: req.Payment.StripeSubscriptionID,
			StripePriceID:        req.Payment.StripePriceID,
			AmountPaid:           req.Payment.AmountPaid,
			Currency:             req.Payment.Currency,
		}
		stored, err := repo.UpsertEntitlement(ctx, tx, e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *stored)
	}

	details := map[string]any{}
	for k, v := range req.Details {
		details[k] = v
	}
	if req.BundleID != nil {
		details["bundle_id"] = *req.BundleID
	}
	if expires != nil {
		details["expires_at"] = expires.Format(time.RFC3339)
	}
	if req.Reason != "" {
		details["reason"] = req.Reason
	}
	action := actionOr(req.Action, ActionGrant)
	if err := appendAudit(ctx, tx, req.IdentityID, action, req.ProductIDs, req.Source, req.SourceApp, details, nil); err != nil {
		return nil, err
	}

	return &Mutation{
		IdentityID:   req.IdentityID,
		Tier:         domain.TierPro,
		Source:       req.Source,
		Reason:       req.Reason,
		Action:       action,
		ProductIDs:   append([]string(nil), req.ProductIDs...),
		ExcludeApp:   req.ExcludeApp,
		Entitlements: rows,
	}, nil
}

// Revoke revokes every active row for (identity, product) regardless of
// source and pushes tier=free for each product.
func (s *LedgerService) Revoke(ctx context.Context, identityID string, productIDs []string, reason string) (*Mutation, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "Revoke",
		trace.WithAttributes(attribute.String("identity_id", identityID)),
	)
	defer span.End()

	if identityID == "" || len(productIDs) == 0 {
		return nil, invalid("identity and products are required")
	}
	now := s.Now.now()

	var m *Mutation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := repo.RevokeMatching(ctx, tx, repo.EntitlementFilter{
			IdentityID: identityID,
			ProductIDs: productIDs,
		}, reason, now)
		if err != nil {
			return err
		}
		if err := appendAudit(ctx, tx, identityID, ActionRevoke, productIDs, "", "",
			map[string]any{"reason": reason, "revoked": len(rows)}, nil); err != nil {
			return err
		}
		m = &Mutation{
			IdentityID:   identityID,
			Tier:         domain.TierFree,
			Reason:       reason,
			Action:       ActionRevoke,
			ProductIDs:   append([]string(nil), productIDs...),
			Entitlements: rows,
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.auditFailure(ctx, identityID, ActionRevoke, productIDs, "", "", err)
		return nil, err
	}
	s.Publish(ctx, m)
	return m, nil
}

// RevokeEmail resolves email per product and blanket-revokes each product
// on the identity it resolves to. ErrIdentityNotFound when no product
// resolves.
func (s *LedgerService) RevokeEmail(ctx context.Context, email string, productIDs []string, reason string) ([]*Mutation, error) {
	if NormalizeEmail(email) == "" || len(productIDs) == 0 {
		return nil, invalid("email and products are required")
	}

	byIdentity := map[string][]string{}
	var order []string
	for _, pid := range productIDs {
		ident, err := s.Identities.Resolve(ctx, email, pid)
		if errors.Is(err, ErrIdentityNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if _, seen := byIdentity[ident.ID]; !seen {
			order = append(order, ident.ID)
		}
		if !contains(byIdentity[ident.ID], pid) {
			byIdentity[ident.ID] = append(byIdentity[ident.ID], pid)
		}
	}
	if len(order) == 0 {
		return nil, ErrIdentityNotFound
	}

	out := make([]*Mutation, 0, len(order))
	for _, id := range order {
		m, err := s.Revoke(ctx, id, byIdentity[id], reason)
		if err != nil {
			return out, err
		}
		out = append(out, m)
	}
	return out, nil
}

// RevokeOne revokes a single entitlement. The product is pushed as free only
// when no other active row remains for (identity, product).
func (s *LedgerService) RevokeOne(ctx context.Context, entitlementID, reason string) (*Mutation, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "RevokeOne",
		trace.WithAttributes(attribute.String("entitlement_id", entitlementID)),
	)
	defer span.End()

	now := s.Now.now()
	var (
		m      *Mutation
		target *domain.Entitlement
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := repo.GetEntitlement(ctx, tx, entitlementID)
		if repo.IsNotFound(err) {
			return ErrEntitlementNotFound
		}
		if err != nil {
			return err
		}
		target = e
		rows, err := repo.RevokeMatching(ctx, tx, repo.EntitlementFilter{ID: entitlementID}, reason, now)
		if err != nil {
			return err
		}
		m = &Mutation{
			IdentityID:   e.IdentityID,
			Tier:         domain.TierFree,
			Source:       e.Source,
			Reason:       reason,
			Action:       ActionRevokeOne,
			Entitlements: rows,
		}
		if len(rows) == 0 {
			return nil
		}
		remaining, err := repo.CountActive(ctx, tx, e.IdentityID, e.ProductID, now)
		if err != nil {
			return err
		}
		if remaining == 0 {
			m.ProductIDs = []string{e.ProductID}
		}
		return appendAudit(ctx, tx, e.IdentityID, ActionRevokeOne, []string{e.ProductID}, e.Source, e.SourceApp,
			map[string]any{"entitlement_id": entitlementID, "reason": reason, "remaining_active": remaining}, nil)
	})
	if err != nil {
		span.RecordError(err)
		if target != nil {
			s.auditFailure(ctx, target.IdentityID, ActionRevokeOne, []string{target.ProductID}, target.Source, target.SourceApp, err)
		}
		return nil, err
	}
	s.Publish(ctx, m)
	return m, nil
}

// RevokeScoped revokes the rows matching req.Filter and returns them. Each
// affected identity gets one audit entry and one Mutation listing the
// products that dropped to zero active rows.
func (s *LedgerService) RevokeScoped(ctx context.Context, req RevokeRequest) ([]domain.Entitlement, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "RevokeScoped",
		trace.WithAttributes(
			attribute.String("identity_id", req.Filter.IdentityID),
			attribute.String("subscription_id", req.Filter.SubscriptionID),
		),
	)
	defer span.End()

	now := s.Now.now()
	action := actionOr(req.Action, ActionRevokeScope)

	var (
		revoked   []domain.Entitlement
		mutations []*Mutation
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := repo.RevokeMatching(ctx, tx, req.Filter, req.Reason, now)
		if errors.Is(err, repo.ErrEmptyFilter) {
			return invalid("revocation scope is empty")
		}
		if err != nil {
			return err
		}
		revoked = rows

		for _, g := range groupByIdentity(rows) {
			m := &Mutation{
				IdentityID:   g.identityID,
				Tier:         domain.TierFree,
				Source:       req.Filter.Source,
				Reason:       req.Reason,
				Action:       action,
				ExcludeApp:   req.ExcludeApp,
				Entitlements: g.rows,
			}
			for _, pid := range g.productIDs {
				n, err := repo.CountActive(ctx, tx, g.identityID, pid, now)
				if err != nil {
					return err
				}
				if n == 0 {
					m.ProductIDs = append(m.ProductIDs, pid)
				}
			}
			details := map[string]any{"reason": req.Reason, "revoked": len(g.rows)}
			for k, v := range req.Details {
				details[k] = v
			}
			if req.Filter.SubscriptionID != "" {
				details["stripe_subscription_id"] = req.Filter.SubscriptionID
			}
			if err := appendAudit(ctx, tx, g.identityID, action, g.productIDs, req.Filter.Source,
				derefStr(req.Filter.SourceApp), details, nil); err != nil {
				return err
			}
			mutations = append(mutations, m)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.auditFailure(ctx, req.Filter.IdentityID, action, req.Filter.ProductIDs, req.Filter.Source, derefStr(req.Filter.SourceApp), err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("revoked", len(revoked)))
	s.Publish(ctx, mutations...)
	return revoked, nil
}

// CheckAccess reports whether email has active access to productID. The
// identity is resolved through the product binding, then the primary email.
// An unknown email or a product without active rows yields HasAccess=false.
func (s *LedgerService) CheckAccess(ctx context.Context, email, productID string) (*AccessResult, error) {
	tr := otel.Tracer("services/LedgerService")
	ctx, span := tr.Start(ctx, "CheckAccess",
		trace.WithAttributes(attribute.String("product_id", productID)),
	)
	defer span.End()

	if NormalizeEmail(email) == "" || productID == "" {
		return nil, invalid("email and product_id are required")
	}
	ident, err := s.Identities.Resolve(ctx, email, productID)
	if errors.Is(err, ErrIdentityNotFound) {
		return &AccessResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := repo.ListActiveEntitlements(ctx, s.DB, ident.ID, productID, s.Now.now())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &AccessResult{}, nil
	}
	top := rows[0]
	res := &AccessResult{
		HasAccess: true,
		Source:    top.Source,
		SourceApp: top.SourceApp,
		ExpiresAt: top.ExpiresAt,
		GrantedAt: &top.GrantedAt,
	}
	if top.BundleID != nil {
		if b, err := repo.GetBundle(ctx, s.DB, *top.BundleID); err == nil {
			res.BundleName = b.Name
		}
	}
	return res, nil
}

// Publish records metrics for committed mutations and pushes their tier
// changes to every affected product that has a sync URL.
func (s *LedgerService) Publish(ctx context.Context, mutations ...*Mutation) {
	var targets []dispatch.Target
	for _, m := range mutations {
		if m == nil {
			continue
		}
		observability.LedgerMutationsTotal.WithLabelValues(m.Action, m.Source).Inc()
		if len(m.ProductIDs) == 0 || s.Sync == nil {
			continue
		}
		t, err := s.targets(ctx, m)
		if err != nil {
			log.Error().Err(err).
				Str("identity_id", m.IdentityID).
				Str("action", m.Action).
				Msg("build sync targets")
			continue
		}
		targets = append(targets, t...)
	}
	if len(targets) > 0 {
		s.Sync.Trigger(ctx, targets)
	}
}

func (s *LedgerService) targets(ctx context.Context, m *Mutation) ([]dispatch.Target, error) {
	products, err := repo.ListProductsByIDs(ctx, s.DB, m.ProductIDs)
	if err != nil {
		return nil, err
	}
	var out []dispatch.Target
	for _, p := range products {
		if p.SyncURL == "" || p.ID == m.ExcludeApp {
			continue
		}
		emails, err := s.Identities.SyncEmails(ctx, m.IdentityID, p.ID)
		if err != nil {
			return nil, err
		}
		for _, email := range emails {
			out = append(out, dispatch.Target{
				ProductID: p.ID,
				URL:       p.SyncURL,
				Payload: dispatch.Payload{
					Email:  email,
					Tier:   m.Tier,
					Source: m.Source,
					Reason: m.Reason,
				},
			})
		}
	}
	return out, nil
}

// auditFailure records a failed mutation outside the rolled-back transaction.
func (s *LedgerService) auditFailure(ctx context.Context, identityID, action string, productIDs []string, source, sourceApp string, cause error) {
	if err := appendAudit(ctx, s.DB, identityID, action, productIDs, source, sourceApp, nil, cause); err != nil {
		log.Error().Err(err).Str("action", action).Msg("audit failed mutation")
	}
}

func appendAudit(ctx context.Context, db *gorm.DB, identityID, action string, productIDs []string, source, sourceApp string, details map[string]any, cause error) error {
	ids, err := json.Marshal(nonNil(productIDs))
	if err != nil {
		return err
	}
	entry := &domain.AuditLogEntry{
		IdentityID: identityID,
		Action:     action,
		ProductIDs: datatypes.JSON(ids),
		Source:     source,
		SourceApp:  sourceApp,
	}
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		entry.Details = datatypes.JSON(raw)
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	return repo.AppendAudit(ctx, db, entry)
}

func validateGrant(req GrantRequest) error {
	switch {
	case req.IdentityID == "":
		return invalid("identity is required")
	case len(req.ProductIDs) == 0:
		return invalid("at least one product is required")
	case req.Source != domain.SourceBundle && req.Source != domain.SourceDirect:
		return invalid("unknown source %q", req.Source)
	case req.Source == domain.SourceDirect && req.SourceApp == "":
		return invalid("direct grants require a source app")
	}
	if req.ExpiresAt == nil {
		if err := req.Duration.Validate(); err != nil {
			return invalid("%v", err)
		}
	}
	return nil
}

type identityGroup struct {
	identityID string
	productIDs []string
	rows       []domain.Entitlement
}

// groupByIdentity groups revoked rows per identity with distinct, sorted
// product ids. Output order is stable.
func groupByIdentity(rows []domain.Entitlement) []identityGroup {
	idx := map[string]int{}
	var groups []identityGroup
	for _, r := range rows {
		i, ok := idx[r.IdentityID]
		if !ok {
			i = len(groups)
			idx[r.IdentityID] = i
			groups = append(groups, identityGroup{identityID: r.IdentityID})
		}
		g := &groups[i]
		g.rows = append(g.rows, r)
		if !contains(g.productIDs, r.ProductID) {
			g.productIDs = append(g.productIDs, r.ProductID)
		}
	}
	for i := range groups {
		sort.Strings(groups[i].productIDs)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].identityID < groups[b].identityID })
	return groups
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func actionOr(action, def string) string {
	if action == "" {
		return def
	}
	return action
}
