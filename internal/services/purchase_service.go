// Package services – PurchaseService
//
// PurchaseService turns payment-gateway events into ledger mutations. Every
// event is first recorded in the webhook log keyed by its event id; only the
// delivery that owns that row acts on it, so redelivered events have at most
// one effect. Processed and ignored events are final; failed events, and
// processing rows abandoned longer than StaleAfter, may be retried.
//
// Handled events:
//
//   - checkout.session.completed: bundle purchase. Bundles with products that
//     collect data issue a claim token; all others are granted immediately.
//   - customer.subscription.created/updated: renew on active/trialing, revoke
//     the subscription's rows on canceled/unpaid/past_due.
//   - customer.subscription.deleted: revoke the subscription's rows.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/gateway"
	"github.com/tbourn/go-entitlements/internal/observability"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// DefaultStaleAfter is how long a processing webhook row may sit before
// another delivery can take it over.
const DefaultStaleAfter = 10 * time.Minute

// ProviderStripe labels gateway events in the webhook log.
const ProviderStripe = "stripe"

// Audit actions written for purchases.
const (
	ActionCheckout     = "purchase.checkout"
	ActionSubscription = "purchase.subscription"
)

// Subscription statuses the processor acts on.
const (
	SubActive   = "active"
	SubTrialing = "trialing"
	SubCanceled = "canceled"
	SubUnpaid   = "unpaid"
	SubPastDue  = "past_due"
)

// Outcome summarizes what HandleEvent did with one event.
type Outcome struct {
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	Status      string `json:"status"`
	Duplicate   bool   `json:"duplicate"`
	Handled     bool   `json:"handled"`
	IdentityID  string `json:"identity_id,omitempty"`
	ClaimIssued bool   `json:"claim_issued,omitempty"`
}

// PurchaseService processes gateway events.
type PurchaseService struct {
	DB         *gorm.DB
	Identities *IdentityService
	Ledger     *LedgerService
	Claims     *ClaimService
	Notifier   Notifier
	Prices     gateway.PriceResolver
	Now        Clock

	// StaleAfter bounds how long a processing row blocks redeliveries.
	StaleAfter time.Duration
}

// NewPurchaseService constructs a PurchaseService. prices may be nil when
// checkout events always carry their price.
func NewPurchaseService(db *gorm.DB, ids *IdentityService, ledger *LedgerService, claims *ClaimService, n Notifier, prices gateway.PriceResolver) *PurchaseService {
	return &PurchaseService{
		DB:         db,
		Identities: ids,
		Ledger:     ledger,
		Claims:     claims,
		Notifier:   n,
		Prices:     prices,
		StaleAfter: DefaultStaleAfter,
	}
}

// HandleEvent applies evt once. A delivery that does not own the event
// returns ErrAlreadyProcessed with Outcome.Duplicate set.
func (s *PurchaseService) HandleEvent(ctx context.Context, evt *gateway.Event) (*Outcome, error) {
	tr := otel.Tracer("services/PurchaseService")
	ctx, span := tr.Start(ctx, "HandleEvent",
		trace.WithAttributes(
			attribute.String("event_id", evt.ID),
			attribute.String("event_type", evt.Type),
		),
	)
	defer span.End()

	out := &Outcome{EventID: evt.ID, EventType: evt.Type}
	entry := &domain.WebhookLogEntry{
		EventID:   evt.ID,
		Provider:  ProviderStripe,
		EventType: evt.Type,
	}
	if json.Valid(evt.Payload) {
		entry.Payload = datatypes.JSON(evt.Payload)
	}
	owned, err := repo.ClaimWebhookEvent(ctx, s.DB, entry, time.Now().UTC().Add(-s.staleAfter()))
	if err != nil {
		return nil, err
	}
	if !owned {
		out.Duplicate = true
		observability.WebhookEventsTotal.WithLabelValues(evt.Type, "duplicate").Inc()
		return out, ErrAlreadyProcessed
	}

	var handled bool
	switch evt.Type {
	case gateway.EventCheckoutCompleted:
		handled, err = s.handleCheckout(ctx, out, evt.Checkout)
	case gateway.EventSubscriptionCreated, gateway.EventSubscriptionUpdated:
		handled, err = s.handleSubscriptionChange(ctx, out, evt.Subscription)
	case gateway.EventSubscriptionDeleted:
		handled, err = s.handleSubscriptionDeleted(ctx, out, evt.Subscription)
	}
	out.Handled = handled

	status, msg := domain.WebhookIgnored, ""
	switch {
	case err != nil:
		status, msg = domain.WebhookFailed, err.Error()
		span.RecordError(err)
	case handled:
		status = domain.WebhookProcessed
	}
	out.Status = status
	observability.WebhookEventsTotal.WithLabelValues(evt.Type, status).Inc()

	if ferr := repo.FinishWebhookEvent(ctx, s.DB, evt.ID, status, msg); ferr != nil {
		log.Error().Err(ferr).Str("event_id", evt.ID).Msg("finish webhook event")
		if err == nil {
			err = ferr
		}
	}
	return out, err
}

func (s *PurchaseService) handleCheckout(ctx context.Context, out *Outcome, c *gateway.Checkout) (bool, error) {
	if c == nil {
		return false, invalid("checkout event without session")
	}
	priceID := c.PriceID
	if priceID == "" && s.Prices != nil && c.SessionID != "" {
		p, err := s.Prices.CheckoutPriceID(ctx, c.SessionID)
		if err != nil {
			return false, fmt.Errorf("%w: resolve price: %v", ErrUpstream, err)
		}
		priceID = p
	}
	if priceID == "" {
		log.Info().Str("session_id", c.SessionID).Msg("checkout without price; ignored")
		return false, nil
	}
	b, err := repo.GetBundleByPriceID(ctx, s.DB, priceID)
	if repo.IsNotFound(err) {
		log.Info().Str("price_id", priceID).Msg("checkout for unknown price; ignored")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if c.Email == "" {
		return false, invalid("checkout %s has no buyer email", c.SessionID)
	}

	ident, err := s.Identities.FindOrCreate(ctx, nil, c.Email)
	if err != nil {
		return false, err
	}
	if err := s.Identities.AttachCustomer(ctx, nil, ident, c.CustomerID); err != nil {
		return false, err
	}
	out.IdentityID = ident.ID

	meta := domain.PaymentMeta{
		StripeSubscriptionID: strPtr(c.SubscriptionID),
		StripePriceID:        &priceID,
		AmountPaid:           c.AmountTotal,
		Currency:             strPtr(c.Currency),
	}

	if bundleRequiresClaim(b) {
		tok, created, err := s.Claims.Issue(ctx, nil, IssueRequest{
			IdentityID:    ident.ID,
			BundleID:      b.ID,
			PurchaseEmail: ident.PrimaryEmail,
			SessionID:     c.SessionID,
			Payment:       meta,
		})
		if err != nil {
			return false, err
		}
		out.ClaimIssued = true
		if created && s.Notifier != nil {
			if err := s.Notifier.SendClaimLink(ctx, ident.PrimaryEmail, b.Name, s.Claims.Link(tok.Token), tok.ExpiresAt); err != nil {
				log.Warn().Err(err).Str("identity_id", ident.ID).Msg("send claim link")
			}
		}
		return true, nil
	}

	bundleID := b.ID
	req := GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: b.ProductIDs(),
		Source:     domain.SourceBundle,
		BundleID:   &bundleID,
		Duration:   b.Duration(),
		Payment:    meta,
		Action:     ActionCheckout,
		Reason:     "purchase",
		Details:    map[string]any{"stripe_session_id": c.SessionID},
	}
	var m *Mutation
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, pid := range req.ProductIDs {
			if err := s.Identities.Bind(ctx, tx, ident.PrimaryEmail, pid, ident.ID); err != nil {
				return err
			}
		}
		var err error
		m, err = s.Ledger.GrantTx(ctx, tx, req)
		return err
	})
	if err != nil {
		s.Ledger.auditFailure(ctx, ident.ID, ActionCheckout, req.ProductIDs, req.Source, "", err)
		return false, err
	}
	s.Ledger.Publish(ctx, m)

	if s.Notifier != nil {
		names := make([]string, 0, len(b.Products))
		for _, p := range b.Products {
			names = append(names, p.Name)
		}
		var expires *time.Time
		if len(m.Entitlements) > 0 {
			expires = m.Entitlements[0].ExpiresAt
		}
		if err := s.Notifier.SendConfirmation(ctx, ident.PrimaryEmail, b.Name, names, expires); err != nil {
			log.Warn().Err(err).Str("identity_id", ident.ID).Msg("send purchase confirmation")
		}
	}
	return true, nil
}

func (s *PurchaseService) handleSubscriptionChange(ctx context.Context, out *Outcome, sub *gateway.Subscription) (bool, error) {
	if sub == nil || sub.ID == "" {
		return false, invalid("subscription event without subscription")
	}
	switch sub.Status {
	case SubCanceled, SubUnpaid, SubPastDue:
		return s.revokeSubscription(ctx, sub.ID, "subscription "+sub.Status)
	case SubActive, SubTrialing:
	default:
		log.Info().Str("subscription_id", sub.ID).Str("status", sub.Status).Msg("subscription status ignored")
		return false, nil
	}

	ident, err := s.Identities.ByCustomerID(ctx, sub.CustomerID)
	if errors.Is(err, ErrIdentityNotFound) {
		log.Info().Str("customer_id", sub.CustomerID).Msg("subscription for unknown customer; ignored")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	out.IdentityID = ident.ID

	b, err := repo.GetBundleByPriceID(ctx, s.DB, sub.PriceID)
	if repo.IsNotFound(err) {
		log.Info().Str("price_id", sub.PriceID).Msg("subscription for unknown price; ignored")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	productIDs := b.ProductIDs()
	if bundleRequiresClaim(b) {
		// Until the claim is activated there is nothing to renew.
		productIDs, err = s.grantedProducts(ctx, ident.ID, productIDs)
		if err != nil {
			return false, err
		}
		if len(productIDs) == 0 {
			return false, nil
		}
	}

	bundleID := b.ID
	_, err = s.Ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: productIDs,
		Source:     domain.SourceBundle,
		BundleID:   &bundleID,
		Duration:   b.Duration(),
		ExpiresAt:  sub.CurrentPeriodEnd,
		Payment: domain.PaymentMeta{
			StripeSubscriptionID: &sub.ID,
			StripePriceID:        strPtr(sub.PriceID),
			AmountPaid:           sub.UnitAmount,
			Currency:             strPtr(sub.Currency),
		},
		Action:  ActionSubscription,
		Reason:  "subscription " + sub.Status,
		Details: map[string]any{"stripe_subscription_id": sub.ID},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PurchaseService) handleSubscriptionDeleted(ctx context.Context, _ *Outcome, sub *gateway.Subscription) (bool, error) {
	if sub == nil || sub.ID == "" {
		return false, invalid("subscription event without subscription")
	}
	return s.revokeSubscription(ctx, sub.ID, "subscription deleted")
}

func (s *PurchaseService) revokeSubscription(ctx context.Context, subscriptionID, reason string) (bool, error) {
	rows, err := s.Ledger.RevokeScoped(ctx, RevokeRequest{
		Filter: repo.EntitlementFilter{SubscriptionID: subscriptionID},
		Reason: reason,
		Action: ActionSubscription,
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// grantedProducts keeps the bundle products that already have a bundle row
// for identityID, revoked or not.
func (s *PurchaseService) grantedProducts(ctx context.Context, identityID string, productIDs []string) ([]string, error) {
	var out []string
	for _, pid := range productIDs {
		_, err := repo.GetEntitlementByKey(ctx, s.DB, identityID, pid, domain.SourceBundle, "")
		if repo.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, nil
}

func (s *PurchaseService) staleAfter() time.Duration {
	if s.StaleAfter <= 0 {
		return DefaultStaleAfter
	}
	return s.StaleAfter
}

func bundleRequiresClaim(b *domain.Bundle) bool {
	for _, p := range b.Products {
		if p.RequiresClaim() {
			return true
		}
	}
	return false
}
