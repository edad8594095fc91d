// Package domain defines the persistence models for identities, products,
// bundles, entitlements, claim tokens and the audit/webhook logs. These types
// are mapped with GORM and form the core data layer of the entitlement service.
package domain

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Entitlement sources.
const (
	SourceBundle = "bundle"
	SourceDirect = "direct"
)

// Access tiers pushed to remote products.
const (
	TierPro  = "pro"
	TierFree = "free"
)

// Identity is the canonical buyer record. It unifies the possibly distinct
// emails a person uses across products.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - PrimaryEmail: normalized email, unique.
//   - StripeCustomerID: optional payment-customer id, unique when set.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Identity struct {
	ID               string    `json:"id"                           gorm:"type:char(36);primaryKey"`
	PrimaryEmail     string    `json:"primary_email"                gorm:"type:varchar(320);not null;uniqueIndex:ux_identity_email"`
	StripeCustomerID *string   `json:"stripe_customer_id,omitempty" gorm:"type:varchar(128);uniqueIndex:ux_identity_customer"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for Identity.
func (Identity) TableName() string { return "identities" }

// IdentityEmailBinding maps the email a user registered with on one product to
// an Identity. (email, product_id) is unique; the last writer wins.
type IdentityEmailBinding struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Email      string    `json:"email"       gorm:"type:varchar(320);not null;uniqueIndex:ux_binding_email_product,priority:1"`
	ProductID  string    `json:"product_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_binding_email_product,priority:2"`
	IdentityID string    `json:"identity_id" gorm:"type:char(36);not null;index"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName returns the database table name for IdentityEmailBinding.
func (IdentityEmailBinding) TableName() string { return "identity_email_bindings" }

// FormField declares one input a product collects during claim activation.
type FormField struct {
	Name     string   `json:"name"               yaml:"name"`
	Label    string   `json:"label,omitempty"    yaml:"label"`
	Type     string   `json:"type"               yaml:"type"` // text|email|number|boolean|select|url
	Required bool     `json:"required,omitempty" yaml:"required"`
	Options  []string `json:"options,omitempty"  yaml:"options"`
}

// Product is an independently operated application access is sold for.
// The ID doubles as the app identifier a product reports under.
type Product struct {
	ID           string         `json:"id"                    gorm:"type:varchar(64);primaryKey"`
	Name         string         `json:"name"                  gorm:"type:varchar(255);not null"`
	SyncURL      string         `json:"sync_url,omitempty"    gorm:"type:varchar(1024)"`
	CollectEmail bool           `json:"collect_email"         gorm:"not null;default:false"`
	FormSchema   datatypes.JSON `json:"form_schema,omitempty" swaggertype:"array,object"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }

// Schema decodes the declared form fields. An empty schema yields nil.
func (p Product) Schema() ([]FormField, error) {
	if len(p.FormSchema) == 0 {
		return nil, nil
	}
	var fields []FormField
	if err := json.Unmarshal(p.FormSchema, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// RequiresClaim reports whether buyers must supply data for this product
// before access can be granted.
func (p Product) RequiresClaim() bool {
	if p.CollectEmail {
		return true
	}
	fields, err := p.Schema()
	return err == nil && len(fields) > 0
}

// Bundle is a priced package of products sold under one duration policy.
type Bundle struct {
	ID            string       `json:"id"              gorm:"type:varchar(64);primaryKey"`
	Name          string       `json:"name"            gorm:"type:varchar(255);not null"`
	DurationType  DurationType `json:"duration_type"   gorm:"type:varchar(16);not null;check:duration_type IN ('lifetime','days','months','years')"`
	DurationValue int          `json:"duration_value"  gorm:"not null;default:0"`
	StripePriceID string       `json:"stripe_price_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_bundle_price"`
	Products      []Product    `json:"products"        gorm:"many2many:bundle_products;"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// TableName returns the database table name for Bundle.
func (Bundle) TableName() string { return "bundles" }

// Duration returns the bundle's duration policy.
func (b Bundle) Duration() Duration {
	return Duration{Type: b.DurationType, Value: b.DurationValue}
}

// ProductIDs lists the ids of the bundled products.
func (b Bundle) ProductIDs() []string {
	ids := make([]string, 0, len(b.Products))
	for _, p := range b.Products {
		ids = append(ids, p.ID)
	}
	return ids
}

// PaymentMeta carries the gateway metadata attached to a grant.
type PaymentMeta struct {
	StripeSubscriptionID *string `json:"stripe_subscription_id,omitempty"`
	StripePriceID        *string `json:"stripe_price_id,omitempty"`
	AmountPaid           *int64  `json:"amount_paid,omitempty"`
	Currency             *string `json:"currency,omitempty"`
}

// Entitlement is one grant of access to one product from one source.
// At most one row exists per (identity_id, product_id, source, source_app).
//
// A row is active when RevokedAt is nil and ExpiresAt is nil or in the future.
type Entitlement struct {
	ID                   string     `json:"id"                               gorm:"type:char(36);primaryKey"`
	IdentityID           string     `json:"identity_id"                      gorm:"type:char(36);not null;uniqueIndex:ux_entitlement_key,priority:1;index:idx_entitlement_identity_product,priority:1"`
	ProductID            string     `json:"product_id"                       gorm:"type:varchar(64);not null;uniqueIndex:ux_entitlement_key,priority:2;index:idx_entitlement_identity_product,priority:2"`
	Source               string     `json:"source"                           gorm:"type:varchar(16);not null;uniqueIndex:ux_entitlement_key,priority:3;check:source IN ('bundle','direct')"`
	SourceApp            string     `json:"source_app"                       gorm:"type:varchar(64);not null;uniqueIndex:ux_entitlement_key,priority:4"`
	GrantedAt            time.Time  `json:"granted_at"                       gorm:"not null"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	RevokedAt            *time.Time `json:"revoked_at,omitempty"`
	RevokedReason        *string    `json:"revoked_reason,omitempty"         gorm:"type:varchar(255)"`
	BundleID             *string    `json:"bundle_id,omitempty"              gorm:"type:varchar(64)"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty" gorm:"type:varchar(128);index"`
	StripePriceID        *string    `json:"stripe_price_id,omitempty"        gorm:"type:varchar(128)"`
	AmountPaid           *int64     `json:"amount_paid,omitempty"`
	Currency             *string    `json:"currency,omitempty"               gorm:"type:varchar(8)"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Entitlement.
func (Entitlement) TableName() string { return "entitlements" }

// Active reports whether the row grants access at now.
func (e Entitlement) Active(now time.Time) bool {
	if e.RevokedAt != nil {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}

// ClaimToken is a single-use credential letting a bundle buyer supply
// per-product emails and form data before access is granted.
// It is issued, then claimed (terminal). Expiry is checked on read.
type ClaimToken struct {
	Token                string     `json:"-"                                gorm:"type:varchar(64);primaryKey"`
	IdentityID           string     `json:"identity_id"                      gorm:"type:char(36);not null;index"`
	BundleID             string     `json:"bundle_id"                        gorm:"type:varchar(64);not null"`
	PurchaseEmail        string     `json:"purchase_email"                   gorm:"type:varchar(320);not null"`
	StripeSessionID      *string    `json:"stripe_session_id,omitempty"      gorm:"type:varchar(255);uniqueIndex:ux_claim_session"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty" gorm:"type:varchar(128)"`
	StripePriceID        *string    `json:"stripe_price_id,omitempty"        gorm:"type:varchar(128)"`
	AmountPaid           *int64     `json:"amount_paid,omitempty"`
	Currency             *string    `json:"currency,omitempty"               gorm:"type:varchar(8)"`
	CreatedAt            time.Time  `json:"created_at"`
	ExpiresAt            time.Time  `json:"expires_at"                       gorm:"not null"`
	ClaimedAt            *time.Time `json:"claimed_at,omitempty"`
}

// TableName returns the database table name for ClaimToken.
func (ClaimToken) TableName() string { return "claim_tokens" }

// Claimed reports whether the token reached its terminal state.
func (t ClaimToken) Claimed() bool { return t.ClaimedAt != nil }

// Expired reports whether the claim window closed before now.
func (t ClaimToken) Expired(now time.Time) bool { return !now.Before(t.ExpiresAt) }

// PaymentMeta returns the payment metadata captured at checkout.
func (t ClaimToken) PaymentMeta() PaymentMeta {
	return PaymentMeta{
		StripeSubscriptionID: t.StripeSubscriptionID,
		StripePriceID:        t.StripePriceID,
		AmountPaid:           t.AmountPaid,
		Currency:             t.Currency,
	}
}

// ProductSubmission stores validated per-product form data collected while
// activating a claim token.
type ProductSubmission struct {
	ID         string         `json:"id"          gorm:"type:char(36);primaryKey"`
	ClaimToken string         `json:"-"           gorm:"type:varchar(64);not null;uniqueIndex:ux_submission_token_product,priority:1"`
	ProductID  string         `json:"product_id"  gorm:"type:varchar(64);not null;uniqueIndex:ux_submission_token_product,priority:2"`
	IdentityID string         `json:"identity_id" gorm:"type:char(36);not null;index"`
	Email      string         `json:"email"       gorm:"type:varchar(320);not null"`
	FormData   datatypes.JSON `json:"form_data"   swaggertype:"object"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName returns the database table name for ProductSubmission.
func (ProductSubmission) TableName() string { return "product_submissions" }

// AuditLogEntry is an append-only record of a ledger mutation.
type AuditLogEntry struct {
	ID         string         `json:"id"                    gorm:"type:char(26);primaryKey"`
	IdentityID string         `json:"identity_id,omitempty" gorm:"type:char(36);index:idx_audit_identity_created,priority:1"`
	Action     string         `json:"action"                gorm:"type:varchar(64);not null"`
	ProductIDs datatypes.JSON `json:"product_ids"           swaggertype:"array,string"`
	Source     string         `json:"source,omitempty"      gorm:"type:varchar(16)"`
	SourceApp  string         `json:"source_app,omitempty"  gorm:"type:varchar(64)"`
	Details    datatypes.JSON `json:"details,omitempty"     swaggertype:"object"`
	Error      string         `json:"error,omitempty"       gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at"            gorm:"index:idx_audit_identity_created,priority:2"`
}

// TableName returns the database table name for AuditLogEntry.
func (AuditLogEntry) TableName() string { return "audit_log" }

// Webhook log statuses.
const (
	WebhookProcessing = "processing"
	WebhookProcessed  = "processed"
	WebhookIgnored    = "ignored"
	WebhookFailed     = "failed"
)

// WebhookLogEntry records one inbound event keyed by its external id. The
// row is upserted so redelivered events have at most one effect.
type WebhookLogEntry struct {
	EventID     string         `json:"event_id"               gorm:"type:varchar(255);primaryKey"`
	Provider    string         `json:"provider"               gorm:"type:varchar(32);not null;index"`
	EventType   string         `json:"event_type"             gorm:"type:varchar(128);not null"`
	Status      string         `json:"status"                 gorm:"type:varchar(16);not null;index"`
	Error       string         `json:"error,omitempty"        gorm:"type:text"`
	Payload     datatypes.JSON `json:"payload,omitempty"      swaggertype:"object"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the database table name for WebhookLogEntry.
func (WebhookLogEntry) TableName() string { return "webhook_log" }
