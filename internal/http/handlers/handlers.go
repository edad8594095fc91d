// Package handlers provides HTTP handler implementations for the public API.
//
// This file declares the service contracts the handlers depend on and the
// Handlers type that groups every endpoint:
//   - GET  /access/check          (single product access check)
//   - GET  /access/entitlements   (per-product summary, ETag support)
//   - POST /report                (app-reported subscription changes)
//   - POST /revoke                (blanket revoke by email)
//   - POST /entitlements/{id}/revoke
//   - GET  /claims/{token}        (claim portal view of a token)
//   - POST /claims/{token}/activate
//   - GET  /audit                 (paginated audit trail)
//   - POST /webhooks/stripe       (payment gateway events)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/gateway"
	"github.com/tbourn/go-entitlements/internal/services"
	"github.com/tbourn/go-entitlements/internal/utils"
)

//
// Service contracts (context-aware)
//

// AccessService answers read-only access questions.
type AccessService interface {
	// Check reports whether email has active access to productID.
	Check(ctx context.Context, email, productID string) (*services.AccessResult, error)
	// List summarizes every active entitlement reachable from email.
	List(ctx context.Context, email string) (*services.AccessList, error)
	// Fingerprint changes whenever List would return something different.
	Fingerprint(ctx context.Context, email string) (string, error)
}

// ReportService applies subscription changes reported by integrated apps.
type ReportService interface {
	Apply(ctx context.Context, req services.ReportRequest) (*services.ReportResult, error)
}

// RevocationService withdraws entitlements.
type RevocationService interface {
	// RevokeEmail revokes productIDs on every source for the identity email resolves to.
	RevokeEmail(ctx context.Context, email string, productIDs []string, reason string) ([]*services.Mutation, error)
	// RevokeOne revokes a single entitlement row.
	RevokeOne(ctx context.Context, entitlementID, reason string) (*services.Mutation, error)
}

// ClaimService exposes the claim portal operations.
type ClaimService interface {
	// Status returns the portal view of token, including expired tokens.
	Status(ctx context.Context, token string) (*services.ClaimStatus, error)
	// Activate redeems token and grants the bundle.
	Activate(ctx context.Context, token string, inputs map[string]services.ProductInput) (*services.Mutation, error)
}

// PurchaseService processes verified payment gateway events.
type PurchaseService interface {
	HandleEvent(ctx context.Context, evt *gateway.Event) (*services.Outcome, error)
}

// AuditService reads the audit trail.
type AuditService interface {
	ListPage(ctx context.Context, identityID string, page, pageSize int) ([]domain.AuditLogEntry, int64, error)
}

// EventVerifier authenticates and decodes raw webhook payloads.
type EventVerifier interface {
	Parse(payload []byte, sigHeader string) (*gateway.Event, error)
}

//
// Handler wiring
//

// Services bundles the dependencies of Handlers. Nil members disable the
// corresponding endpoints' behavior only in tests; production wiring sets all.
type Services struct {
	Access    AccessService
	Report    ReportService
	Revoke    RevocationService
	Claims    ClaimService
	Purchases PurchaseService
	Audit     AuditService
	Verifier  EventVerifier
}

// Handlers groups HTTP endpoints for access queries, reports, claims, the
// audit trail and payment webhooks. It depends on abstract service
// interfaces to keep transport concerns separate from business logic.
type Handlers struct {
	accessSvc   AccessService
	reportSvc   ReportService
	revokeSvc   RevocationService
	claimSvc    ClaimService
	purchaseSvc PurchaseService
	auditSvc    AuditService
	verifier    EventVerifier
}

// New constructs and returns a Handlers instance bound to the given services.
func New(s Services) *Handlers {
	return &Handlers{
		accessSvc:   s.Access,
		reportSvc:   s.Report,
		revokeSvc:   s.Revoke,
		claimSvc:    s.Claims,
		purchaseSvc: s.Purchases,
		auditSvc:    s.Audit,
		verifier:    s.Verifier,
	}
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// clampPagination parses the page and page_size query params and bounds them
// with utils.ClampPage, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), utils.DefaultPageSize),
	)
}
