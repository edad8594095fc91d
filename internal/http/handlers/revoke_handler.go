// Revocation HTTP handlers.
//
// Integrated products (and operators) use these to withdraw access:
//   - POST /revoke                      (blanket revoke by email and products)
//   - POST /entitlements/{id}/revoke    (revoke exactly one entitlement row)
//
// Both require the shared secret.
package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/http/middleware"
	"github.com/tbourn/go-entitlements/internal/services"
)

// RevokeRequest is the payload of a blanket revocation.
type RevokeRequest struct {
	Email      string   `json:"email" example:"user@example.com"`
	ProductIDs []string `json:"product_ids"`
	Reason     string   `json:"reason,omitempty" example:"refund"`
}

// UnmarshalJSON also accepts "productIds".
func (r *RevokeRequest) UnmarshalJSON(b []byte) error {
	type plain RevokeRequest
	var in struct {
		plain
		ProductIDsAlias []string `json:"productIds"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = RevokeRequest(in.plain)
	if len(r.ProductIDs) == 0 {
		r.ProductIDs = in.ProductIDsAlias
	}
	return nil
}

// RevokeEntitlementRequest is the optional payload of a single-row revocation.
type RevokeEntitlementRequest struct {
	Reason string `json:"reason,omitempty" example:"chargeback"`
}

// RevokeResponse lists the rows a revocation touched.
type RevokeResponse struct {
	Revoked      int                  `json:"revoked"`
	Entitlements []domain.Entitlement `json:"entitlements"`
}

// Revoke godoc
// @ID          revoke
// @Summary     Revoke products for an email
// @Description Revokes every active entitlement of the listed products, whatever
// @Description their source, for the identity the email resolves to.
// @Tags        Revocation
// @Accept      json
// @Produce     json
// @Security    SharedSecret
//
// @Param       body  body  handlers.RevokeRequest  true  "Revocation"
//
// @Success     200  {object} handlers.RevokeResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid shared secret"
// @Failure     404  {object} handlers.ErrorResponse "Unknown email"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /revoke [post]
func (h *Handlers) Revoke(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || len(req.ProductIDs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and product_ids are required")
		return
	}

	ms, err := h.revokeSvc.RevokeEmail(c.Request.Context(), req.Email, req.ProductIDs, revokeReason(c, req.Reason))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, revokeResponse(ms...))
}

// RevokeEntitlement godoc
// @ID          revokeEntitlement
// @Summary     Revoke one entitlement
// @Description Revokes a single entitlement row. Other rows for the same product stay
// @Description active, and the product only drops to free when none remain.
// @Tags        Revocation
// @Accept      json
// @Produce     json
// @Security    SharedSecret
//
// @Param       id    path  string                             true   "Entitlement ID"
// @Param       body  body  handlers.RevokeEntitlementRequest  false  "Reason"
//
// @Success     200  {object} handlers.RevokeResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid shared secret"
// @Failure     404  {object} handlers.ErrorResponse "Unknown entitlement"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /entitlements/{id}/revoke [post]
func (h *Handlers) RevokeEntitlement(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "entitlement not found")
		return
	}
	var req RevokeEntitlementRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	m, err := h.revokeSvc.RevokeOne(c.Request.Context(), id, revokeReason(c, req.Reason))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, revokeResponse(m))
}

// revokeReason defaults an empty reason to the calling app.
func revokeReason(c *gin.Context, reason string) string {
	if r := strings.TrimSpace(reason); r != "" {
		return r
	}
	if app := middleware.CallerApp(c); app != "" {
		return "revoked by " + app
	}
	return "revoked via api"
}

func revokeResponse(ms ...*services.Mutation) RevokeResponse {
	out := RevokeResponse{Entitlements: []domain.Entitlement{}}
	for _, m := range ms {
		if m == nil {
			continue
		}
		out.Entitlements = append(out.Entitlements, m.Entitlements...)
	}
	out.Revoked = len(out.Entitlements)
	return out
}
