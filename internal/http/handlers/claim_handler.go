// Claim HTTP handlers.
//
// These endpoints back the claim portal a buyer lands on after purchasing a
// bundle that needs per-product details:
//   - GET  /claims/{token}            (validity, bundle, products, form schema)
//   - POST /claims/{token}/activate   (submit details and grant the bundle)
//
// The token itself is the credential; no shared secret is required.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/services"
)

// maxTokenLen bounds the :token path segment before any lookup.
const maxTokenLen = 128

// ActivateClaimRequest is the JSON payload for redeeming a claim token.
type ActivateClaimRequest struct {
	// Products maps product IDs to the email and form data the buyer entered.
	// Products left out default to the purchase email.
	Products map[string]services.ProductInput `json:"products"`
}

// ActivateClaimResponse describes the entitlements a redemption created.
type ActivateClaimResponse struct {
	IdentityID   string               `json:"identity_id"`
	ProductIDs   []string             `json:"product_ids"`
	Entitlements []domain.Entitlement `json:"entitlements"`
}

func claimToken(c *gin.Context) (string, bool) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" || len(token) > maxTokenLen {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "claim token not found")
		return "", false
	}
	return token, true
}

// GetClaim godoc
// @ID          getClaim
// @Summary     Inspect a claim token
// @Description Returns the state of the token (valid, claimed or expired), the bundle,
// @Description and each product with the form the buyer has to fill in.
// @Tags        Claims
// @Produce     json
//
// @Param       token  path  string  true  "Claim token"
//
// @Success     200  {object} services.ClaimStatus
// @Failure     404  {object} handlers.ErrorResponse "Unknown token"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /claims/{token} [get]
func (h *Handlers) GetClaim(c *gin.Context) {
	token, found := claimToken(c)
	if !found {
		return
	}
	status, err := h.claimSvc.Status(c.Request.Context(), token)
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, status)
}

// ActivateClaim godoc
// @ID          activateClaim
// @Summary     Redeem a claim token
// @Description Binds the supplied emails, stores form submissions and grants every
// @Description product of the bundle. A token can be redeemed once.
// @Tags        Claims
// @Accept      json
// @Produce     json
//
// @Param       token  path  string                         true  "Claim token"
// @Param       body   body  handlers.ActivateClaimRequest  true  "Per-product details"
//
// @Success     200  {object} handlers.ActivateClaimResponse
// @Failure     400  {object} handlers.FormErrorResponse "Invalid form or email"
// @Failure     404  {object} handlers.ErrorResponse     "Unknown token"
// @Failure     409  {object} handlers.ErrorResponse     "Already claimed"
// @Failure     410  {object} handlers.ErrorResponse     "Token expired"
// @Failure     500  {object} handlers.ErrorResponse     "Internal error"
// @Router      /claims/{token}/activate [post]
func (h *Handlers) ActivateClaim(c *gin.Context) {
	token, found := claimToken(c)
	if !found {
		return
	}
	var req ActivateClaimRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}

	m, err := h.claimSvc.Activate(c.Request.Context(), token, req.Products)
	if err != nil {
		failErr(c, err)
		return
	}

	resp := ActivateClaimResponse{
		IdentityID:   m.IdentityID,
		ProductIDs:   m.ProductIDs,
		Entitlements: m.Entitlements,
	}
	if resp.ProductIDs == nil {
		resp.ProductIDs = []string{}
	}
	if resp.Entitlements == nil {
		resp.Entitlements = []domain.Entitlement{}
	}
	ok(c, http.StatusOK, resp)
}
