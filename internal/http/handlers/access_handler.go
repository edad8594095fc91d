// Access HTTP handlers.
//
// This file exposes the read side of the ledger to integrated products:
//   - GET /access/check          (does email have access to product_id?)
//   - GET /access/entitlements   (per-product summary, weak ETag)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/services"
)

// CheckAccess godoc
// @ID          checkAccess
// @Summary     Check product access
// @Description Reports whether the email has an active entitlement for the product,
// @Description through any source. Unknown emails are answered with has_access=false.
// @Tags        Access
// @Produce     json
// @Security    SharedSecret
//
// @Param       email       query  string  true   "Email address"              example(user@example.com)
// @Param       product_id  query  string  false  "Product ID (required unless productId is set)"  example(notes)
// @Param       productId   query  string  false  "Alias of product_id"        example(notes)
//
// @Success     200  {object} services.AccessResult
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid shared secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /access/check [get]
func (h *Handlers) CheckAccess(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	productID := strings.TrimSpace(c.Query("product_id"))
	if productID == "" {
		productID = strings.TrimSpace(c.Query("productId"))
	}
	if email == "" || productID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email and product_id are required")
		return
	}

	res, err := h.accessSvc.Check(c.Request.Context(), email, productID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, res)
}

// ListEntitlements godoc
// @ID          listEntitlements
// @Summary     List entitlements for an email
// @Description Returns every product the email currently has access to, with the
// @Description active grants behind each. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Access
// @Produce     json
// @Security    SharedSecret
//
// @Param       email          query   string  true   "Email address"               example(user@example.com)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} services.AccessList
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid shared secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /access/entitlements [get]
func (h *Handlers) ListEntitlements(c *gin.Context) {
	ctx := c.Request.Context()
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "email is required")
		return
	}

	// Revalidation is best effort; a fingerprint failure just skips it.
	if fp, err := h.accessSvc.Fingerprint(ctx, email); err == nil {
		if notModified(c, weakETag("entitlements", fp)) {
			return
		}
	}

	list, err := h.accessSvc.List(ctx, email)
	if err != nil {
		failErr(c, err)
		return
	}
	if list.Products == nil {
		list.Products = []services.ProductAccess{}
	}
	ok(c, http.StatusOK, list)
}
