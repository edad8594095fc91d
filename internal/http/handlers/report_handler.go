// Report HTTP handler.
//
// POST /report lets an integrated product tell the ledger about a
// subscription it sold on its own (grant) or that ended (revoke). The
// product authenticates with the shared secret.
//
// Idempotency:
// If the client supplies an Idempotency-Key header, a retried report with
// the same key from the same caller (X-Source-App) is acknowledged without
// being re-applied and the response carries `Idempotency-Replayed: true`.
//
// Field names are snake_case; the camelCase spellings (productId,
// sourceApp, ...) are accepted as aliases.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/http/middleware"
	"github.com/tbourn/go-entitlements/internal/services"
)

// Report godoc
// @ID          reportSubscription
// @Summary     Report an externally sold subscription
// @Description Grants or revokes a direct entitlement on behalf of the reporting app.
// @Description Revokes only touch rows that app reported. Supports idempotency via the Idempotency-Key header.
// @Tags        Report
// @Accept      json
// @Produce     json
// @Security    SharedSecret
//
// @Param       Idempotency-Key  header  string                  false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    services.ReportRequest  true   "Report payload"
//
// @Success     200  {object} services.ReportResult
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Missing or invalid shared secret"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /report [post]
func (h *Handlers) Report(c *gin.Context) {
	var req services.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	req.SourceApp = strings.TrimSpace(req.SourceApp)
	if req.SourceApp == "" {
		req.SourceApp = middleware.CallerApp(c)
	}
	if key, found := middleware.GetIdempotencyKey(c); found {
		req.IdempotencyKey = key
		req.KeyScope = middleware.CallerApp(c)
	}

	res, err := h.reportSvc.Apply(c.Request.Context(), req)
	if err != nil {
		failErr(c, err)
		return
	}
	if res.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	ok(c, http.StatusOK, res)
}
