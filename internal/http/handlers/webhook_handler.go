// Webhook HTTP handler.
//
// POST /webhooks/stripe receives payment gateway events. The raw body is
// verified against the Stripe-Signature header before it is decoded.
//
// Status codes drive the gateway's retry behavior:
//   - 2xx for processed, ignored, duplicate and non-retryable events
//   - 400 for unreadable or unverifiable payloads
//   - 5xx when processing failed and a redelivery may succeed
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/gateway"
	"github.com/tbourn/go-entitlements/internal/http/middleware"
	"github.com/tbourn/go-entitlements/internal/services"
)

// maxWebhookBytes is the largest event body accepted.
const maxWebhookBytes = 64 << 10

// StripeWebhook godoc
// @ID          stripeWebhook
// @Summary     Receive a Stripe event
// @Description Applies checkout and subscription events to the ledger exactly once per event id.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       Stripe-Signature  header  string  false  "Stripe webhook signature"
//
// @Success     200  {object} services.Outcome
// @Failure     400  {object} handlers.ErrorResponse "Unreadable or unverifiable payload"
// @Failure     500  {object} handlers.ErrorResponse "Processing failed; redelivery is safe"
// @Failure     502  {object} handlers.ErrorResponse "Gateway lookup failed; redelivery is safe"
// @Router      /webhooks/stripe [post]
func (h *Handlers) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil || len(payload) > maxWebhookBytes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable payload")
		return
	}

	evt, err := h.verifier.Parse(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, gateway.ErrSignature) {
			fail(c, http.StatusBadRequest, ErrCodeBadSignature, "invalid signature")
			return
		}
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	lg := middleware.LoggerFrom(c)
	out, err := h.purchaseSvc.HandleEvent(c.Request.Context(), evt)
	switch {
	case err == nil:
		ok(c, http.StatusOK, out)
	case errors.Is(err, services.ErrAlreadyProcessed):
		lg.Info().Str("event_id", evt.ID).Msg("duplicate webhook delivery")
		ok(c, http.StatusOK, out)
	case errors.Is(err, services.ErrValidation) && out != nil:
		// Redelivering the same payload cannot fix it.
		lg.Warn().Err(err).Str("event_id", evt.ID).Msg("webhook event rejected")
		ok(c, http.StatusOK, out)
	default:
		failErr(c, err)
	}
}
