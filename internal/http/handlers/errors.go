// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP responses
// (via the `fail()` helper in this package) and the translation of service errors
// into those codes. These codes provide clients with a stable, machine-readable
// error taxonomy that supplements human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., already_claimed, claim_expired) are reserved for
//     business logic errors that clients branch on.
//   - All error responses must include both an HTTP status and one of these codes.
//
// Example response:
//   {
//     "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//     "code": "already_claimed",
//     "message": "claim token already claimed"
//   }

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-entitlements/internal/forms"
	"github.com/tbourn/go-entitlements/internal/http/middleware"
	"github.com/tbourn/go-entitlements/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeInvalidForm      = "invalid_form"
	ErrCodeAlreadyClaimed   = "already_claimed"
	ErrCodeClaimExpired     = "claim_expired"
	ErrCodeBadSignature     = "bad_signature"
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// FormErrorResponse is returned when a claim form fails validation.
type FormErrorResponse struct {
	ErrorResponse
	// ProductID names the product whose form was rejected.
	ProductID string `json:"product_id" example:"notes"`
	// Fields lists each invalid field.
	Fields forms.Errors `json:"fields"`
}

// failErr maps a service error onto the error envelope.
func failErr(c *gin.Context, err error) {
	var fe *services.FormError
	switch {
	case errors.As(err, &fe):
		middleware.LoggerFrom(c).Debug().Str("product_id", fe.ProductID).Msg("claim form rejected")
		c.AbortWithStatusJSON(http.StatusBadRequest, FormErrorResponse{
			ErrorResponse: ErrorResponse{
				RequestID: c.Writer.Header().Get("X-Request-ID"),
				Code:      ErrCodeInvalidForm,
				Message:   "claim form is invalid",
			},
			ProductID: fe.ProductID,
			Fields:    fe.Fields,
		})
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrAlreadyClaimed):
		fail(c, http.StatusConflict, ErrCodeAlreadyClaimed, err.Error())
	case errors.Is(err, services.ErrClaimExpired):
		fail(c, http.StatusGone, ErrCodeClaimExpired, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, services.ErrUpstream):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
