// Package services defines the business logic of the entitlement core:
// identities, the entitlement ledger, purchase-event processing, the claim
// workflow, app reports and access queries. This file centralizes the
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// Translation into HTTP status codes is performed at the handler layer.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/go-entitlements/internal/forms"
)

var (
	// ErrNotFound is the parent of every not-found error below; match it with
	// errors.Is to handle any missing record.
	ErrNotFound = errors.New("not found")

	// ErrIdentityNotFound indicates no identity matches the email or customer id.
	ErrIdentityNotFound = fmt.Errorf("identity %w", ErrNotFound)

	// ErrBundleNotFound indicates no bundle matches the id or price id.
	ErrBundleNotFound = fmt.Errorf("bundle %w", ErrNotFound)

	// ErrProductNotFound indicates the product is not in the catalog.
	ErrProductNotFound = fmt.Errorf("product %w", ErrNotFound)

	// ErrClaimNotFound indicates the claim token does not exist.
	ErrClaimNotFound = fmt.Errorf("claim token %w", ErrNotFound)

	// ErrEntitlementNotFound indicates the entitlement id does not exist.
	ErrEntitlementNotFound = fmt.Errorf("entitlement %w", ErrNotFound)

	// ErrAlreadyProcessed is returned for a replayed event or idempotency key.
	// Callers treat it as a successful no-op.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrAlreadyClaimed is returned when activating a token that was claimed.
	ErrAlreadyClaimed = errors.New("claim token already claimed")

	// ErrClaimExpired is returned for an unclaimed token past its window.
	ErrClaimExpired = errors.New("claim token expired")

	// ErrUnauthorized indicates a bad shared secret or signature.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrValidation indicates invalid input. Wrapped errors carry the detail.
	ErrValidation = errors.New("validation failed")

	// ErrUpstream indicates a failing call to the gateway or a remote product.
	ErrUpstream = errors.New("upstream failure")
)

// invalid wraps ErrValidation with a formatted detail.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// FormError reports the invalid fields of one product's claim form.
type FormError struct {
	ProductID string
	Fields    forms.Errors
}

func (e *FormError) Error() string {
	return fmt.Sprintf("%s: product %s: %s", ErrValidation, e.ProductID, e.Fields.Error())
}

// Is makes FormError match ErrValidation.
func (e *FormError) Is(target error) bool { return target == ErrValidation }
