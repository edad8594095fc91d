package services

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-entitlements/internal/dispatch"
)

// Syncer receives the pushes produced by ledger mutations.
// *dispatch.Dispatcher implements it.
type Syncer interface {
	Trigger(ctx context.Context, targets []dispatch.Target)
}

// Notifier sends the buyer-facing purchase emails.
// *notify.Notifier implements it.
type Notifier interface {
	SendConfirmation(ctx context.Context, to, bundleName string, products []string, expiresAt *time.Time) error
	SendClaimLink(ctx context.Context, to, bundleName, link string, expiresAt time.Time) error
}

// Clock returns the current time. Services default to time.Now.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

// NormalizeEmail trims and lower-cases an email address. A Caser is not safe
// for concurrent use, so one is built per call.
func NormalizeEmail(email string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
