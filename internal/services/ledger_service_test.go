package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/repo"
)

func TestLedger_Grant_OneRowPerKeyAndRegrantRefreshes(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")

	first, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: []string{"A"},
		Source:     domain.SourceBundle,
		Duration:   domain.Duration{Type: domain.DurationDays, Value: 10},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := st.ledger.RevokeOne(ctx, first.Entitlements[0].ID, "refund"); err != nil {
		t.Fatalf("RevokeOne: %v", err)
	}

	second, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: []string{"A"},
		Source:     domain.SourceBundle,
		Duration:   domain.Lifetime,
		Payment:    domain.PaymentMeta{StripePriceID: ptr("price_9")},
	})
	if err != nil {
		t.Fatalf("re-Grant: %v", err)
	}

	if n := st.countRows(t, &domain.Entitlement{}, "identity_id = ?", ident.ID); n != 1 {
		t.Fatalf("expected exactly one row per key, got %d", n)
	}
	e := second.Entitlements[0]
	if e.ID != first.Entitlements[0].ID {
		t.Fatalf("re-grant created a new row: %s vs %s", e.ID, first.Entitlements[0].ID)
	}
	if e.RevokedAt != nil || e.RevokedReason != nil {
		t.Fatalf("revocation not cleared: %+v", e)
	}
	if e.ExpiresAt != nil {
		t.Fatalf("expiry not refreshed to lifetime: %v", e.ExpiresAt)
	}
	if e.StripePriceID == nil || *e.StripePriceID != "price_9" {
		t.Fatalf("payment metadata not refreshed: %+v", e.StripePriceID)
	}
}

func TestLedger_Grant_DurationAndExplicitExpiry(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")

	m, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: []string{"A"},
		Source:     domain.SourceBundle,
		Duration:   domain.Duration{Type: domain.DurationMonths, Value: 1},
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	want := time.Date(2026, time.February, 28, 10, 0, 0, 0, time.UTC)
	if got := m.Entitlements[0].ExpiresAt; got == nil || !got.Equal(want) {
		t.Fatalf("Jan 31 + 1 month: got %v want %v", got, want)
	}

	explicit := fixedNow.Add(72 * time.Hour)
	m, err = st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: []string{"B"},
		Source:     domain.SourceDirect,
		SourceApp:  "B",
		ExpiresAt:  &explicit,
	})
	if err != nil {
		t.Fatalf("Grant explicit: %v", err)
	}
	if got := m.Entitlements[0].ExpiresAt; got == nil || !got.Equal(explicit) {
		t.Fatalf("explicit expiry not used: %v", got)
	}
}

func TestLedger_Grant_Validation(t *testing.T) {
	st := newStack(t)
	ident := st.identity(t, "u@example.com")

	cases := []GrantRequest{
		{ProductIDs: []string{"A"}, Source: domain.SourceBundle, Duration: domain.Lifetime},
		{IdentityID: ident.ID, Source: domain.SourceBundle, Duration: domain.Lifetime},
		{IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: "gift", Duration: domain.Lifetime},
		{IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceDirect, Duration: domain.Lifetime},
		{IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceBundle, Duration: domain.Duration{Type: domain.DurationDays}},
	}
	for i, req := range cases {
		if _, err := st.ledger.Grant(context.Background(), req); !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d: expected ErrValidation, got %v", i, err)
		}
	}
	if n := st.countRows(t, &domain.Entitlement{}, ""); n != 0 {
		t.Fatalf("invalid grants wrote %d rows", n)
	}
	// Failed mutations are still audited.
	if n := st.countRows(t, &domain.AuditLogEntry{}, "error <> ''"); n != int64(len(cases)) {
		t.Fatalf("expected %d failure audit entries, got %d", len(cases), n)
	}
}

func TestLedger_Grant_AuditsAndPushesPro(t *testing.T) {
	st := newStack(t)
	ident := st.identity(t, "u@example.com")

	_, err := st.ledger.Grant(context.Background(), GrantRequest{
		IdentityID: ident.ID,
		ProductIDs: []string{"A", "D"},
		Source:     domain.SourceBundle,
		Duration:   domain.Lifetime,
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	// D has no sync URL.
	if got, want := st.sync.pushed(), []string{"A:pro"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pushes: got %v want %v", got, want)
	}
	if got := st.sync.all()[0].Payload.Email; got != "u@example.com" {
		t.Fatalf("push email: %q", got)
	}
	if n := st.countRows(t, &domain.AuditLogEntry{}, "identity_id = ? AND action = ?", ident.ID, ActionGrant); n != 1 {
		t.Fatalf("expected one audit entry per grant call, got %d", n)
	}
}

func TestLedger_Grant_PushUsesBoundEmail(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")
	if err := st.ids.Bind(ctx, nil, "work@corp.test", "A", ident.ID); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceBundle, Duration: domain.Lifetime,
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	all := st.sync.all()
	if len(all) != 1 || all[0].Payload.Email != "work@corp.test" {
		t.Fatalf("expected push to bound email, got %+v", all)
	}
}

func TestLedger_RevokeOne_SyncsOnlyWhenNoActiveRowRemains(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")

	bundle, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceBundle, Duration: domain.Lifetime,
	})
	if err != nil {
		t.Fatalf("Grant bundle: %v", err)
	}
	direct, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceDirect, SourceApp: "B", Duration: domain.Lifetime,
	})
	if err != nil {
		t.Fatalf("Grant direct: %v", err)
	}
	st.sync.reset()

	m, err := st.ledger.RevokeOne(ctx, bundle.Entitlements[0].ID, "refund")
	if err != nil {
		t.Fatalf("RevokeOne: %v", err)
	}
	if len(m.ProductIDs) != 0 || len(st.sync.all()) != 0 {
		t.Fatalf("product still active via direct grant; no push expected: %+v %v", m, st.sync.pushed())
	}
	res, err := st.ledger.CheckAccess(ctx, "u@example.com", "A")
	if err != nil || !res.HasAccess || res.Source != domain.SourceDirect {
		t.Fatalf("expected remaining direct access, got %+v err=%v", res, err)
	}

	if _, err := st.ledger.RevokeOne(ctx, direct.Entitlements[0].ID, "refund"); err != nil {
		t.Fatalf("RevokeOne direct: %v", err)
	}
	if got, want := st.sync.pushed(), []string{"A:free"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pushes: got %v want %v", got, want)
	}
}

func TestLedger_RevokeOne_UnknownID(t *testing.T) {
	st := newStack(t)
	_, err := st.ledger.RevokeOne(context.Background(), "missing", "x")
	if !errors.Is(err, ErrEntitlementNotFound) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrEntitlementNotFound, got %v", err)
	}
}

func TestLedger_Revoke_BlanketAcrossSources(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")
	for _, req := range []GrantRequest{
		{IdentityID: ident.ID, ProductIDs: []string{"A", "B"}, Source: domain.SourceBundle, Duration: domain.Lifetime},
		{IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceDirect, SourceApp: "A", Duration: domain.Lifetime},
	} {
		if _, err := st.ledger.Grant(ctx, req); err != nil {
			t.Fatalf("Grant: %v", err)
		}
	}
	st.sync.reset()

	m, err := st.ledger.Revoke(ctx, ident.ID, []string{"A"}, "chargeback")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(m.Entitlements) != 2 {
		t.Fatalf("expected both A rows revoked, got %d", len(m.Entitlements))
	}
	if got, want := st.sync.pushed(), []string{"A:free"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pushes: got %v want %v", got, want)
	}
	if res, _ := st.ledger.CheckAccess(ctx, "u@example.com", "B"); !res.HasAccess {
		t.Fatalf("B must remain granted")
	}
	if _, err := st.ledger.Revoke(ctx, ident.ID, nil, "x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty product list, got %v", err)
	}
}

func TestLedger_RevokeScoped_BySubscription(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	u1 := st.identity(t, "one@example.com")
	u2 := st.identity(t, "two@example.com")

	sub := domain.PaymentMeta{StripeSubscriptionID: ptr("sub_1")}
	for _, req := range []GrantRequest{
		{IdentityID: u1.ID, ProductIDs: []string{"A", "B"}, Source: domain.SourceBundle, Duration: domain.Lifetime, Payment: sub},
		{IdentityID: u1.ID, ProductIDs: []string{"B"}, Source: domain.SourceDirect, SourceApp: "B", Duration: domain.Lifetime},
		{IdentityID: u2.ID, ProductIDs: []string{"A"}, Source: domain.SourceBundle, Duration: domain.Lifetime},
	} {
		if _, err := st.ledger.Grant(ctx, req); err != nil {
			t.Fatalf("Grant: %v", err)
		}
	}
	st.sync.reset()

	rows, err := st.ledger.RevokeScoped(ctx, RevokeRequest{
		Filter: repo.EntitlementFilter{SubscriptionID: "sub_1"},
		Reason: "subscription canceled",
	})
	if err != nil {
		t.Fatalf("RevokeScoped: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows revoked, got %d", len(rows))
	}
	// B stays active through the direct grant, so only A drops to free.
	if got, want := st.sync.pushed(), []string{"A:free"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pushes: got %v want %v", got, want)
	}
	if res, _ := st.ledger.CheckAccess(ctx, "two@example.com", "A"); !res.HasAccess {
		t.Fatalf("other identity's rows must be untouched")
	}
	if _, err := st.ledger.RevokeScoped(ctx, RevokeRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty scope, got %v", err)
	}
}

func TestLedger_CheckAccess_FalseCases(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	// Unknown email.
	res, err := st.ledger.CheckAccess(ctx, "nobody@example.com", "A")
	if err != nil || res.HasAccess {
		t.Fatalf("unknown email: %+v err=%v", res, err)
	}

	// Known identity, no rows.
	ident := st.identity(t, "u@example.com")
	res, err = st.ledger.CheckAccess(ctx, "u@example.com", "A")
	if err != nil || res.HasAccess {
		t.Fatalf("no rows: %+v err=%v", res, err)
	}

	// Expired row.
	past := fixedNow.Add(-time.Hour)
	if _, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceDirect, SourceApp: "A", ExpiresAt: &past,
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	res, err = st.ledger.CheckAccess(ctx, "u@example.com", "A")
	if err != nil || res.HasAccess {
		t.Fatalf("expired row: %+v err=%v", res, err)
	}

	if _, err := st.ledger.CheckAccess(ctx, "u@example.com", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing product, got %v", err)
	}
}

func TestLedger_CheckAccess_PicksMostRecentGrantAndBundleName(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")

	if _, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceDirect, SourceApp: "A", Duration: domain.Lifetime,
	}); err != nil {
		t.Fatalf("Grant direct: %v", err)
	}
	st.ledger.Now = func() time.Time { return fixedNow.Add(time.Minute) }
	if _, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceBundle,
		BundleID: ptr("pro-suite"), Duration: domain.Lifetime,
	}); err != nil {
		t.Fatalf("Grant bundle: %v", err)
	}

	res, err := st.ledger.CheckAccess(ctx, "  U@Example.com ", "A")
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if !res.HasAccess || res.Source != domain.SourceBundle || res.BundleName != "Pro Suite" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.GrantedAt == nil || !res.GrantedAt.Equal(fixedNow.Add(time.Minute)) {
		t.Fatalf("granted_at: %v", res.GrantedAt)
	}
}

func TestLedger_CheckAccess_ResolvesThroughBinding(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "buyer@example.com")
	if err := st.ids.Bind(ctx, nil, "alias@example.com", "C", ident.ID); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"C"}, Source: domain.SourceBundle, Duration: domain.Lifetime,
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if res, _ := st.ledger.CheckAccess(ctx, "alias@example.com", "C"); !res.HasAccess {
		t.Fatalf("binding email must resolve to the identity")
	}
	// The binding is per product.
	if res, _ := st.ledger.CheckAccess(ctx, "alias@example.com", "A"); res.HasAccess {
		t.Fatalf("binding for C must not grant A")
	}
}

func TestLedger_Grant_OffsetExpiryStoredInUTC(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")
	plus5 := time.FixedZone("UTC+5", 5*60*60)

	past := fixedNow.Add(-time.Hour).In(plus5)
	m, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceDirect, SourceApp: "A", ExpiresAt: &past,
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if got := m.Entitlements[0].ExpiresAt; got == nil || !got.Equal(past) {
		t.Fatalf("expiry = %v, want %v", got, past)
	}
	if res, _ := st.ledger.CheckAccess(ctx, "u@example.com", "A"); res.HasAccess {
		t.Fatalf("expired grant reported as active: %+v", res)
	}

	future := fixedNow.Add(time.Hour).In(plus5)
	if _, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"B"}, Source: domain.SourceDirect, SourceApp: "B", ExpiresAt: &future,
	}); err != nil {
		t.Fatalf("Grant future: %v", err)
	}
	res, _ := st.ledger.CheckAccess(ctx, "u@example.com", "B")
	if !res.HasAccess || res.ExpiresAt == nil || !res.ExpiresAt.Equal(future) {
		t.Fatalf("unexpected access for future expiry: %+v", res)
	}
}

func TestLedger_RevokeEmail_ResolvesPerProduct(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	buyer := st.identity(t, "buyer@example.com")
	if _, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: buyer.ID, ProductIDs: []string{"A", "B"}, Source: domain.SourceBundle, Duration: domain.Lifetime,
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	// The team address is bound to the buyer on B only.
	if err := st.ids.Bind(ctx, nil, "team@corp.test", "B", buyer.ID); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	st.sync.reset()

	ms, err := st.ledger.RevokeEmail(ctx, "Team@Corp.test", []string{"A", "B"}, "seat removed")
	if err != nil {
		t.Fatalf("RevokeEmail: %v", err)
	}
	if len(ms) != 1 || len(ms[0].Entitlements) != 1 || ms[0].Entitlements[0].ProductID != "B" {
		t.Fatalf("expected only B revoked through the binding, got %+v", ms)
	}
	if res, _ := st.ledger.CheckAccess(ctx, "buyer@example.com", "A"); !res.HasAccess {
		t.Fatalf("A must remain granted")
	}

	if _, err := st.ledger.RevokeEmail(ctx, "ghost@example.com", []string{"A"}, "x"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
	if _, err := st.ledger.RevokeEmail(ctx, "buyer@example.com", nil, "x"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestLedger_RevokeOne_FailureIsAudited(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	ident := st.identity(t, "u@example.com")
	m, err := st.ledger.Grant(ctx, GrantRequest{
		IdentityID: ident.ID, ProductIDs: []string{"A"}, Source: domain.SourceBundle, Duration: domain.Lifetime,
	})
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	st.failWrites(t, "entitlements", "UPDATE")

	if _, err := st.ledger.RevokeOne(ctx, m.Entitlements[0].ID, "refund"); err == nil {
		t.Fatalf("expected the revoke to fail")
	}
	if n := st.countRows(t, &domain.AuditLogEntry{}, "action = ? AND error LIKE ?", ActionRevokeOne, "%forced failure%"); n != 1 {
		t.Fatalf("expected one failure audit entry, got %d", n)
	}
	if n := st.countRows(t, &domain.Entitlement{}, "revoked_at IS NULL"); n != 1 {
		t.Fatalf("failed revoke must leave the row active, got %d active", n)
	}

	// A missing row is not a failed mutation.
	if _, err := st.ledger.RevokeOne(ctx, "missing", "x"); !errors.Is(err, ErrEntitlementNotFound) {
		t.Fatalf("expected ErrEntitlementNotFound, got %v", err)
	}
	if n := st.countRows(t, &domain.AuditLogEntry{}, "action = ?", ActionRevokeOne); n != 1 {
		t.Fatalf("unknown id must not be audited, got %d entries", n)
	}
}
