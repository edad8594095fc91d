package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestIdentity_FindOrCreateNormalizes(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()

	a, err := st.ids.FindOrCreate(ctx, nil, "  Mixed@Example.COM ")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	b, err := st.ids.FindOrCreate(ctx, nil, "mixed@example.com")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	if a.ID != b.ID || a.PrimaryEmail != "mixed@example.com" {
		t.Fatalf("expected one normalized identity, got %+v / %+v", a, b)
	}
	if _, err := st.ids.FindOrCreate(ctx, nil, "not-an-email"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestIdentity_ResolveOrder(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	owner := st.identity(t, "owner@example.com")
	other := st.identity(t, "shared@example.com")

	// shared@ is other's primary email but bound to owner on product A.
	if err := st.ids.Bind(ctx, nil, "shared@example.com", "A", owner.ID); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	got, err := st.ids.Resolve(ctx, "shared@example.com", "A")
	if err != nil || got.ID != owner.ID {
		t.Fatalf("binding must win on A: %+v err=%v", got, err)
	}
	got, err = st.ids.Resolve(ctx, "shared@example.com", "B")
	if err != nil || got.ID != other.ID {
		t.Fatalf("primary email must win on B: %+v err=%v", got, err)
	}
	if _, err := st.ids.Resolve(ctx, "ghost@example.com", "A"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}

	// Last writer wins on a binding.
	if err := st.ids.Bind(ctx, nil, "shared@example.com", "A", other.ID); err != nil {
		t.Fatalf("rebind: %v", err)
	}
	if got, _ := st.ids.Resolve(ctx, "shared@example.com", "A"); got.ID != other.ID {
		t.Fatalf("rebind not applied")
	}
}

func TestIdentity_ResolveAnyFallsBackToBinding(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	owner := st.identity(t, "owner@example.com")
	if err := st.ids.Bind(ctx, nil, "alias@example.com", "C", owner.ID); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	got, err := st.ids.ResolveAny(ctx, "ALIAS@example.com")
	if err != nil || got.ID != owner.ID {
		t.Fatalf("ResolveAny: %+v err=%v", got, err)
	}
}

func TestIdentity_AttachCustomerConflictIsIgnored(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	a := st.identity(t, "a@example.com")
	b := st.identity(t, "b@example.com")

	if err := st.ids.AttachCustomer(ctx, nil, a, "cus_1"); err != nil {
		t.Fatalf("attach a: %v", err)
	}
	if err := st.ids.AttachCustomer(ctx, nil, b, "cus_1"); err != nil {
		t.Fatalf("conflicting attach must not fail: %v", err)
	}
	got, err := st.ids.ByCustomerID(ctx, "cus_1")
	if err != nil || got.ID != a.ID {
		t.Fatalf("customer must stay with the first identity: %+v err=%v", got, err)
	}
	if _, err := st.ids.ByCustomerID(ctx, ""); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got %v", err)
	}
}

func TestIdentity_SyncEmails(t *testing.T) {
	st := newStack(t)
	ctx := context.Background()
	u := st.identity(t, "u@example.com")

	got, err := st.ids.SyncEmails(ctx, u.ID, "A")
	if err != nil || !reflect.DeepEqual(got, []string{"u@example.com"}) {
		t.Fatalf("expected primary email, got %v err=%v", got, err)
	}
	if err := st.ids.Bind(ctx, nil, "work@example.com", "A", u.ID); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	got, _ = st.ids.SyncEmails(ctx, u.ID, "A")
	if !reflect.DeepEqual(got, []string{"work@example.com"}) {
		t.Fatalf("expected bound email, got %v", got)
	}
}
