package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-entitlements/internal/domain"
)

func TestUpsertBundle_ReplacesProducts(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()

	for _, id := range []string{"A", "B", "C"} {
		if err := UpsertProduct(ctx, db, &domain.Product{ID: id, Name: "Product " + id}); err != nil {
			t.Fatalf("UpsertProduct %s: %v", id, err)
		}
	}

	b := &domain.Bundle{ID: "pro", Name: "Pro Suite", DurationType: domain.DurationMonths, DurationValue: 6, StripePriceID: "price_1"}
	if err := UpsertBundle(ctx, db, b, []string{"A", "B"}); err != nil {
		t.Fatalf("UpsertBundle: %v", err)
	}

	got, err := GetBundleByPriceID(ctx, db, "price_1")
	if err != nil {
		t.Fatalf("GetBundleByPriceID: %v", err)
	}
	if ids := got.ProductIDs(); len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Fatalf("products = %v", ids)
	}

	// Reload with a different product set and name.
	b2 := &domain.Bundle{ID: "pro", Name: "Pro Suite+", DurationType: domain.DurationMonths, DurationValue: 6, StripePriceID: "price_1"}
	if err := UpsertBundle(ctx, db, b2, []string{"A", "B", "C"}); err != nil {
		t.Fatalf("UpsertBundle reload: %v", err)
	}
	got, err = GetBundle(ctx, db, "pro")
	if err != nil {
		t.Fatalf("GetBundle: %v", err)
	}
	if got.Name != "Pro Suite+" || len(got.Products) != 3 {
		t.Fatalf("bundle not updated: %+v", got)
	}
}

func TestUpsertBundle_UnknownProduct(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()
	b := &domain.Bundle{ID: "x", Name: "X", DurationType: domain.DurationLifetime, StripePriceID: "price_x"}
	if err := UpsertBundle(ctx, db, b, []string{"missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := GetBundle(ctx, db, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bundle should be rolled back, got %v", err)
	}
}

func TestUpsertProduct_UpdatesFields(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()

	if err := UpsertProduct(ctx, db, &domain.Product{ID: "C", Name: "C"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	schema := []byte(`[{"name":"team","type":"text","required":true}]`)
	if err := UpsertProduct(ctx, db, &domain.Product{ID: "C", Name: "C2", SyncURL: "http://c/sync", FormSchema: schema}); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, err := GetProduct(ctx, db, "C")
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if p.Name != "C2" || p.SyncURL != "http://c/sync" || !p.RequiresClaim() {
		t.Fatalf("product not updated: %+v", p)
	}

	list, err := ListProductsByIDs(ctx, db, []string{"C", "nope"})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListProductsByIDs: %v %v", list, err)
	}
	if list, _ := ListProductsByIDs(ctx, db, nil); len(list) != 0 {
		t.Fatalf("expected empty list for no ids")
	}
	all, err := ListProducts(ctx, db)
	if err != nil || len(all) != 1 {
		t.Fatalf("ListProducts: %v %v", all, err)
	}
}
