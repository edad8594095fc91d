package repo

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tbourn/go-entitlements/internal/domain"
)

func TestCreateClaimToken_IdempotentPerSession(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()
	exp := time.Now().UTC().Add(30 * 24 * time.Hour)

	first, created, err := CreateClaimToken(ctx, db, &domain.ClaimToken{
		Token: "tok1", IdentityID: "i1", BundleID: "pro", PurchaseEmail: "b@example.com",
		StripeSessionID: strp("cs_1"), ExpiresAt: exp,
	})
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}

	second, created, err := CreateClaimToken(ctx, db, &domain.ClaimToken{
		Token: "tok2", IdentityID: "i1", BundleID: "pro", PurchaseEmail: "b@example.com",
		StripeSessionID: strp("cs_1"), ExpiresAt: exp,
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if created || second.Token != first.Token {
		t.Fatalf("expected existing token %s, got %s (created=%v)", first.Token, second.Token, created)
	}

	if _, err := GetClaimToken(ctx, db, "tok2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second token must not be stored, got %v", err)
	}
}

func TestCreateClaimToken_WithoutSession(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()
	exp := time.Now().UTC().Add(time.Hour)

	for _, tok := range []string{"a", "b"} {
		_, created, err := CreateClaimToken(ctx, db, &domain.ClaimToken{
			Token: tok, IdentityID: "i1", BundleID: "pro", PurchaseEmail: "b@example.com", ExpiresAt: exp,
		})
		if err != nil || !created {
			t.Fatalf("create %s: created=%v err=%v", tok, created, err)
		}
	}
	_, _, err := CreateClaimToken(ctx, db, &domain.ClaimToken{
		Token: "a", IdentityID: "i1", BundleID: "pro", PurchaseEmail: "b@example.com", ExpiresAt: exp,
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on token collision, got %v", err)
	}
}

func TestMarkClaimed_SingleWinner(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()
	_, _, err := CreateClaimToken(ctx, db, &domain.ClaimToken{
		Token: "tok", IdentityID: "i1", BundleID: "pro", PurchaseEmail: "b@example.com",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := MarkClaimed(ctx, db, "tok", time.Now().UTC())
			if err != nil {
				t.Errorf("MarkClaimed: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}

	tok, _ := GetClaimToken(ctx, db, "tok")
	if !tok.Claimed() {
		t.Fatalf("token not marked claimed")
	}
	if ok, _ := MarkClaimed(ctx, db, "unknown", time.Now()); ok {
		t.Fatalf("unknown token should not be claimable")
	}
}

func TestUpsertSubmission_ReplacesPair(t *testing.T) {
	db := newMigratedDB(t)
	ctx := context.Background()

	if err := UpsertSubmission(ctx, db, &domain.ProductSubmission{
		ClaimToken: "tok", ProductID: "C", IdentityID: "i1", Email: "c@example.com", FormData: []byte(`{"team":"x"}`),
	}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := UpsertSubmission(ctx, db, &domain.ProductSubmission{
		ClaimToken: "tok", ProductID: "C", IdentityID: "i1", Email: "c2@example.com", FormData: []byte(`{"team":"y"}`),
	}); err != nil {
		t.Fatalf("second: %v", err)
	}

	subs, err := ListSubmissions(ctx, db, "tok")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 1 || subs[0].Email != "c2@example.com" {
		t.Fatalf("unexpected submissions: %+v", subs)
	}
}
