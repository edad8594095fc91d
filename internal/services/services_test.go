package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-entitlements/internal/catalog"
	"github.com/tbourn/go-entitlements/internal/dispatch"
	"github.com/tbourn/go-entitlements/internal/domain"
	"github.com/tbourn/go-entitlements/internal/repo"
)

// ---------- test helpers ----------

var fixedNow = time.Date(2026, time.January, 31, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

const testCatalog = `
products:
  - id: A
    name: App A
    sync_url: http://a.test/sync
  - id: B
    name: App B
    sync_url: http://b.test/sync
  - id: C
    name: App C
    sync_url: http://c.test/sync
    form:
      - {name: team, type: text, required: true}
      - {name: seats, type: number}
  - id: D
    name: App D
bundles:
  - id: pro-suite
    name: Pro Suite
    price_id: price_1
    duration: {type: months, value: 6}
    products: [A, B]
  - id: pro-plus
    name: Pro Plus
    price_id: price_2
    duration: {type: lifetime}
    products: [A, B, C]
`

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	cat, err := catalog.Parse(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	if err := cat.Apply(context.Background(), db); err != nil {
		t.Fatalf("apply catalog: %v", err)
	}
	return db
}

type fakeSyncer struct {
	mu      sync.Mutex
	batches [][]dispatch.Target
}

func (f *fakeSyncer) Trigger(_ context.Context, targets []dispatch.Target) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]dispatch.Target(nil), targets...))
}

func (f *fakeSyncer) all() []dispatch.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []dispatch.Target
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

// pushed returns "product:tier" pairs in sorted order.
func (f *fakeSyncer) pushed() []string {
	var out []string
	for _, t := range f.all() {
		out = append(out, t.ProductID+":"+t.Payload.Tier)
	}
	sort.Strings(out)
	return out
}

func (f *fakeSyncer) reset() {
	f.mu.Lock()
	f.batches = nil
	f.mu.Unlock()
}

type sentMail struct {
	kind     string
	to       string
	bundle   string
	products []string
	link     string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeNotifier) SendConfirmation(_ context.Context, to, bundleName string, products []string, _ *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "confirmation", to: to, bundle: bundleName, products: products})
	return f.err
}

func (f *fakeNotifier) SendClaimLink(_ context.Context, to, bundleName, link string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{kind: "claim", to: to, bundle: bundleName, link: link})
	return f.err
}

func (f *fakeNotifier) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.sent {
		if m.kind == kind {
			n++
		}
	}
	return n
}

type fakePrices struct {
	price string
	err   error
	calls int
}

func (f *fakePrices) CheckoutPriceID(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.price, f.err
}

// stack wires every service over one test DB with fakes and a fixed clock.
type stack struct {
	db       *gorm.DB
	sync     *fakeSyncer
	notifier *fakeNotifier
	prices   *fakePrices

	ids      *IdentityService
	ledger   *LedgerService
	claims   *ClaimService
	purchase *PurchaseService
	report   *ReportService
	access   *AccessService
	audit    *AuditService
}

func newStack(t *testing.T) *stack {
	t.Helper()
	db := newSvcDB(t)
	st := &stack{db: db, sync: &fakeSyncer{}, notifier: &fakeNotifier{}, prices: &fakePrices{}}

	st.ids = NewIdentityService(db)
	st.ledger = NewLedgerService(db, st.ids, st.sync)
	st.ledger.Now = fixedClock
	st.claims = NewClaimService(db, st.ids, st.ledger, "https://portal.test/claim/")
	st.claims.Now = fixedClock
	st.purchase = NewPurchaseService(db, st.ids, st.ledger, st.claims, st.notifier, st.prices)
	st.purchase.Now = fixedClock
	st.report = NewReportService(db, st.ids, st.ledger)
	st.access = NewAccessService(db, st.ids, st.ledger)
	st.access.Now = fixedClock
	st.audit = NewAuditService(db)
	return st
}

func (st *stack) identity(t *testing.T, email string) *domain.Identity {
	t.Helper()
	ident, err := st.ids.FindOrCreate(context.Background(), nil, email)
	if err != nil {
		t.Fatalf("FindOrCreate(%s): %v", email, err)
	}
	return ident
}

func (st *stack) countRows(t *testing.T, model any, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := st.db.Model(model)
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// failWrites makes every op ("INSERT" or "UPDATE") on table abort with
// "forced failure" until the test ends.
func (st *stack) failWrites(t *testing.T, table, op string) {
	t.Helper()
	name := "fail_" + strings.ToLower(op) + "_" + table
	stmt := fmt.Sprintf("CREATE TRIGGER %s BEFORE %s ON %s BEGIN SELECT RAISE(ABORT, 'forced failure'); END", name, op, table)
	if err := st.db.Exec(stmt).Error; err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	t.Cleanup(func() { st.db.Exec("DROP TRIGGER IF EXISTS " + name) })
}

func ptr[T any](v T) *T { return &v }
