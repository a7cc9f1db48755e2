package handler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rl1809/fulfillment-engine/internal/adapter/storage"
	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/core/service"
)

const testSecret = "handler-test-secret"

var receivedAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *storage.SQLAdapter
	auth       *Authenticator
	allocation *service.AllocationService
	dispatch   *service.DispatchService
}

// newFixture opens a sqlite store with an active warehouse WH1, its child
// ZONE1, an unrelated WH2 and an inactive WH-OLD.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.DriverSQLite, filepath.Join(t.TempDir(), "handler.db"), 1)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewSQLAdapter(db)

	for _, loc := range []domain.Location{
		{ID: "WH1", Name: "Main", Active: true},
		{ID: "ZONE1", ParentID: "WH1", Name: "Zone 1", Active: true},
		{ID: "WH2", Name: "Second", Active: true},
		{ID: "WH-OLD", Name: "Closed", Active: false},
	} {
		if err := store.CreateLocation(ctx, loc); err != nil {
			t.Fatalf("create location %s: %v", loc.ID, err)
		}
	}

	allocation := service.NewAllocationService(store, store, store, service.AllocationConfig{
		MaxAttempts:  3,
		RetryBackoff: time.Millisecond,
	}, nil)
	dispatch := service.NewDispatchService(store, store, allocation.Scope(), service.BatchOptions{}, nil)

	return &fixture{
		store:      store,
		auth:       NewAuthenticator(testSecret),
		allocation: allocation,
		dispatch:   dispatch,
	}
}

func (f *fixture) stock(t *testing.T, id, location, sku string, qty int) {
	t.Helper()
	err := f.store.ReceiveStock(context.Background(), domain.StockEntry{
		ID:             id,
		LocationID:     location,
		SKU:            sku,
		BatchID:        "batch-" + id,
		ReceivedAt:     receivedAt,
		QuantityOnHand: qty,
	})
	if err != nil {
		t.Fatalf("receive stock %s: %v", id, err)
	}
}

func (f *fixture) order(t *testing.T, id string, lines map[string]int) {
	t.Helper()
	order := domain.Order{ID: id}
	for sku, qty := range lines {
		order.Lines = append(order.Lines, domain.OrderLine{SKU: sku, QuantityRequested: qty})
	}
	if err := f.store.CreateOrder(context.Background(), order); err != nil {
		t.Fatalf("create order %s: %v", id, err)
	}
}

func (f *fixture) token(t *testing.T, caller domain.Caller) string {
	t.Helper()
	tok, err := f.auth.Sign(caller, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (f *fixture) adminToken(t *testing.T) string {
	return f.token(t, domain.Caller{Subject: "ops", Role: domain.RoleAdmin})
}
