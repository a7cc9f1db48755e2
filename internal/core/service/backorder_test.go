package service

import (
	"context"
	"testing"
	"time"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

func TestBackorderSweeper(t *testing.T) {
	store := newMemStore()
	store.addStock("e1", "L", "A", 2, 0)
	store.addOrder("O1", domain.OrderLine{SKU: "A", QuantityRequested: 5})
	store.addOrder("O2", domain.OrderLine{SKU: "A", QuantityRequested: 1})
	svc := newTestAllocationService(store)
	sweeper := NewBackorderSweeper(store, svc, 10, nil)
	ctx := context.Background()

	if _, err := svc.Allocate(ctx, AllocateRequest{OrderID: "O1", LocationID: "L", Strategy: "LIFO"}); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	// Nothing new at the location: no attempt is made.
	summary, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Processed != 1 || summary.Partial != 1 || len(store.recordsFor("O1")) != 1 {
		t.Errorf("expected idle sweep, got %+v with %d records", summary, len(store.recordsFor("O1")))
	}

	store.addStock("e2", "L", "A", 10, time.Hour)
	summary, err = sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Successful != 1 {
		t.Errorf("expected backorder completed, got %+v", summary)
	}

	records := store.recordsFor("O1")
	if len(records) != 2 || records[1].Strategy != "LIFO" || records[1].Status != domain.AllocationFull {
		t.Errorf("unexpected records: %+v", records)
	}
	if backorders, _ := store.ListBackorders(ctx, 10); len(backorders) != 0 {
		t.Errorf("expected no backorders left, got %+v", backorders)
	}
}
