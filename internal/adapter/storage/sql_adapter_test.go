package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

var receivedBase = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

func openTempStore(t *testing.T) *SQLAdapter {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fulfillment.db")
	db, err := Open(context.Background(), DriverSQLite, path, 1)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return NewSQLAdapter(db)
}

func seedStock(t *testing.T, store *SQLAdapter, id, location, sku string, onHand int, age time.Duration) {
	t.Helper()
	err := store.ReceiveStock(context.Background(), domain.StockEntry{
		ID:             id,
		LocationID:     location,
		SKU:            sku,
		BatchID:        "batch-" + id,
		ReceivedAt:     receivedBase.Add(age),
		QuantityOnHand: onHand,
	})
	if err != nil {
		t.Fatalf("receive stock %s: %v", id, err)
	}
}

func seedOrder(t *testing.T, store *SQLAdapter, id string, lines ...domain.OrderLine) domain.Order {
	t.Helper()
	ctx := context.Background()
	if err := store.CreateOrder(ctx, domain.Order{ID: id, Lines: lines}); err != nil {
		t.Fatalf("create order %s: %v", id, err)
	}
	order, err := store.GetOrder(ctx, id)
	if err != nil || order == nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return *order
}

func reserve(order domain.Order, entryID string, qty int) domain.AllocationPlan {
	return domain.AllocationPlan{
		OrderID:    order.ID,
		LocationID: "loc-1",
		Strategy:   domain.FIFO,
		Reservations: []domain.Reservation{{
			StockEntryID: entryID,
			LineID:       order.Lines[0].ID,
			SKU:          order.Lines[0].SKU,
			Quantity:     qty,
		}},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := Migrate(context.Background(), store.db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestListAvailableStock_SkipsExhaustedEntries(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e2", "loc-1", "A", 5, time.Hour)
	seedStock(t, store, "e1", "loc-1", "A", 5, 0)
	seedStock(t, store, "e3", "loc-2", "A", 5, 0)
	if err := store.ReceiveStock(ctx, domain.StockEntry{
		ID: "e4", LocationID: "loc-1", SKU: "A", BatchID: "b", ReceivedAt: receivedBase,
		QuantityOnHand: 3, QuantityReserved: 3,
	}); err != nil {
		t.Fatalf("receive stock: %v", err)
	}

	entries, err := store.ListAvailableStock(ctx, "loc-1", "A")
	if err != nil {
		t.Fatalf("list stock: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != "e1" || entries[1].ID != "e2" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if !entries[1].ReceivedAt.Equal(receivedBase.Add(time.Hour)) {
		t.Errorf("expected received_at round trip, got %v", entries[1].ReceivedAt)
	}
}

func TestReceiveStock_RejectsInvalidQuantities(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.ReceiveStock(context.Background(), domain.StockEntry{
		ID: "bad", LocationID: "loc-1", SKU: "A", QuantityOnHand: 1, QuantityReserved: 2,
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCommitAllocation_Success(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e1", "loc-1", "A", 10, 0)
	order := seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 6})

	plan := reserve(order, "e1", 6)
	record := domain.NewAllocationRecord("r-1", plan, time.Now())
	if err := store.CommitAllocation(ctx, plan, record); err != nil {
		t.Fatalf("commit: %v", err)
	}

	entry, _ := store.GetStockEntry(ctx, "e1")
	if entry.QuantityReserved != 6 || entry.Version != 1 {
		t.Errorf("expected reserved 6 version 1, got %d/%d", entry.QuantityReserved, entry.Version)
	}

	got, _ := store.GetOrder(ctx, "o-1")
	if got.Status != domain.OrderStatusAllocated {
		t.Errorf("expected status allocated, got %s", got.Status)
	}
	if got.Lines[0].QuantityAllocated != 6 {
		t.Errorf("expected 6 allocated, got %d", got.Lines[0].QuantityAllocated)
	}

	records, err := store.ListAllocationRecords(ctx, "o-1")
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 || records[0].Status != domain.AllocationFull || records[0].Quantity() != 6 {
		t.Errorf("unexpected records: %+v", records)
	}
}

func TestCommitAllocation_ContentionRollsBack(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e1", "loc-1", "A", 10, 0)
	seedStock(t, store, "e2", "loc-1", "A", 2, time.Hour)
	order := seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 8})

	plan := reserve(order, "e1", 5)
	plan.Reservations = append(plan.Reservations, domain.Reservation{
		StockEntryID: "e2", LineID: order.Lines[0].ID, SKU: "A", Quantity: 3,
	})
	record := domain.NewAllocationRecord("r-1", plan, time.Now())

	err := store.CommitAllocation(ctx, plan, record)
	if !errors.Is(err, domain.ErrContention) {
		t.Fatalf("expected ErrContention, got %v", err)
	}

	entry, _ := store.GetStockEntry(ctx, "e1")
	if entry.QuantityReserved != 0 {
		t.Errorf("expected rollback of e1, reserved %d", entry.QuantityReserved)
	}
	got, _ := store.GetOrder(ctx, "o-1")
	if got.Lines[0].QuantityAllocated != 0 || got.Status != domain.OrderStatusPending {
		t.Errorf("expected untouched order, got %+v", got)
	}
	records, _ := store.ListAllocationRecords(ctx, "o-1")
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestCommitAllocation_LineNeverOverAllocated(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e1", "loc-1", "A", 10, 0)
	order := seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 4})

	plan := reserve(order, "e1", 4)
	if err := store.CommitAllocation(ctx, plan, domain.NewAllocationRecord("r-1", plan, time.Now())); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	err := store.CommitAllocation(ctx, plan, domain.NewAllocationRecord("r-2", plan, time.Now()))
	if !errors.Is(err, domain.ErrContention) {
		t.Fatalf("expected ErrContention for stale plan, got %v", err)
	}
	entry, _ := store.GetStockEntry(ctx, "e1")
	if entry.QuantityReserved != 4 {
		t.Errorf("expected reserved 4, got %d", entry.QuantityReserved)
	}
}

func TestCommitAllocation_CancelledOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e1", "loc-1", "A", 10, 0)
	if err := store.CreateOrder(ctx, domain.Order{
		ID: "o-1", Status: domain.OrderStatusCancelled,
		Lines: []domain.OrderLine{{SKU: "A", QuantityRequested: 1}},
	}); err != nil {
		t.Fatalf("create order: %v", err)
	}
	order, _ := store.GetOrder(ctx, "o-1")

	plan := reserve(*order, "e1", 1)
	err := store.CommitAllocation(ctx, plan, domain.NewAllocationRecord("r-1", plan, time.Now()))
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	entry, _ := store.GetStockEntry(ctx, "e1")
	if entry.QuantityReserved != 0 {
		t.Errorf("expected rollback, reserved %d", entry.QuantityReserved)
	}
}

func TestCommitAllocation_ConcurrentConservation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e1", "loc-1", "A", 10, 0)

	const orders = 25
	plans := make([]domain.AllocationPlan, orders)
	for i := range plans {
		order := seedOrder(t, store, "o-"+string(rune('a'+i)), domain.OrderLine{SKU: "A", QuantityRequested: 1})
		plans[i] = reserve(order, "e1", 1)
	}

	var committed atomic.Int32
	var wg sync.WaitGroup
	for i, plan := range plans {
		wg.Add(1)
		go func(i int, plan domain.AllocationPlan) {
			defer wg.Done()
			record := domain.NewAllocationRecord("r-"+plan.OrderID, plan, time.Now())
			err := store.CommitAllocation(ctx, plan, record)
			switch {
			case err == nil:
				committed.Add(1)
			case !errors.Is(err, domain.ErrContention):
				t.Errorf("order %d: unexpected error: %v", i, err)
			}
		}(i, plan)
	}
	wg.Wait()

	if committed.Load() != 10 {
		t.Errorf("expected 10 commits, got %d", committed.Load())
	}
	entry, _ := store.GetStockEntry(ctx, "e1")
	if entry.QuantityReserved != 10 || entry.Available() != 0 {
		t.Errorf("expected fully reserved entry, got %+v", entry)
	}
}

func TestSaveAllocationRecord_Failed(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	order := seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 3})

	record := domain.FailedAllocationRecord("r-1", order, "loc-1", domain.FIFO, time.Now())
	if err := store.SaveAllocationRecord(ctx, record); err != nil {
		t.Fatalf("save record: %v", err)
	}
	records, _ := store.ListAllocationRecords(ctx, "o-1")
	if len(records) != 1 || records[0].Status != domain.AllocationFailed {
		t.Fatalf("unexpected records: %+v", records)
	}
	if len(records[0].Reservations) != 0 || records[0].Shortfall[0].QuantityShort != 3 {
		t.Errorf("unexpected failed record payload: %+v", records[0])
	}
}

func TestListBackorders(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e1", "loc-1", "A", 2, 0)
	order := seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 5})
	seedOrder(t, store, "o-2", domain.OrderLine{SKU: "A", QuantityRequested: 1})

	plan := reserve(order, "e1", 2)
	plan.Strategy = domain.LIFO
	plan.Shortfall = []domain.Shortfall{{SKU: "A", QuantityShort: 3}}
	if err := store.CommitAllocation(ctx, plan, domain.NewAllocationRecord("r-1", plan, time.Now())); err != nil {
		t.Fatalf("commit: %v", err)
	}

	backorders, err := store.ListBackorders(ctx, 10)
	if err != nil {
		t.Fatalf("list backorders: %v", err)
	}
	want := domain.Backorder{OrderID: "o-1", LocationID: "loc-1", Strategy: "LIFO"}
	if len(backorders) != 1 || backorders[0] != want {
		t.Errorf("expected [%+v], got %+v", want, backorders)
	}
}

func TestAssignAwb(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 1})
	seedOrder(t, store, "o-2", domain.OrderLine{SKU: "A", QuantityRequested: 1})

	first, err := store.AssignAwb(ctx, domain.AwbAssignment{OrderID: "o-1", AwbNumber: "AWB-1", TrackingURL: "https://t/1"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}

	again, err := store.AssignAwb(ctx, domain.AwbAssignment{OrderID: "o-1", AwbNumber: "AWB-1"})
	if err != nil {
		t.Fatalf("re-assign same awb: %v", err)
	}
	if again.ID != first.ID || again.TrackingURL != "https://t/1" {
		t.Errorf("expected existing assignment back, got %+v", again)
	}

	_, err = store.AssignAwb(ctx, domain.AwbAssignment{OrderID: "o-2", AwbNumber: "AWB-1"})
	if !errors.Is(err, domain.ErrDuplicateAwb) {
		t.Fatalf("expected ErrDuplicateAwb, got %v", err)
	}

	if _, err := store.AssignAwb(ctx, domain.AwbAssignment{OrderID: "o-1", AwbNumber: "AWB-2"}); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	active, _ := store.GetActiveAssignment(ctx, "o-1")
	if active == nil || active.AwbNumber != "AWB-2" {
		t.Fatalf("expected AWB-2 active, got %+v", active)
	}

	// The superseded number is free again.
	if _, err := store.AssignAwb(ctx, domain.AwbAssignment{OrderID: "o-2", AwbNumber: "AWB-1"}); err != nil {
		t.Fatalf("assign released awb: %v", err)
	}

	order, _ := store.GetOrder(ctx, "o-2")
	if order.Status != domain.OrderStatusDispatched || order.Awb == nil || order.Awb.AwbNumber != "AWB-1" {
		t.Errorf("unexpected order projection: %+v", order)
	}
}

func TestLocations(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	for _, loc := range []domain.Location{
		{ID: "hub", Active: true},
		{ID: "wh-1", ParentID: "hub", Active: true},
		{ID: "wh-2", ParentID: "hub", Active: false},
	} {
		if err := store.CreateLocation(ctx, loc); err != nil {
			t.Fatalf("create location: %v", err)
		}
	}

	loc, err := store.GetLocation(ctx, "wh-2")
	if err != nil || loc == nil || loc.Active {
		t.Fatalf("expected inactive wh-2, got %+v, %v", loc, err)
	}
	missing, err := store.GetLocation(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for unknown location")
	}

	children, err := store.ListChildren(ctx, "hub")
	if err != nil {
		t.Fatalf("list children: %v", err)
	}
	if len(children) != 2 || children[0].ID != "wh-1" {
		t.Errorf("unexpected children: %+v", children)
	}
}

func TestCommitAllocation_EmptyPlanKeepsOrderLocation(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedStock(t, store, "e1", "loc-1", "A", 2, 0)
	order := seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 5})

	plan := reserve(order, "e1", 2)
	plan.Shortfall = []domain.Shortfall{{SKU: "A", QuantityShort: 3}}
	if err := store.CommitAllocation(ctx, plan, domain.NewAllocationRecord("r-1", plan, time.Now())); err != nil {
		t.Fatalf("commit: %v", err)
	}

	empty := domain.AllocationPlan{
		OrderID:    "o-1",
		LocationID: "loc-2",
		Strategy:   domain.LIFO,
		Shortfall:  []domain.Shortfall{{SKU: "A", QuantityShort: 3}},
	}
	if err := store.CommitAllocation(ctx, empty, domain.NewAllocationRecord("r-2", empty, time.Now())); err != nil {
		t.Fatalf("commit empty plan: %v", err)
	}

	got, _ := store.GetOrder(ctx, "o-1")
	if got.LocationID != "loc-1" || got.Strategy != domain.FIFO.Name() {
		t.Errorf("expected order to stay at loc-1/FIFO, got %s/%s", got.LocationID, got.Strategy)
	}
	if got.Status != domain.OrderStatusPartiallyAllocated {
		t.Errorf("expected partially_allocated, got %s", got.Status)
	}
}

func TestCommitAllocation_EmptyPlanPlacesPendingOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	seedOrder(t, store, "o-1", domain.OrderLine{SKU: "A", QuantityRequested: 5})

	empty := domain.AllocationPlan{
		OrderID:    "o-1",
		LocationID: "loc-1",
		Strategy:   domain.FIFO,
		Shortfall:  []domain.Shortfall{{SKU: "A", QuantityShort: 5}},
	}
	if err := store.CommitAllocation(ctx, empty, domain.NewAllocationRecord("r-1", empty, time.Now())); err != nil {
		t.Fatalf("commit empty plan: %v", err)
	}

	got, _ := store.GetOrder(ctx, "o-1")
	if got.LocationID != "loc-1" {
		t.Errorf("expected pending order to take loc-1, got %q", got.LocationID)
	}
}
