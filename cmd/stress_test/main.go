package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-engine/internal/adapter/storage"
	"github.com/rl1809/fulfillment-engine/internal/core/domain"
	"github.com/rl1809/fulfillment-engine/internal/core/service"
	"github.com/rl1809/fulfillment-engine/pkg/logger"
)

const (
	locationID = "stress-wh"
	sku        = "stress-sku"
)

func main() {
	driver := flag.String("driver", storage.DriverSQLite, "mysql or sqlite")
	dsn := flag.String("dsn", "", "database DSN; defaults to a temp sqlite file")
	orders := flag.Int("orders", 50, "concurrent single-unit orders")
	stock := flag.Int("stock", 20, "units on hand, split over three batches")
	flag.Parse()

	log := logger.Must(logger.New("info"))
	defer log.Sync()

	ctx := context.Background()

	if *dsn == "" {
		dir, err := os.MkdirTemp("", "fulfillment-stress")
		if err != nil {
			log.Fatal("temp dir", zap.Error(err))
		}
		defer os.RemoveAll(dir)
		*dsn = filepath.Join(dir, "stress.db")
	}

	db, err := storage.Open(ctx, *driver, *dsn, 50)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer db.Close()
	store := storage.NewSQLAdapter(db)

	run := uuid.NewString()[:8]
	loc := locationID + "-" + run
	if err := store.CreateLocation(ctx, domain.Location{ID: loc, Name: "stress", Active: true}); err != nil {
		log.Fatal("failed to create location", zap.Error(err))
	}

	// Spread stock over three batches so plans span entries.
	received := time.Now().Add(-72 * time.Hour)
	remaining := *stock
	for i := 0; i < 3 && remaining > 0; i++ {
		qty := *stock / 3
		if i == 2 || qty == 0 {
			qty = remaining
		}
		err := store.ReceiveStock(ctx, domain.StockEntry{
			LocationID:     loc,
			SKU:            sku,
			BatchID:        fmt.Sprintf("batch-%d", i),
			ReceivedAt:     received.Add(time.Duration(i) * time.Hour),
			QuantityOnHand: qty,
		})
		if err != nil {
			log.Fatal("failed to receive stock", zap.Error(err))
		}
		remaining -= qty
	}

	orderIDs := make([]string, *orders)
	for i := range orderIDs {
		orderIDs[i] = fmt.Sprintf("stress-%s-%d", run, i)
		err := store.CreateOrder(ctx, domain.Order{
			ID:    orderIDs[i],
			Lines: []domain.OrderLine{{SKU: sku, QuantityRequested: 1}},
		})
		if err != nil {
			log.Fatal("failed to create order", zap.Error(err))
		}
	}

	allocation := service.NewAllocationService(store, store, store, service.AllocationConfig{
		MaxAttempts:  10,
		RetryBackoff: 5 * time.Millisecond,
	}, nil)

	var full, partial, contention, failed atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range orderIDs {
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()

			record, err := allocation.Allocate(ctx, service.AllocateRequest{OrderID: orderID, LocationID: loc})
			switch {
			case domain.CodeOf(err) == domain.CodeContention:
				contention.Add(1)
			case err != nil:
				failed.Add(1)
				log.Warn("allocation error", zap.String("order_id", orderID), zap.Error(err))
			case record.Status == domain.AllocationFull:
				full.Add(1)
			default:
				partial.Add(1)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	entries, err := store.ListAvailableStock(ctx, loc, sku)
	if err != nil {
		log.Fatal("failed to read stock", zap.Error(err))
	}
	available := 0
	for _, e := range entries {
		available += e.Available()
	}

	fmt.Println("=== Stress Test Results ===")
	fmt.Printf("Orders:          %d\n", *orders)
	fmt.Printf("Units on hand:   %d\n", *stock)
	fmt.Printf("FULL:            %d\n", full.Load())
	fmt.Printf("PARTIAL:         %d\n", partial.Load())
	fmt.Printf("Contention:      %d\n", contention.Load())
	fmt.Printf("Errors:          %d\n", failed.Load())
	fmt.Printf("Units available: %d\n", available)
	fmt.Printf("Duration:        %v\n", elapsed)

	expected := min(*orders, *stock)
	if int(full.Load()) == expected && int(full.Load())+available == *stock {
		fmt.Println("PASS: stock conserved, no oversell")
		return
	}
	fmt.Printf("FAIL: expected %d FULL allocations and %d units left\n", expected, *stock-expected)
	os.Exit(1)
}
