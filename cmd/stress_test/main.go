package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/adapter/storage"
	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/core/service"
)

const (
	sku             = "STR-0001-TS"
	initialStock    = 20
	totalRequests   = 50
	conflictRetries = 50
)

// countingPublisher stands in for the broker and counts announcements.
type countingPublisher struct {
	events atomic.Int32
}

func (p *countingPublisher) Emit(context.Context, domain.EventType, domain.SKU, int) error {
	p.events.Add(1)
	return nil
}

// countingNotifier counts low-stock signals.
type countingNotifier struct {
	signals atomic.Int32
}

func (n *countingNotifier) RestockNeeded(domain.SKU, int) {
	n.signals.Add(1)
}

func main() {
	ctx := context.Background()

	// DB_DRIVER=mysql DB_DSN=... runs against MySQL, default is a throwaway SQLite file
	dialect := storage.DialectSQLite
	dsn := filepath.Join(os.TempDir(), fmt.Sprintf("inventory-stress-%d.db", time.Now().UnixNano()))
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		dialect = storage.Dialect(driver)
		dsn = os.Getenv("DB_DSN")
	} else {
		defer os.Remove(dsn)
	}

	db, err := storage.Open(ctx, dialect, dsn)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	// Clear previous test data
	db.ExecContext(ctx, `DELETE FROM movements WHERE sku = ?`, sku)
	db.ExecContext(ctx, `DELETE FROM inventory WHERE sku = ?`, sku)

	publisher := &countingPublisher{}
	notifier := &countingNotifier{}
	inventoryService := service.NewInventoryService(
		storage.NewSQLAdapter(db, dialect, zap.NewNop()),
		publisher,
		notifier,
		zap.NewNop(),
		service.Options{RestockThreshold: domain.DefaultRestockThreshold, ConflictRetries: conflictRetries},
	)

	if _, err := inventoryService.CreateInventory(ctx, sku, initialStock); err != nil {
		log.Fatalf("failed to create inventory: %v", err)
	}

	// Counters
	var successCount, soldOutCount, conflictCount, otherCount atomic.Int32

	// Spawn concurrent reservations
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := inventoryService.Reserve(ctx, sku, 1)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			case errors.Is(err, domain.ErrConcurrencyConflict):
				conflictCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("reserve failed: %v", err)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Dialect:          %s\n", dialect)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Conflicts:        %d\n", conflictCount.Load())
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Events Emitted:   %d\n", publisher.events.Load())
	fmt.Printf("Restock Signals:  %d\n", notifier.signals.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == initialStock {
		fmt.Printf("PASS: Exactly %d reservations succeeded\n", initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d reservations, got %d\n", initialStock, success)
	}

	snap, err := inventoryService.GetInventory(ctx, sku)
	if err != nil {
		log.Fatalf("failed to read inventory: %v", err)
	}
	fmt.Printf("Final Stock: %d (version %d)\n", snap.Available, snap.Version)

	if snap.Available == 0 {
		fmt.Println("PASS: Stock depleted to 0, never oversold")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", snap.Available)
	}

	var movements int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM movements WHERE sku = ?`, sku).Scan(&movements); err == nil {
		fmt.Printf("Movements recorded: %d (1 create + %d reserves)\n", movements, success)
	}
}
