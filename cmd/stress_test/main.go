package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/library-ledger/internal/app"
	"github.com/rl1809/library-ledger/internal/config"
	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/core/service"
)

const (
	totalCopies   = 20
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	// STORAGE_DRIVER, the DSNs and REDIS_ADDR select the backends
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger := cfg.NewLogger()

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.StorageDriver, err)
	}
	defer store.Close()

	cache, closeCache, err := app.OpenCache(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer closeCache()

	opts := []service.Option{
		service.WithCache(cache),
		service.WithRetryOptions(
			service.WithMaxAttempts(cfg.RetryMaxAttempts),
			service.WithBaseDelay(cfg.RetryBaseDelay),
		),
	}
	catalog := service.NewCatalogService(store, opts...)
	loans := service.NewLoanService(store, opts...)

	// Unique per run so a persistent database can be reused
	run := uuid.NewString()[:8]

	book, err := catalog.CreateBook(ctx, service.BookInput{
		Title:       "The Go Programming Language",
		Author:      "Donovan & Kernighan",
		ISBN:        "stress-" + run,
		TotalCopies: totalCopies,
	})
	if err != nil {
		log.Fatalf("failed to create book: %v", err)
	}

	userIDs := make([]string, totalRequests)
	for i := range userIDs {
		user, err := catalog.CreateUser(ctx, fmt.Sprintf("Reader %d", i), fmt.Sprintf("reader-%d-%s@example.com", i, run))
		if err != nil {
			log.Fatalf("failed to create user: %v", err)
		}
		userIDs[i] = user.ID
	}

	// Counters
	var successCount atomic.Int32
	var noCopiesCount atomic.Int32
	var otherCount atomic.Int32

	var mu sync.Mutex
	var loanIDs []string

	// Spawn concurrent borrows
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()

			loan, err := loans.Borrow(ctx, book.ID, userID)
			switch {
			case err == nil:
				successCount.Add(1)
				mu.Lock()
				loanIDs = append(loanIDs, loan.ID)
				mu.Unlock()
			case errors.Is(err, domain.ErrNoCopiesAvailable):
				noCopiesCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(userIDs[i])
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	noCopies := noCopiesCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Storage Driver:   %s\n", cfg.StorageDriver)
	fmt.Printf("Total Copies:     %d\n", totalCopies)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Borrowed:         %d\n", success)
	fmt.Printf("No Copies:        %d\n", noCopies)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == totalCopies && noCopies == totalRequests-totalCopies {
		fmt.Printf("PASS: Exactly %d borrows succeeded, %d found no copies\n", totalCopies, totalRequests-totalCopies)
	} else {
		fmt.Printf("FAIL: Expected %d borrowed/%d no copies, got %d/%d\n",
			totalCopies, totalRequests-totalCopies, success, noCopies)
	}

	checkAvailable(ctx, catalog, book.ID, 0)

	// Return every loan twice, concurrently
	var returned atomic.Int32
	var alreadyReturned atomic.Int32
	for _, id := range loanIDs {
		for range 2 {
			wg.Add(1)
			go func(loanID string) {
				defer wg.Done()

				_, err := loans.Return(ctx, loanID)
				switch {
				case err == nil:
					returned.Add(1)
				case errors.Is(err, domain.ErrAlreadyReturned):
					alreadyReturned.Add(1)
				}
			}(id)
		}
	}
	wg.Wait()

	if int(returned.Load()) == len(loanIDs) && int(alreadyReturned.Load()) == len(loanIDs) {
		fmt.Printf("PASS: Each of %d loans returned exactly once\n", len(loanIDs))
	} else {
		fmt.Printf("FAIL: Expected %d returns and %d rejections, got %d/%d\n",
			len(loanIDs), len(loanIDs), returned.Load(), alreadyReturned.Load())
	}

	checkAvailable(ctx, catalog, book.ID, totalCopies)
}

func checkAvailable(ctx context.Context, catalog *service.CatalogService, bookID string, want int) {
	stored, err := catalog.GetBook(ctx, bookID)
	if err != nil {
		log.Fatalf("failed to read book: %v", err)
	}
	mirrored, err := catalog.Availability(ctx, bookID)
	if err != nil {
		log.Fatalf("failed to read availability: %v", err)
	}
	fmt.Printf("Available Copies: %d (mirror %d)\n", stored.AvailableCopies, mirrored)

	if stored.AvailableCopies == want && mirrored == want {
		fmt.Printf("PASS: Available copies at %d\n", want)
	} else {
		fmt.Printf("FAIL: Expected available copies %d, got %d (mirror %d)\n", want, stored.AvailableCopies, mirrored)
	}
}
