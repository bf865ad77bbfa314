/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the incentive ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Wire ledger, engines, order driver and maturity scheduler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port           HTTP server port (default: 8080)
  -db             SQLite database path (default: incentive.db)
                  Use ":memory:" for in-memory database
  -holding-days   Reward point holding period in days (default: 90)
  -sweep-interval Background maturity sweep interval (default: 1h)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the maturity scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/incentive.db"

  # Run with in-memory database and a short holding period
  ./server -db=":memory:" -holding-days=1

ENVIRONMENT:
  No environment variables currently. All config via flags.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/incentive-ledger/api"
	"github.com/warp/incentive-ledger/commission"
	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/maturity"
	"github.com/warp/incentive-ledger/order"
	"github.com/warp/incentive-ledger/redemption"
	"github.com/warp/incentive-ledger/reward"
	"github.com/warp/incentive-ledger/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "incentive.db", "SQLite database path")
	holdingDays := flag.Int("holding-days", 90, "Reward point holding period in days")
	sweepInterval := flag.Duration("sweep-interval", time.Hour, "Background maturity sweep interval")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Domain wiring
	led := ledger.New(store)

	rates := commission.NewSchedule(
		ledger.MustParseDecimal("5"),
		commission.Band{MinSubtotal: ledger.MustParseDecimal("0"), Rate: ledger.MustParseDecimal("5")},
		commission.Band{MinSubtotal: ledger.MustParseDecimal("1000"), Rate: ledger.MustParseDecimal("8")},
	)

	commissionEngine := commission.NewEngine(led, rates)
	rewardEngine := reward.NewEngine(led)
	redemptionEngine := redemption.NewEngine(led)

	driver := order.NewDriver(store, commissionEngine, rewardEngine, order.LogNotifier{})

	reconciler := maturity.NewReconciler(led)
	reconciler.HoldingPeriod = time.Duration(*holdingDays) * 24 * time.Hour

	scheduler := maturity.NewScheduler(reconciler, store)
	scheduler.CheckInterval = *sweepInterval
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP wiring
	handler := &api.Handler{
		Orders:     store,
		Driver:     driver,
		Ledger:     led,
		Commission: commissionEngine,
		Redemption: redemptionEngine,
		Reconciler: reconciler,
		Scheduler:  scheduler,
		Rates:      rates,
		Runs:       store,
	}
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
