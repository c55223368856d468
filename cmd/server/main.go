/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger engine server. Handles configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Open the SQLite persistence store
  3. Create the mutation coordinator and load persisted state
  4. Create the recurring engine and start the materialization scheduler
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080)
  -db        SQLite database path (default: ledger.db)
             Use ":memory:" for an in-memory database
  -interval  Recurring materialization check interval (default: 1h)
  -base      Reporting base currency (default: KZT)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database
  4. Exit
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

	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/coordinator"
	"github.com/warp/ledger-engine/deposit"
	"github.com/warp/ledger-engine/finance"
	"github.com/warp/ledger-engine/recurring"
	"github.com/warp/ledger-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "ledger.db", "SQLite database path")
	interval := flag.Duration("interval", time.Hour, "recurring materialization interval")
	base := flag.String("base", string(finance.KZT), "reporting base currency")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Coordinator with persisted state
	coord := coordinator.New(coordinator.Config{
		Persistence:  store,
		Categories:   coordinator.AllowAllCategories{},
		BaseCurrency: finance.Currency(*base),
	})
	if err := coord.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load ledger state: %v", err)
	}

	// Recurring engine + materialization scheduler
	engine := recurring.NewEngine(coord, store)
	if err := engine.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load recurring state: %v", err)
	}
	defer engine.Close()

	// Deposit interest engine; policies are configured over the API
	deposits := deposit.NewEngine(coord)

	scheduler := api.NewMaterializationScheduler(engine)
	scheduler.Deposits = deposits
	scheduler.CheckInterval = *interval
	scheduler.Start()
	defer scheduler.Stop()

	// Create router
	router := api.NewRouter(api.NewHandler(coord, engine, deposits))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
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
