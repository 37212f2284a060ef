/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ticket allocation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Create API handler with dependencies
  4. Configure HTTP router
  5. Start the transfer expiry sweeper
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: tickets.db)
           Use ":memory:" for in-memory database
  -sweep   Transfer expiry sweep interval (default: 1h)

ENVIRONMENT:
  JWT_SECRET   HS256 secret for Bearer tokens (required)
  PORT         Overrides -port
  DATABASE     Overrides -db

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  JWT_SECRET=dev ./server -db="./data/tickets.db"

  # Run with in-memory database
  JWT_SECRET=dev ./server -db=":memory:"

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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/stepperslife/ticket-engine/api"
	"github.com/stepperslife/ticket-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "tickets.db", "SQLite database path")
	sweepInterval := flag.Duration("sweep", time.Hour, "transfer expiry sweep interval")
	flag.Parse()

	if v := os.Getenv("PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid PORT: %v", err)
		}
		*port = p
	}
	if v := os.Getenv("DATABASE"); v != "" {
		*dbPath = v
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// Initialize store
	db, err := sqlite.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize handler and router
	handler := api.NewHandler(db.Inventory(), db.Allocation())
	router := api.NewRouter(handler, jwtSecret)

	// Background expiry of stale transfers
	sweeper := api.NewTransferSweeper(handler.Transfers)
	sweeper.CheckInterval = *sweepInterval
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
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
