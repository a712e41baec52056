/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the dairy settlement engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Seed rate rules from the TOML rate card (optional)
  4. Create API handler with dependencies
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: settlement.db)
           Use ":memory:" for an in-memory database
  -rates   Optional TOML rate card to seed/update rate rules at startup

RATE CARD FILE:
  [[rule]]
  id = "cow-standard"
  milk_type = "cow"
  fat_min = "3.5"
  fat_max = "5.0"
  snf_min = "8.0"
  snf_max = "9.5"
  price_per_litre = "41.50"

  Bounds are optional; a missing bound is unbounded on that side. Seeding
  upserts by rule ID, so the file can be re-applied on every start.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database and rate card
  ./server -db="./data/settlement.db" -rates="./rates.toml"

  # Run with in-memory database
  ./server -db=":memory:"

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

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/mydairy/settlement-engine/api"
	"github.com/mydairy/settlement-engine/ledger"
	"github.com/mydairy/settlement-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "settlement.db", "SQLite database path")
	ratesPath := flag.String("rates", "", "TOML rate card to seed rate rules from")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Seed rate rules
	if *ratesPath != "" {
		n, err := seedRateCard(context.Background(), store, *ratesPath)
		if err != nil {
			log.Fatalf("Failed to seed rate card %s: %v", *ratesPath, err)
		}
		log.Printf("Seeded %d rate rules from %s", n, *ratesPath)
	}

	// Create router
	router := api.NewRouter(api.NewHandler(store))

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
		log.Printf("Settlement engine listening on http://localhost:%d", *port)
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

// =============================================================================
// RATE CARD SEEDING
// =============================================================================

type rateCardFile struct {
	Rules []rateCardRule `toml:"rule"`
}

type rateCardRule struct {
	ID            string `toml:"id"`
	MilkType      string `toml:"milk_type"`
	FatMin        string `toml:"fat_min"`
	FatMax        string `toml:"fat_max"`
	SNFMin        string `toml:"snf_min"`
	SNFMax        string `toml:"snf_max"`
	PricePerLitre string `toml:"price_per_litre"`
}

// seedRateCard upserts every rule in the TOML file. It runs before the
// server accepts traffic, so a bad rate card fails startup rather than
// mispricing entries later.
func seedRateCard(ctx context.Context, store *sqlite.Store, path string) (int, error) {
	var card rateCardFile
	if _, err := toml.DecodeFile(path, &card); err != nil {
		return 0, err
	}

	for i, raw := range card.Rules {
		if raw.ID == "" {
			return 0, fmt.Errorf("rule %d: id is required", i)
		}
		price, err := decimal.NewFromString(raw.PricePerLitre)
		if err != nil {
			return 0, fmt.Errorf("rule %s: bad price_per_litre %q: %w", raw.ID, raw.PricePerLitre, err)
		}

		fatMin, err := parseBound(raw.FatMin)
		if err != nil {
			return 0, fmt.Errorf("rule %s: bad fat_min: %w", raw.ID, err)
		}
		fatMax, err := parseBound(raw.FatMax)
		if err != nil {
			return 0, fmt.Errorf("rule %s: bad fat_max: %w", raw.ID, err)
		}
		snfMin, err := parseBound(raw.SNFMin)
		if err != nil {
			return 0, fmt.Errorf("rule %s: bad snf_min: %w", raw.ID, err)
		}
		snfMax, err := parseBound(raw.SNFMax)
		if err != nil {
			return 0, fmt.Errorf("rule %s: bad snf_max: %w", raw.ID, err)
		}

		rule, err := ledger.NewRateRule(ledger.RuleID(raw.ID), ledger.MilkType(raw.MilkType),
			fatMin, fatMax, snfMin, snfMax, price)
		if err != nil {
			return 0, fmt.Errorf("rule %s: %w", raw.ID, err)
		}
		if err := store.SaveRateRule(ctx, rule); err != nil {
			return 0, fmt.Errorf("rule %s: %w", raw.ID, err)
		}
	}
	return len(card.Rules), nil
}

func parseBound(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
