// Package main provides the mirror audit tool: it replays the stored
// trade event log for the given subjects and reports any divergence
// between the log, the curve arithmetic, and the holdings mirror.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"shares-market/internal/audit"
	"shares-market/internal/domain"
	pgstore "shares-market/internal/storage/postgres"
)

func main() {
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	subjects := flag.String("subjects", "", "Comma-separated subject addresses to audit")
	verbose := flag.Bool("verbose", false, "Print every divergence")

	flag.Parse()

	logger := log.New(os.Stdout, "[audit] ", log.LstdFlags)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required")
	}
	if *subjects == "" {
		logger.Fatal("--subjects is required")
	}

	var addrs []domain.Address
	for _, s := range strings.Split(*subjects, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		addr, err := domain.ParseAddress(s)
		if err != nil {
			logger.Fatalf("Invalid subject %q: %v", s, err)
		}
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		logger.Fatal("No subjects to audit")
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Connect to postgres: %v", err)
	}
	defer pool.Close()

	auditor := audit.New(pgstore.NewTradeEventStore(pool), pgstore.NewHoldingStore(pool), logger)

	clean := true
	for _, subject := range addrs {
		result, err := auditor.AuditSubject(ctx, subject)
		if err != nil {
			logger.Fatalf("Audit %s: %v", subject, err)
		}

		if result.OK() {
			logger.Printf("%s: OK (%d events)", subject, result.EventsReplayed)
			continue
		}

		clean = false
		logger.Printf("%s: %d divergences in %d events", subject, len(result.Divergences), result.EventsReplayed)
		if *verbose {
			for _, d := range result.Divergences {
				fmt.Println("  " + d.String())
			}
		}
	}

	if !clean {
		os.Exit(1)
	}
}
