// Package main is a diagnostic tool for testing database connectivity and inspecting the
// persisted audit trail. It connects with the server's configuration, prints the row count
// and the most recent entries, and exits non-zero on any failure so it can gate deployments.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/db"
	"github.com/go-green-rwanda/admin-backend/internal/db/repositories"
)

const recentLimit = 10

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to read migration version: %v", err)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)

	repo := repositories.NewAuditRepository(database)
	count, err := repo.Count(ctx)
	if err != nil {
		log.Fatalf("Count failed: %v", err)
	}
	fmt.Printf("\n=== AUDIT LOGS (%d) ===\n", count)

	rows, err := repo.ListAll(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}
	if len(rows) == 0 {
		fmt.Println("No audit entries found!")
		return
	}
	for i, row := range rows {
		if i == recentLimit {
			fmt.Printf("... and %d more\n", len(rows)-recentLimit)
			break
		}
		fmt.Printf("%s  %-8s %-14s %-13s %-8s %s (%s)\n",
			row.Timestamp.UTC().Format(time.RFC3339), row.Severity, row.Category, row.Action,
			row.Status, row.ActorName, row.ID)
	}
}
