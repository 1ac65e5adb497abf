// Package main is a repair tool for dirty migration state in the audit database. Dirty state
// occurs when the golang-migrate runner marks a version as in progress (dirty=true) and the
// process is interrupted before it completes. This tool clears the dirty flag so that the
// runner can retry cleanly on the next server startup.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/go-green-rwanda/admin-backend/internal/config"
	"github.com/go-green-rwanda/admin-backend/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	log.Println("Connected to database successfully")

	// Check current migration state
	version, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}

	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)

	if !dirty {
		log.Println("Migration state is already clean")
		return
	}

	log.Println("Fixing dirty migration state...")
	if _, err := database.ExecContext(ctx, "UPDATE schema_migrations SET dirty = false"); err != nil {
		log.Fatalf("Failed to fix dirty state: %v", err)
	}

	// Show final state
	version, dirty, err = db.GetMigrationVersion(database.DB)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}

	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}
