package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"authd/internal/storage/sqlite"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

func main() {
	var storagePath, migrationsPath, migrationsTable string
	var purge bool

	flag.StringVar(&storagePath, "storage-path", "", "path to the sqlite database")
	flag.StringVar(&migrationsPath, "migrations-path", "", "path to the migrations directory")
	flag.StringVar(&migrationsTable, "migrations-table", "migrations", "name of the migrations table")
	flag.BoolVar(&purge, "purge", false, "delete expired refresh tokens after migrating")
	flag.Parse()

	if storagePath == "" {
		log.Fatal("storage-path is required")
	}
	if migrationsPath == "" {
		log.Fatal("migrations-path is required")
	}

	m, err := migrate.New(
		"file://"+migrationsPath,
		fmt.Sprintf("sqlite3://%s?x-migrations-table=%s", storagePath, migrationsTable),
	)
	if err != nil {
		log.Fatalf("failed to create migrator: %v", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("no migrations to apply")
		} else {
			log.Fatalf("failed to apply migrations: %v", err)
		}
	} else {
		log.Println("migrations applied successfully")
	}

	if purge {
		purgeExpired(storagePath)
	}
}

// purgeExpired sweeps expired refresh tokens. Meant to be invoked by an
// external scheduler (e.g. a cron entry running this binary with -purge).
func purgeExpired(storagePath string) {
	storage, err := sqlite.New(storagePath)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer storage.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := storage.PurgeExpiredTokens(ctx)
	if err != nil {
		log.Fatalf("failed to purge expired tokens: %v", err)
	}
	log.Printf("purged %d expired refresh tokens", count)
}
