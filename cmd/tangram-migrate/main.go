package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/process"
)

var (
	dataDir       = flag.String("data-dir", "/var/lib/tangram", "Tangram data directory (used when -database-dsn is empty)")
	databaseDSN   = flag.String("database-dsn", "", "Postgres connection string (default: embedded SQLite under -data-dir)")
	sqliteReaders = flag.Int("sqlite-readers", 0, "SQLite reader pool size (0 selects the default)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Tangram Database Migration Tool - Schema Ensure")
	log.Println("=================================================")

	ctx := context.Background()
	db, dbPath, err := openDatabase(ctx)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if dbPath != "" {
		log.Printf("Database: %s", dbPath)
	} else {
		log.Println("Database: postgres")
	}

	conn, err := db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		log.Fatalf("Failed to acquire a write connection: %v", err)
	}
	defer conn.Close()

	log.Println("Applying schema (objects, processes, tags, remotes, index queue)...")
	if err := process.EnsureSchema(ctx, conn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	if err := index.EnsureSchema(ctx, conn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("✓ Schema is up to date")
}

// openDatabase mirrors pkg/server.openDatabase's sqlite-default/
// postgres-if-DSN selection, so this tool and `tangram serve` always
// agree on which database a given -data-dir/-database-dsn pair opens.
func openDatabase(ctx context.Context) (database.Database, string, error) {
	if *databaseDSN != "" {
		db, err := database.OpenPostgres(*databaseDSN)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return db, "", nil
	}

	dbDir := filepath.Join(*dataDir, "database")
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create %s: %w", dbDir, err)
	}
	dbPath := filepath.Join(dbDir, "tangram.db")
	db, err := database.OpenSQLite(ctx, dbPath, *sqliteReaders)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	return db, dbPath, nil
}
