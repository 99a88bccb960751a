package process

import (
	"context"

	"github.com/tangramdotdev/tangram/pkg/database"
)

// schemaStatements creates the tables the process engine owns. The
// processes table is shared with pkg/index: this package owns the
// operational columns (command, status, timestamps, ...) and
// pkg/index maintains the projection columns (complete,
// subtree_count/depth/size) on the same rows, so both sets live in
// the one definition here; index's EnsureSchema never creates the
// processes table.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS processes (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		expected_checksum TEXT,
		actual_checksum TEXT,
		cacheable INTEGER NOT NULL DEFAULT 0,
		host TEXT,
		mounts TEXT,
		network INTEGER NOT NULL DEFAULT 0,
		retry INTEGER NOT NULL DEFAULT 0,
		stdin TEXT,
		stdout TEXT,
		stderr TEXT,
		status TEXT NOT NULL,
		exit INTEGER,
		error_code TEXT,
		error_data TEXT,
		output TEXT,
		created_at INTEGER NOT NULL,
		enqueued_at INTEGER,
		started_at INTEGER,
		finished_at INTEGER,
		heartbeat_at INTEGER,
		touched_at INTEGER NOT NULL,
		depth INTEGER NOT NULL DEFAULT 1,
		token_count INTEGER NOT NULL DEFAULT 0,
		complete INTEGER NOT NULL DEFAULT 0,
		subtree_count INTEGER,
		subtree_depth INTEGER,
		subtree_size INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS process_children (
		process TEXT NOT NULL,
		position INTEGER NOT NULL,
		child TEXT NOT NULL,
		options TEXT,
		token TEXT,
		PRIMARY KEY (process, child)
	)`,
	// Local mirror of the object references a process establishes
	// (populated by recordProcessObjects); the indexer's own
	// process_object table is the one pkg/clean's reference counting
	// reads from, populated asynchronously from the same PutProcess
	// message.
	`CREATE TABLE IF NOT EXISTS process_objects (
		process TEXT NOT NULL,
		object TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (process, object, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS process_tokens (
		process TEXT NOT NULL,
		token TEXT PRIMARY KEY
	)`,
}

// EnsureSchema creates the process engine's tables if they do not exist.
func EnsureSchema(ctx context.Context, conn database.Connection) error {
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.Execute(ctx, stmt); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
