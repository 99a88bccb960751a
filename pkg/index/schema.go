package index

import (
	"context"

	"github.com/tangramdotdev/tangram/pkg/database"
)

// schemaStatements creates every table the indexer and cleaner read
// and write, except processes: pkg/process.EnsureSchema owns that
// table's definition since it holds the operational columns, with
// this package's projection columns folded into the same definition.
// Shared across backends: every statement here is plain ANSI SQL the
// sqlite and postgres Transaction implementations both accept.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS objects (
		id TEXT PRIMARY KEY,
		bytes_len INTEGER NOT NULL DEFAULT 0,
		cache_entry TEXT,
		complete INTEGER NOT NULL DEFAULT 0,
		touched_at INTEGER NOT NULL,
		subtree_count INTEGER,
		subtree_depth INTEGER,
		subtree_size INTEGER,
		subtree_solvable INTEGER,
		subtree_solved INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entries (
		id TEXT PRIMARY KEY,
		touched_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS object_child (
		object_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		PRIMARY KEY (object_id, child_id)
	)`,
	`CREATE TABLE IF NOT EXISTS process_child (
		process_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (process_id, child_id)
	)`,
	`CREATE TABLE IF NOT EXISTS process_object (
		process_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		PRIMARY KEY (process_id, object_id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS cache_entry_dependency (
		cache_entry_id TEXT NOT NULL,
		object_id TEXT NOT NULL,
		PRIMARY KEY (cache_entry_id, object_id)
	)`,
	`CREATE TABLE IF NOT EXISTS tags (
		tag TEXT PRIMARY KEY,
		item TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS remotes (
		name TEXT PRIMARY KEY,
		url TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS eviction_queue (
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		partition INTEGER NOT NULL,
		touched_at INTEGER NOT NULL,
		ref_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (entity_kind, entity_id)
	)`,
}

// EnsureSchema creates the indexer's tables if they do not exist.
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
