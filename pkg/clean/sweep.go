package clean

import (
	"context"
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/store"
)

type candidate struct {
	kind string
	id   string
}

type childRef struct {
	kind string
	id   string
}

// SweepPartition implements spec.md §4.5's per-partition algorithm: it
// reads up to BatchSize candidates from partition whose touched_at is
// at or before maxTouchedAt, recomputes each one's reference count
// from the edge tables, and either deletes it (cascading the
// decrement to its children) or refreshes its count.
func (c *Cleaner) SweepPartition(ctx context.Context, partition int, maxTouchedAt time.Time) (SweepResult, error) {
	conn, err := c.db.Connection(ctx, database.KindWrite, database.PriorityLow)
	if err != nil {
		return SweepResult{}, fmt.Errorf("acquire cleaner connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.Transaction(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("begin cleaner transaction: %w", err)
	}

	candidates, err := readCandidates(ctx, tx, partition, maxTouchedAt, c.BatchSize)
	if err != nil {
		tx.Rollback()
		return SweepResult{}, err
	}

	var result SweepResult
	var toDeleteFromStore []store.DeleteArg
	now := time.Now()

	for _, cand := range candidates {
		refs, err := refCount(ctx, tx, cand.kind, cand.id)
		if err != nil {
			tx.Rollback()
			return SweepResult{}, err
		}
		if refs > 0 {
			if err := writeBackRefCount(ctx, tx, cand.kind, cand.id, refs, now); err != nil {
				tx.Rollback()
				return SweepResult{}, err
			}
			continue
		}

		children, err := childrenOf(ctx, tx, cand.kind, cand.id)
		if err != nil {
			tx.Rollback()
			return SweepResult{}, err
		}
		if err := deleteEntity(ctx, tx, cand.kind, cand.id); err != nil {
			tx.Rollback()
			return SweepResult{}, err
		}
		switch cand.kind {
		case "object":
			result.Objects = append(result.Objects, cand.id)
			toDeleteFromStore = append(toDeleteFromStore, store.DeleteArg{ID: cand.id, Now: now, TTL: 0})
		case "process":
			result.Processes = append(result.Processes, cand.id)
		case "cache_entry":
			result.CacheEntries = append(result.CacheEntries, cand.id)
		}
		metrics.CleanerEntitiesDeletedTotal.WithLabelValues(cand.kind).Inc()

		for _, child := range children {
			if err := index.EnqueueEviction(ctx, tx, child.kind, child.id, now); err != nil {
				tx.Rollback()
				return SweepResult{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return SweepResult{}, fmt.Errorf("commit cleaner sweep: %w", err)
	}

	if len(toDeleteFromStore) > 0 && c.store != nil {
		if err := c.store.DeleteBatch(ctx, toDeleteFromStore); err != nil {
			return result, fmt.Errorf("store delete_batch after cleaner sweep: %w", err)
		}
	}

	result.Done = len(candidates) < c.BatchSize
	return result, nil
}

func readCandidates(ctx context.Context, tx database.Transaction, partition int, maxTouchedAt time.Time, limit int) ([]candidate, error) {
	rows, err := tx.QueryAll(ctx, `SELECT entity_kind AS entity_kind, entity_id AS entity_id FROM eviction_queue
		WHERE partition = ? AND touched_at <= ? LIMIT ?`, partition, maxTouchedAt.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("read eviction candidates for partition %d: %w", partition, err)
	}
	out := make([]candidate, 0, len(rows))
	for _, row := range rows {
		kind, _ := row["entity_kind"].(string)
		id, _ := row["entity_id"].(string)
		out = append(out, candidate{kind: kind, id: id})
	}
	return out, nil
}

// refCount recomputes an entity's reference count directly from the
// edge tables, per spec.md §4.5 step 2: object→object, object→process,
// artifact→tag, and cache-entry dependency edges.
func refCount(ctx context.Context, tx database.Transaction, kind, id string) (int64, error) {
	var queries []string
	switch kind {
	case "object":
		queries = []string{
			`SELECT COUNT(*) AS n FROM object_child WHERE child_id = ?`,
			`SELECT COUNT(*) AS n FROM process_object WHERE object_id = ?`,
			`SELECT COUNT(*) AS n FROM cache_entry_dependency WHERE object_id = ?`,
			`SELECT COUNT(*) AS n FROM tags WHERE item = ?`,
		}
	case "process":
		queries = []string{
			`SELECT COUNT(*) AS n FROM process_child WHERE child_id = ?`,
			`SELECT COUNT(*) AS n FROM tags WHERE item = ?`,
		}
	case "cache_entry":
		queries = []string{
			`SELECT COUNT(*) AS n FROM objects WHERE cache_entry = ?`,
		}
	default:
		return 0, fmt.Errorf("unknown eviction entity kind %q", kind)
	}
	var total int64
	for _, q := range queries {
		row, err := tx.QueryOne(ctx, q, id)
		if err != nil {
			return 0, fmt.Errorf("count references to %s %s: %w", kind, id, err)
		}
		if n, ok := row["n"].(int64); ok {
			total += n
		}
	}
	return total, nil
}

func childrenOf(ctx context.Context, tx database.Transaction, kind, id string) ([]childRef, error) {
	var out []childRef
	collect := func(query, childKind string) error {
		rows, err := tx.QueryAll(ctx, query, id)
		if err != nil {
			return fmt.Errorf("read children of %s %s: %w", kind, id, err)
		}
		for _, row := range rows {
			if cid, ok := row["child"].(string); ok {
				out = append(out, childRef{kind: childKind, id: cid})
			}
		}
		return nil
	}
	switch kind {
	case "object":
		if err := collect(`SELECT child_id AS child FROM object_child WHERE object_id = ?`, "object"); err != nil {
			return nil, err
		}
	case "process":
		if err := collect(`SELECT child_id AS child FROM process_child WHERE process_id = ?`, "process"); err != nil {
			return nil, err
		}
		if err := collect(`SELECT object_id AS child FROM process_object WHERE process_id = ?`, "object"); err != nil {
			return nil, err
		}
	case "cache_entry":
		if err := collect(`SELECT object_id AS child FROM cache_entry_dependency WHERE cache_entry_id = ?`, "object"); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// deleteEntity removes the entity's own row, the edges it owns, and
// its eviction_queue row.
func deleteEntity(ctx context.Context, tx database.Transaction, kind, id string) error {
	var statements []string
	switch kind {
	case "object":
		statements = []string{
			`DELETE FROM object_child WHERE object_id = ?`,
			`DELETE FROM process_object WHERE object_id = ?`,
			`DELETE FROM cache_entry_dependency WHERE object_id = ?`,
			`DELETE FROM objects WHERE id = ?`,
		}
	case "process":
		statements = []string{
			`DELETE FROM process_child WHERE process_id = ?`,
			`DELETE FROM process_object WHERE process_id = ?`,
			`DELETE FROM processes WHERE id = ?`,
		}
	case "cache_entry":
		statements = []string{
			`DELETE FROM cache_entry_dependency WHERE cache_entry_id = ?`,
			`DELETE FROM cache_entries WHERE id = ?`,
		}
	default:
		return fmt.Errorf("unknown eviction entity kind %q", kind)
	}
	for _, stmt := range statements {
		if _, err := tx.Execute(ctx, stmt, id); err != nil {
			return fmt.Errorf("delete %s %s: %w", kind, id, err)
		}
	}
	if _, err := tx.Execute(ctx, `DELETE FROM eviction_queue WHERE entity_kind = ? AND entity_id = ?`, kind, id); err != nil {
		return fmt.Errorf("clear eviction queue row for %s %s: %w", kind, id, err)
	}
	return nil
}

// writeBackRefCount implements spec.md §4.5 steps 4-5 for a surviving
// entity: its refreshed count is written back, and its touched_at is
// bumped to now so the same watermark sweep does not immediately pick
// it up again — it re-enters eligibility once a sweep's maxTouchedAt
// passes that refreshed touched_at.
func writeBackRefCount(ctx context.Context, tx database.Transaction, kind, id string, refs int64, now time.Time) error {
	_, err := tx.Execute(ctx, `UPDATE eviction_queue SET ref_count = ?, touched_at = ? WHERE entity_kind = ? AND entity_id = ?`,
		refs, now.UnixNano(), kind, id)
	if err != nil {
		return fmt.Errorf("write back ref_count for %s %s: %w", kind, id, err)
	}
	return nil
}
