package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/tangramdotdev/tangram/pkg/database"
)

// dedupe keeps, for each distinct entity key, the message with the
// largest touched_at — spec.md §4.4 step 1. Messages with no
// touched_at (tag put/delete) are kept as-is, last write wins, since
// they carry no ordering signal of their own.
func dedupe(batch []Message) []Message {
	best := make(map[string]Message, len(batch))
	order := make([]string, 0, len(batch))
	for _, m := range batch {
		key := m.key()
		if key == "" {
			continue
		}
		existing, ok := best[key]
		if !ok {
			order = append(order, key)
			best[key] = m
			continue
		}
		if m.PutTag != nil || m.DeleteTag != nil || m.touchedAt().After(existing.touchedAt()) {
			best[key] = m
		}
	}
	out := make([]Message, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// topologicalSort orders messages so that, within this batch, a
// message whose entity is named as another message's child is applied
// first (spec.md §4.4's "children before parents" ordering invariant).
// Entities outside the batch are assumed already applied and are not
// reordered against.
func topologicalSort(batch []Message) []Message {
	indexOf := make(map[string]int, len(batch))
	for i, m := range batch {
		indexOf[m.key()] = i
	}
	visited := make([]bool, len(batch))
	var out []Message
	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, childID := range batch[i].children() {
			for _, prefix := range []string{"object:", "process:"} {
				if j, ok := indexOf[prefix+childID]; ok {
					visit(j)
				}
			}
		}
		out = append(out, batch[i])
	}
	// Stable entity ordering before the DFS keeps output deterministic
	// for equal inputs, which matters for tests and for reproducing a
	// batch's effect during cache-entry reuse debugging.
	order := make([]int, len(batch))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return batch[order[a]].key() < batch[order[b]].key() })
	for _, i := range order {
		visit(i)
	}
	return out
}

// ApplyBatch runs one indexer batch transactionally: dedupe, upsert,
// edges, metadata/stored flags, subtree recomputation, process depth,
// eviction-queue enqueue, and tag application (spec.md §4.4 steps
// 1-8). It commits on success and rolls back on the first error.
func ApplyBatch(ctx context.Context, conn database.Connection, batch []Message) error {
	if len(batch) == 0 {
		return nil
	}
	deduped := dedupe(batch)
	ordered := topologicalSort(deduped)

	tx, err := conn.Transaction(ctx)
	if err != nil {
		return fmt.Errorf("begin indexer transaction: %w", err)
	}
	if err := applyOrdered(ctx, tx, ordered); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func applyOrdered(ctx context.Context, tx database.Transaction, ordered []Message) error {
	for _, m := range ordered {
		switch {
		case m.PutObject != nil:
			if err := applyPutObject(ctx, tx, m.PutObject); err != nil {
				return err
			}
		case m.TouchObject != nil:
			if _, err := tx.Execute(ctx, `UPDATE objects SET touched_at = MAX(touched_at, ?) WHERE id = ?`,
				m.TouchObject.TouchedAt.UnixNano(), m.TouchObject.ID); err != nil {
				return fmt.Errorf("touch object %s: %w", m.TouchObject.ID, err)
			}
			if err := enqueueEviction(ctx, tx, "object", m.TouchObject.ID, m.TouchObject.TouchedAt); err != nil {
				return err
			}
		case m.PutProcess != nil:
			if err := applyPutProcess(ctx, tx, m.PutProcess); err != nil {
				return err
			}
		case m.TouchProcess != nil:
			if _, err := tx.Execute(ctx, `UPDATE processes SET touched_at = MAX(touched_at, ?) WHERE id = ?`,
				m.TouchProcess.TouchedAt.UnixNano(), m.TouchProcess.ID); err != nil {
				return fmt.Errorf("touch process %s: %w", m.TouchProcess.ID, err)
			}
			if err := enqueueEviction(ctx, tx, "process", m.TouchProcess.ID, m.TouchProcess.TouchedAt); err != nil {
				return err
			}
		case m.PutCacheEntry != nil:
			if _, err := tx.Execute(ctx, `INSERT INTO cache_entries (id, touched_at) VALUES (?, ?)
				ON CONFLICT (id) DO UPDATE SET touched_at = MAX(cache_entries.touched_at, excluded.touched_at)`,
				m.PutCacheEntry.ID, m.PutCacheEntry.TouchedAt.UnixNano()); err != nil {
				return fmt.Errorf("put cache entry %s: %w", m.PutCacheEntry.ID, err)
			}
			if err := enqueueEviction(ctx, tx, "cache_entry", m.PutCacheEntry.ID, m.PutCacheEntry.TouchedAt); err != nil {
				return err
			}
		case m.PutTag != nil:
			if _, err := tx.Execute(ctx, `INSERT INTO tags (tag, item) VALUES (?, ?)
				ON CONFLICT (tag) DO UPDATE SET item = excluded.item`,
				m.PutTag.Tag, m.PutTag.Item); err != nil {
				return fmt.Errorf("put tag %s: %w", m.PutTag.Tag, err)
			}
		case m.DeleteTag != nil:
			if _, err := tx.Execute(ctx, `DELETE FROM tags WHERE tag = ?`, m.DeleteTag.Tag); err != nil {
				return fmt.Errorf("delete tag %s: %w", m.DeleteTag.Tag, err)
			}
		}
	}
	return recomputeSubtreeMetadata(ctx, tx, ordered)
}

func applyPutObject(ctx context.Context, tx database.Transaction, p *PutObject) error {
	complete := 0
	if p.Complete {
		complete = 1
	}
	if _, err := tx.Execute(ctx, `INSERT INTO objects (id, bytes_len, cache_entry, complete, touched_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			bytes_len = excluded.bytes_len,
			cache_entry = COALESCE(excluded.cache_entry, objects.cache_entry),
			complete = MAX(objects.complete, excluded.complete),
			touched_at = MAX(objects.touched_at, excluded.touched_at)`,
		p.ID, p.BytesLen, nullableString(p.CacheEntry), complete, p.TouchedAt.UnixNano()); err != nil {
		return fmt.Errorf("put object %s: %w", p.ID, err)
	}
	for _, child := range p.Children {
		if _, err := tx.Execute(ctx, `INSERT INTO object_child (object_id, child_id) VALUES (?, ?)
			ON CONFLICT (object_id, child_id) DO NOTHING`, p.ID, child); err != nil {
			return fmt.Errorf("link object child %s -> %s: %w", p.ID, child, err)
		}
	}
	if p.CacheEntry != "" {
		for _, child := range p.Children {
			if _, err := tx.Execute(ctx, `INSERT INTO cache_entry_dependency (cache_entry_id, object_id) VALUES (?, ?)
				ON CONFLICT (cache_entry_id, object_id) DO NOTHING`, p.CacheEntry, child); err != nil {
				return fmt.Errorf("link cache entry dependency %s -> %s: %w", p.CacheEntry, child, err)
			}
		}
	}
	return enqueueEviction(ctx, tx, "object", p.ID, p.TouchedAt)
}

func applyPutProcess(ctx context.Context, tx database.Transaction, p *PutProcess) error {
	complete := 0
	if p.Complete {
		complete = 1
	}
	if _, err := tx.Execute(ctx, `INSERT INTO processes (id, complete, touched_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			complete = MAX(processes.complete, excluded.complete),
			touched_at = MAX(processes.touched_at, excluded.touched_at)`,
		p.ID, complete, p.TouchedAt.UnixNano()); err != nil {
		return fmt.Errorf("put process %s: %w", p.ID, err)
	}
	for i, child := range p.Children {
		if _, err := tx.Execute(ctx, `INSERT INTO process_child (process_id, child_id, position) VALUES (?, ?, ?)
			ON CONFLICT (process_id, child_id) DO UPDATE SET position = excluded.position`,
			p.ID, child, i); err != nil {
			return fmt.Errorf("link process child %s -> %s: %w", p.ID, child, err)
		}
	}
	for _, obj := range p.Objects {
		if _, err := tx.Execute(ctx, `INSERT INTO process_object (process_id, object_id, kind) VALUES (?, ?, ?)
			ON CONFLICT (process_id, object_id, kind) DO NOTHING`, p.ID, obj.ID, obj.Kind); err != nil {
			return fmt.Errorf("link process object %s -> %s: %w", p.ID, obj.ID, err)
		}
	}
	if err := enqueueEviction(ctx, tx, "process", p.ID, p.TouchedAt); err != nil {
		return err
	}
	return updateProcessDepth(ctx, tx, p.ID)
}

// updateProcessDepth walks this process's children, which were
// applied first by the batch's topological order, and sets depth to
// one more than the deepest child — the iterative levelwise sweep
// spec.md §4.4 step 6 calls for on sqlite (postgres may instead use a
// recursive CTE; both converge to the same depth values).
func updateProcessDepth(ctx context.Context, tx database.Transaction, id string) error {
	rows, err := tx.QueryAll(ctx, `SELECT p.depth AS depth FROM process_child pc
		JOIN processes p ON p.id = pc.child_id WHERE pc.process_id = ?`, id)
	if err != nil {
		return fmt.Errorf("read child depths for %s: %w", id, err)
	}
	maxChildDepth := int64(-1)
	for _, row := range rows {
		if d, ok := row["depth"].(int64); ok && d > maxChildDepth {
			maxChildDepth = d
		}
	}
	_, err = tx.Execute(ctx, `UPDATE processes SET depth = ? WHERE id = ?`, maxChildDepth+1, id)
	if err != nil {
		return fmt.Errorf("update depth for %s: %w", id, err)
	}
	return nil
}

// recomputeSubtreeMetadata fills in subtree_count/size for every
// object this batch touched whose children already have their own
// subtree metadata set (spec.md §4.4 step 5); entities with an
// incomplete child are left null for a later batch to finish once
// that child's own metadata lands.
func recomputeSubtreeMetadata(ctx context.Context, tx database.Transaction, ordered []Message) error {
	for _, m := range ordered {
		if m.PutObject == nil {
			continue
		}
		id := m.PutObject.ID
		children := m.PutObject.Children
		if len(children) == 0 {
			if _, err := tx.Execute(ctx, `UPDATE objects SET subtree_count = 1, subtree_size = bytes_len WHERE id = ?`, id); err != nil {
				return fmt.Errorf("set leaf subtree metadata %s: %w", id, err)
			}
			continue
		}
		ready := true
		var count, size int64 = 1, m.PutObject.BytesLen
		for _, child := range children {
			row, ok, err := tx.QueryOptional(ctx, `SELECT subtree_count AS subtree_count, subtree_size AS subtree_size FROM objects WHERE id = ?`, child)
			if err != nil {
				return fmt.Errorf("read child subtree metadata %s: %w", child, err)
			}
			if !ok || row["subtree_count"] == nil {
				ready = false
				break
			}
			if c, ok := row["subtree_count"].(int64); ok {
				count += c
			}
			if s, ok := row["subtree_size"].(int64); ok {
				size += s
			}
		}
		if !ready {
			continue
		}
		if _, err := tx.Execute(ctx, `UPDATE objects SET subtree_count = ?, subtree_size = ? WHERE id = ?`, count, size, id); err != nil {
			return fmt.Errorf("set subtree metadata %s: %w", id, err)
		}
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
