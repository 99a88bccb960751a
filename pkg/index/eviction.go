package index

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/tangramdotdev/tangram/pkg/database"
)

// PartitionCount is the number of eviction-queue shards the cleaner
// can sweep independently. A stable hash of the id selects the
// partition so a given id always lands in the same shard across
// enqueues, per spec.md §4.5.
const PartitionCount = 64

// PartitionOf returns the stable eviction-queue shard for id.
func PartitionOf(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % PartitionCount)
}

func partitionOf(id string) int { return PartitionOf(id) }

// EnqueueEviction upserts id's row in the eviction queue, used by step
// 7 of batch application for every entity a batch touches, and by
// pkg/clean to re-enqueue a child whose reference count dropped.
func EnqueueEviction(ctx context.Context, tx database.Transaction, kind, id string, touchedAt time.Time) error {
	return enqueueEviction(ctx, tx, kind, id, touchedAt)
}

func enqueueEviction(ctx context.Context, tx database.Transaction, kind, id string, touchedAtNano interface{ UnixNano() int64 }) error {
	_, err := tx.Execute(ctx, `INSERT INTO eviction_queue (entity_kind, entity_id, partition, touched_at, ref_count)
		VALUES (?, ?, ?, ?, 0)
		ON CONFLICT (entity_kind, entity_id) DO UPDATE SET
			partition = excluded.partition,
			touched_at = MAX(eviction_queue.touched_at, excluded.touched_at)`,
		kind, id, partitionOf(id), touchedAtNano.UnixNano())
	if err != nil {
		return fmt.Errorf("enqueue eviction for %s %s: %w", kind, id, err)
	}
	return nil
}
