// Package clean implements the cleaner (spec.md §4.5): a background
// walker over the eviction queue pkg/index writes to. It partitions
// the queue by a stable hash of the id, recomputes each candidate's
// reference count from the edge tables, deletes entities with zero
// references (cascading the decrement to their children), and leaves
// the rest with a refreshed count.
package clean

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/index"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/store"
)

// Cleaner periodically sweeps one partition of the eviction queue.
// Structured the way cuemby-warren/pkg/scheduler structures its own
// ticker loop: Start spawns run() in a goroutine, Stop closes stopCh,
// every cycle is timed and logs-but-continues on error.
type Cleaner struct {
	db     database.Database
	store  store.Store
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}

	// Interval is the time between sweeps. BatchSize bounds how many
	// candidates one sweep reads from a partition. Watermark bounds
	// candidates to those touched at least this long ago, so entities
	// touched moments earlier by an in-flight indexer batch are not
	// raced against.
	Interval  time.Duration
	BatchSize int
	Watermark time.Duration

	nextPartition int
}

// New constructs a Cleaner over db's eviction_queue/edge tables and
// store for the store-side delete_batch step.
func New(db database.Database, st store.Store) *Cleaner {
	return &Cleaner{
		db:        db,
		store:     st,
		logger:    log.WithComponent("clean"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		Interval:  5 * time.Second,
		BatchSize: 256,
		Watermark: 30 * time.Second,
	}
}

// Start begins the sweep loop in a background goroutine.
func (c *Cleaner) Start() {
	go c.run()
}

// Stop signals the sweep loop to exit after its current sweep, then
// waits for it to finish.
func (c *Cleaner) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Cleaner) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	c.logger.Info().Msg("cleaner started")
	for {
		select {
		case <-ticker.C:
			partition := c.nextPartitionIndex()
			ctx := context.Background()
			timer := metrics.NewTimer()
			result, err := c.SweepPartition(ctx, partition, time.Now().Add(-c.Watermark))
			timer.ObserveDuration(metrics.CleanerSweepDuration)
			metrics.CleanerSweepsTotal.Inc()
			if err != nil {
				c.logger.Error().Err(err).Int("partition", partition).Msg("cleaner sweep failed")
				continue
			}
			if len(result.Objects) > 0 || len(result.Processes) > 0 || len(result.CacheEntries) > 0 {
				c.logger.Info().
					Int("partition", partition).
					Int("objects_deleted", len(result.Objects)).
					Int("processes_deleted", len(result.Processes)).
					Int("cache_entries_deleted", len(result.CacheEntries)).
					Msg("cleaner sweep complete")
			}
		case <-c.stopCh:
			c.logger.Info().Msg("cleaner stopped")
			return
		}
	}
}

func (c *Cleaner) nextPartitionIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.nextPartition
	c.nextPartition = (c.nextPartition + 1) % index.PartitionCount
	return p
}

// SweepResult is the set of entities a sweep deleted, per spec.md
// §4.5's output shape.
type SweepResult struct {
	CacheEntries []string
	Objects      []string
	Processes    []string
	Done         bool
}
