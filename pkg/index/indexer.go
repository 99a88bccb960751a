package index

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/log"
	"github.com/tangramdotdev/tangram/pkg/messenger"
	"github.com/tangramdotdev/tangram/pkg/metrics"
)

// Indexer drains the "index" subject of a Messenger and applies what
// it reads against a Database. Structured the way
// cuemby-warren/pkg/reconciler structures its own background loop:
// Start spawns run() in a goroutine, Stop closes a stop channel, and
// every cycle is timed and logs-but-continues on error, except here
// the cycle is a message-channel drain instead of a ticker.
type Indexer struct {
	sub    messenger.Subscription
	db     database.Database
	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}

	// MaxBatchCount and MaxBatchBytes bound how much a single drain
	// collects before applying; MaxBatchDelay bounds how long the
	// indexer waits for a batch to fill before applying a partial one.
	MaxBatchCount int
	MaxBatchBytes int
	MaxBatchDelay time.Duration
}

// New constructs an Indexer subscribed to subject "index" on m,
// applying batches against db. Callers should call EnsureSchema
// against a write connection before Start.
func New(ctx context.Context, m messenger.Messenger, db database.Database) (*Indexer, error) {
	sub, err := m.Subscribe(ctx, "index")
	if err != nil {
		return nil, err
	}
	return &Indexer{
		sub:           sub,
		db:            db,
		logger:        log.WithComponent("index"),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		MaxBatchCount: 512,
		MaxBatchBytes: 8 << 20,
		MaxBatchDelay: 50 * time.Millisecond,
	}, nil
}

// Start begins the drain loop in a background goroutine.
func (ix *Indexer) Start(ctx context.Context) {
	go ix.run(ctx)
}

// Stop signals the drain loop to exit after its current batch, then
// waits for it to finish (cancellation-safe at transaction boundaries
// only, per spec.md §4.4).
func (ix *Indexer) Stop() {
	close(ix.stopCh)
	<-ix.doneCh
}

func (ix *Indexer) run(ctx context.Context) {
	defer close(ix.doneCh)
	ix.logger.Info().Msg("indexer started")
	for {
		batch, ok := ix.drainBatch(ctx)
		if len(batch) > 0 {
			if err := ix.applyAndObserve(ctx, batch); err != nil {
				ix.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("indexer batch application failed")
			}
		}
		if !ok {
			ix.logger.Info().Msg("indexer stopped")
			return
		}
	}
}

// DrainOnce applies whatever is immediately available on the "index"
// subject without waiting for MaxBatchDelay, then returns. Used by
// pkg/checkout's completeness gate (spec.md §4.7 step 1, "run the
// indexer once") to flush pending PutObject/PutProcess messages before
// deciding whether an artifact is complete, without running the full
// background drain loop.
func (ix *Indexer) DrainOnce(ctx context.Context) error {
	var batch []Message
	bytes := 0
	for {
		select {
		case raw, ok := <-ix.sub.Messages():
			if !ok {
				goto apply
			}
			m, err := decodeMessage(raw.Data)
			if err != nil {
				ix.logger.Error().Err(err).Msg("dropping malformed index message")
				continue
			}
			batch = append(batch, m)
			bytes += m.approxBytes()
			if len(batch) >= ix.MaxBatchCount || bytes >= ix.MaxBatchBytes {
				goto apply
			}
		default:
			goto apply
		}
	}
apply:
	if len(batch) == 0 {
		return nil
	}
	return ix.applyAndObserve(ctx, batch)
}

// drainBatch collects messages until MaxBatchCount, MaxBatchBytes, or
// MaxBatchDelay is hit, or the subscription/stop channel closes. The
// returned bool is false once the indexer should exit after applying
// whatever it collected.
func (ix *Indexer) drainBatch(ctx context.Context) ([]Message, bool) {
	var batch []Message
	bytes := 0
	timer := time.NewTimer(ix.MaxBatchDelay)
	defer timer.Stop()
	for {
		select {
		case raw, ok := <-ix.sub.Messages():
			if !ok {
				return batch, false
			}
			m, err := decodeMessage(raw.Data)
			if err != nil {
				ix.logger.Error().Err(err).Msg("dropping malformed index message")
				continue
			}
			batch = append(batch, m)
			bytes += m.approxBytes()
			if len(batch) >= ix.MaxBatchCount || bytes >= ix.MaxBatchBytes {
				return batch, true
			}
		case <-timer.C:
			return batch, true
		case <-ix.stopCh:
			return batch, false
		case <-ctx.Done():
			return batch, false
		}
	}
}

func (ix *Indexer) applyAndObserve(ctx context.Context, batch []Message) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.IndexBatchDuration)
		metrics.IndexBatchesTotal.Inc()
		metrics.IndexMessagesTotal.Add(float64(len(batch)))
	}()

	conn, err := ix.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		return err
	}
	defer conn.Close()
	return ApplyBatch(ctx, conn, batch)
}
