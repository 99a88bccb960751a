package process

import (
	"context"
	"time"

	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// HeartbeatMonitor periodically sweeps running processes for stale
// heartbeats and expires them: a ticker drives a sweep, and the sweep
// acts on the current set of running entities rather than tracking
// per-entity goroutines, since a process's heartbeat is just a
// timestamp column rather than an active check that needs its own
// cancelable context.
//
// Supplemented from original_source/ (spec.md §5 names heartbeat
// expiration but leaves the threshold and child-cancellation
// behavior to the implementation): the default interval is 30
// seconds, and a process is expired after missing 3 consecutive
// heartbeats, at which point every non-finished child is cancelled
// transitively.
type HeartbeatMonitor struct {
	manager *Manager
	stopCh  chan struct{}
	doneCh  chan struct{}

	Interval    time.Duration
	MissedLimit int
}

// NewHeartbeatMonitor constructs a monitor over m with the default
// 30-second interval and a 3-miss expiration threshold.
func NewHeartbeatMonitor(m *Manager) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		manager:     m,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		Interval:    30 * time.Second,
		MissedLimit: 3,
	}
}

// Start begins the sweep loop in a background goroutine.
func (h *HeartbeatMonitor) Start() {
	go h.run()
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (h *HeartbeatMonitor) Stop() {
	close(h.stopCh)
	<-h.doneCh
}

func (h *HeartbeatMonitor) run() {
	defer close(h.doneCh)
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.sweep(context.Background()); err != nil {
				h.manager.logger.Error().Err(err).Msg("heartbeat sweep failed")
			}
		case <-h.stopCh:
			return
		}
	}
}

// sweep expires every started process whose heartbeat_at is older
// than MissedLimit*Interval, cancelling its non-finished children
// transitively.
func (h *HeartbeatMonitor) sweep(ctx context.Context) error {
	threshold := time.Now().Add(-time.Duration(h.MissedLimit) * h.Interval)

	conn, err := h.manager.db.Connection(ctx, database.KindRead, database.PriorityLow)
	if err != nil {
		return err
	}
	tx, err := conn.Transaction(ctx)
	if err != nil {
		conn.Close()
		return err
	}
	rows, err := tx.QueryAll(ctx, `SELECT id FROM processes WHERE status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		string(StatusStarted), threshold.UnixNano())
	tx.Rollback()
	conn.Close()
	if err != nil {
		return err
	}

	for _, row := range rows {
		id := asString(row["id"])
		if err := h.expire(ctx, id); err != nil {
			h.manager.logger.Error().Err(err).Str("process", id).Msg("failed to expire process heartbeat")
			continue
		}
		metrics.ProcessHeartbeatExpirationsTotal.Inc()
	}
	return nil
}

func (h *HeartbeatMonitor) expire(ctx context.Context, id string) error {
	if err := h.manager.FinishProcess(ctx, id, FinishArg{Exit: 1, ErrorCode: tgerror.CodeHeartbeatExpiration}); err != nil {
		return err
	}
	return h.manager.cancelNonFinishedChildren(ctx, id)
}

// cancelNonFinishedChildren cancels every direct child of id that is
// not already finished, recursively.
func (m *Manager) cancelNonFinishedChildren(ctx context.Context, id string) error {
	conn, err := m.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	if err != nil {
		return err
	}
	tx, err := conn.Transaction(ctx)
	if err != nil {
		conn.Close()
		return err
	}
	rows, err := tx.QueryAll(ctx, `SELECT process_children.child AS child FROM process_children
		JOIN processes ON processes.id = process_children.child
		WHERE process_children.process = ? AND processes.status != ?`, id, string(StatusFinished))
	tx.Rollback()
	conn.Close()
	if err != nil {
		return err
	}
	for _, row := range rows {
		child := asString(row["child"])
		if err := m.cancelTree(ctx, child); err != nil {
			return err
		}
	}
	return nil
}
