package process

import (
	"context"
	"fmt"
	"time"

	"github.com/tangramdotdev/tangram/pkg/database"
	"github.com/tangramdotdev/tangram/pkg/metrics"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

// Runner is the execution boundary the process engine calls into once
// a process has acquired a permit and is ready to run. pkg/runtime
// implements this against a real execution driver; Manager treats a
// nil Runner as "no driver configured" and leaves the process started
// until something calls FinishProcess or CancelProcess directly.
type Runner interface {
	Run(ctx context.Context, id, command string) (exit int, output string, err error)
}

// Get loads a process's current row.
func (m *Manager) Get(ctx context.Context, id string) (*Process, error) {
	conn, err := m.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	if err != nil {
		return nil, fmt.Errorf("acquire get connection: %w", err)
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin get transaction: %w", err)
	}
	defer tx.Rollback()
	row, ok, err := tx.QueryOptional(ctx, `SELECT id, command, status, exit, error_code FROM processes WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get process %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	p := &Process{ID: id, Command: asString(row["command"]), Status: Status(asString(row["status"]))}
	if v, ok := row["exit"].(int64); ok {
		e := int(v)
		p.Exit = &e
	}
	p.ErrorCode = tgerror.Code(asString(row["error_code"]))
	return p, nil
}

// Objects returns the objects id references, as recorded locally by
// recordProcessObjects when the process was created or reused. Callers
// that need up-to-date kind tagging for materialization (pkg/checkout)
// use this instead of waiting on the indexer's own projection.
func (m *Manager) Objects(ctx context.Context, id string) ([]ObjectRef, error) {
	conn, err := m.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	if err != nil {
		return nil, fmt.Errorf("acquire objects connection: %w", err)
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin objects transaction: %w", err)
	}
	defer tx.Rollback()
	rows, err := tx.QueryAll(ctx, `SELECT object, kind FROM process_objects WHERE process = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query objects for %s: %w", id, err)
	}
	out := make([]ObjectRef, 0, len(rows))
	for _, row := range rows {
		out = append(out, ObjectRef{ID: asString(row["object"]), Kind: asString(row["kind"])})
	}
	return out, nil
}

// StartProcess transitions id from enqueued to started.
func (m *Manager) StartProcess(ctx context.Context, id string) error {
	now := time.Now()
	return m.transition(ctx, id, `UPDATE processes SET status = ?, started_at = ?, heartbeat_at = ?, touched_at = ? WHERE id = ?`,
		string(StatusStarted), now.UnixNano(), now.UnixNano(), now.UnixNano(), id)
}

// FinishProcess transitions id to finished with the given outcome.
func (m *Manager) FinishProcess(ctx context.Context, id string, arg FinishArg) error {
	now := time.Now()
	err := m.transition(ctx, id,
		`UPDATE processes SET status = ?, exit = ?, error_code = ?, error_data = ?, output = ?, finished_at = ?, touched_at = ? WHERE id = ?`,
		string(StatusFinished), arg.Exit, nullableCode(arg.ErrorCode), nullableString(arg.ErrorData), nullableString(arg.Output), now.UnixNano(), now.UnixNano(), id)
	if err != nil {
		return err
	}
	m.Permits.Forget(id)
	m.streams.Publish(id, Event{Kind: "status", Data: StatusFinished})
	return nil
}

// CancelProcess transitions id (and, transitively, its non-finished
// children) to finished with error.code=cancellation, per spec.md §5:
// "Cancelled processes are moved to status=finished,
// error.code=cancellation."
func (m *Manager) CancelProcess(ctx context.Context, id string, arg CancelArg) error {
	if arg.Token != "" {
		if bound, ok := m.Tokens.Resolve(arg.Token); ok && bound != id {
			return fmt.Errorf("token does not match process %s", id)
		}
	}
	return m.cancelTree(ctx, id)
}

func (m *Manager) cancelTree(ctx context.Context, id string) error {
	if err := m.FinishProcess(ctx, id, FinishArg{Exit: 1, ErrorCode: tgerror.CodeCancellation}); err != nil {
		return err
	}
	conn, err := m.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	if err != nil {
		return fmt.Errorf("acquire cancel-cascade connection: %w", err)
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return fmt.Errorf("begin cancel-cascade transaction: %w", err)
	}
	rows, err := tx.QueryAll(ctx, `SELECT process_children.child AS child FROM process_children
		JOIN processes ON processes.id = process_children.child
		WHERE process_children.process = ? AND processes.status != ?`, id, string(StatusFinished))
	tx.Rollback()
	if err != nil {
		return fmt.Errorf("list unfinished children of %s: %w", id, err)
	}
	for _, row := range rows {
		child := asString(row["child"])
		if err := m.cancelTree(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// Heartbeat records that id is still running, per spec.md §5/§4.6.
func (m *Manager) Heartbeat(ctx context.Context, id string) error {
	now := time.Now()
	return m.transition(ctx, id, `UPDATE processes SET heartbeat_at = ?, touched_at = ? WHERE id = ?`,
		now.UnixNano(), now.UnixNano(), id)
}

func (m *Manager) transition(ctx context.Context, id, stmt string, args ...any) error {
	conn, err := m.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		return fmt.Errorf("acquire transition connection: %w", err)
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return fmt.Errorf("begin transition transaction: %w", err)
	}
	if _, err := tx.Execute(ctx, stmt, args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("transition process %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition for %s: %w", id, err)
	}
	return nil
}

// WaitProcess suspends until id's status becomes finished, per
// spec.md §4.6: "wait_process(id) -> Future<Output>". It wakes on
// the status broker event, with a polling fallback so a wait started
// after the finishing event still observes the already-finished row.
func (m *Manager) WaitProcess(ctx context.Context, id string) (*Process, error) {
	if err := m.waitUntilFinished(ctx, id); err != nil {
		return nil, err
	}
	return m.Get(ctx, id)
}

func (m *Manager) waitUntilFinished(ctx context.Context, id string) error {
	events, cancel := m.streams.Subscribe(id)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		p, err := m.Get(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("process %s not found", id)
		}
		if p.Status.IsFinished() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-events:
		case <-ticker.C:
		}
	}
}

// spawnProcessTask starts id running under permit once a permit has
// been acquired, invoking the configured Runner if any.
func (m *Manager) spawnProcessTask(id string, permit *Permit) {
	metrics.ProcessRunningGauge.Inc()
	go func() {
		defer metrics.ProcessRunningGauge.Dec()
		defer permit.Release()
		if m.Runner == nil {
			return
		}
		ctx := context.Background()
		p, err := m.Get(ctx, id)
		if err != nil || p == nil {
			return
		}
		exit, output, runErr := m.Runner.Run(ctx, id, p.Command)
		arg := FinishArg{Exit: exit, Output: output}
		if runErr != nil {
			arg.ErrorCode = tgerror.CodeOther
			arg.ErrorData = runErr.Error()
		}
		if err := m.FinishProcess(ctx, id, arg); err != nil {
			m.logger.Error().Err(err).Str("process", id).Msg("failed to record process completion")
		}
	}()
}

func (m *Manager) spawnProcessCreatedMessageTask() {
	if m.messenger == nil {
		return
	}
	go func() {
		_ = m.messenger.Publish(context.Background(), "processes.created", nil)
	}()
}

// spawnProcessParentPermitTask waits for the parent's per-process
// permit to become available, then starts and runs the process — the
// deferred path taken when create_local_process could not acquire a
// permit immediately, per spec.md §4.6 step 4.
func (m *Manager) spawnProcessParentPermitTask(arg SpawnArg, id string) {
	go func() {
		ctx := context.Background()
		permit, err := m.Permits.Acquire(ctx, arg.Parent)
		if err != nil {
			return
		}
		if err := m.StartProcess(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("process", id).Msg("failed to start process after acquiring parent permit")
			permit.Release()
			return
		}
		m.streams.Publish(id, Event{Kind: "status", Data: StatusStarted})
		m.spawnProcessTask(id, permit)
	}()
}
