package process

import (
	"context"
	"os"

	"github.com/tangramdotdev/tangram/pkg/database"
)

// PostLog appends data to id's log file (spec.md §6.3's
// logs/{process_id}) and publishes it to any subscriber streaming the
// process's log, the same append-then-publish shape FinishProcess
// uses for status transitions.
func (m *Manager) PostLog(ctx context.Context, id string, data []byte) error {
	f, err := os.OpenFile(m.logPath(id), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return err
	}
	m.streams.Publish(id, Event{Kind: "log", Data: data})
	return nil
}

// ReadLog returns id's full log file contents. A missing log file
// (no output posted yet) is not an error; it returns an empty slice.
func (m *Manager) ReadLog(ctx context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(m.logPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// Signal publishes a signal request to id's subscribers. Delivering
// the signal to the actual running command is the pkg/runtime
// collaborator's job; Manager only records and fans out the request.
func (m *Manager) Signal(ctx context.Context, id, signal string) error {
	m.streams.Publish(id, Event{Kind: "signal", Data: signal})
	return nil
}

// Children returns id's direct children in insertion order.
func (m *Manager) Children(ctx context.Context, id string) ([]string, error) {
	conn, err := m.db.Connection(ctx, database.KindRead, database.PriorityHigh)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	rows, err := tx.QueryAll(ctx, `SELECT child FROM process_children WHERE process = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, asString(row["child"]))
	}
	return out, nil
}

// List returns up to limit processes, most recently touched first.
// limit <= 0 defaults to 100.
func (m *Manager) List(ctx context.Context, limit int) ([]*Process, error) {
	if limit <= 0 {
		limit = 100
	}
	conn, err := m.db.Connection(ctx, database.KindRead, database.PriorityLow)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	rows, err := tx.QueryAll(ctx, `SELECT id, command, status, exit FROM processes ORDER BY touched_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*Process, 0, len(rows))
	for _, row := range rows {
		p := &Process{ID: asString(row["id"]), Command: asString(row["command"]), Status: Status(asString(row["status"]))}
		if v, ok := row["exit"].(int64); ok {
			e := int(v)
			p.Exit = &e
		}
		out = append(out, p)
	}
	return out, nil
}

// TryDequeue claims one enqueued process for a worker to run, atomically
// moving it to started. Returns ok=false if no process is enqueued.
func (m *Manager) TryDequeue(ctx context.Context) (string, bool, error) {
	conn, err := m.db.Connection(ctx, database.KindWrite, database.PriorityHigh)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()
	tx, err := conn.Transaction(ctx)
	if err != nil {
		return "", false, err
	}
	row, ok, err := tx.QueryOptional(ctx, `SELECT id FROM processes WHERE status = ? ORDER BY created_at LIMIT 1`, string(StatusEnqueued))
	if err != nil || !ok {
		tx.Rollback()
		return "", false, err
	}
	id := asString(row["id"])
	if _, err := tx.Execute(ctx, `UPDATE processes SET status = ? WHERE id = ?`, string(StatusStarted), id); err != nil {
		tx.Rollback()
		return "", false, err
	}
	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	m.streams.Publish(id, Event{Kind: "status", Data: StatusStarted})
	return id, true, nil
}
