package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// sqliteActor owns exactly one *sql.Conn and a channel of work items;
// every statement that touches the connection runs inside the
// actor's own goroutine, so concurrent callers never race over the
// same SQLite connection, and the channel itself is the "synchronous
// subchannel" spec.md §4.3 asks transactions to serialize through.
type sqliteActor struct {
	conn      *sql.Conn
	cmds      chan sqliteCmd
	stmtCache map[string]*sql.Stmt
}

type sqliteCmd struct {
	fn   func(conn *sql.Conn) (any, error)
	resp chan sqliteResult
}

type sqliteResult struct {
	val any
	err error
}

func newSQLiteActor(ctx context.Context, db *sql.DB) (*sqliteActor, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire sqlite connection: %w", err)
	}
	a := &sqliteActor{conn: conn, cmds: make(chan sqliteCmd), stmtCache: make(map[string]*sql.Stmt)}
	go a.run()
	return a, nil
}

func (a *sqliteActor) run() {
	for cmd := range a.cmds {
		val, err := cmd.fn(a.conn)
		cmd.resp <- sqliteResult{val: val, err: err}
	}
}

func (a *sqliteActor) submit(fn func(conn *sql.Conn) (any, error)) (any, error) {
	resp := make(chan sqliteResult, 1)
	a.cmds <- sqliteCmd{fn: fn, resp: resp}
	r := <-resp
	return r.val, r.err
}

// prepare returns the connection-scoped cached *sql.Stmt for stmt,
// preparing it once. Must only be called from within the actor's own
// goroutine (i.e. from inside a submitted fn).
func (a *sqliteActor) prepare(ctx context.Context, stmt string) (*sql.Stmt, error) {
	if s, ok := a.stmtCache[stmt]; ok {
		return s, nil
	}
	s, err := a.conn.PrepareContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	a.stmtCache[stmt] = s
	return s, nil
}

func (a *sqliteActor) close() error {
	_, err := a.submit(func(conn *sql.Conn) (any, error) {
		return nil, conn.Close()
	})
	close(a.cmds)
	return err
}

// SQLiteDatabase is the Database backend for the single-writer,
// pooled-reader arrangement spec.md §4.3 describes for SQLite.
type SQLiteDatabase struct {
	db         *sql.DB
	writer     *sqliteActor
	readers    []*sqliteActor
	nextReader uint64
}

// OpenSQLite opens path, starting one writer actor and readerCount
// reader actors (minimum 1).
func OpenSQLite(ctx context.Context, path string, readerCount int) (*SQLiteDatabase, error) {
	if readerCount < 1 {
		readerCount = 1
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	writer, err := newSQLiteActor(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	readers := make([]*sqliteActor, readerCount)
	for i := range readers {
		readers[i], err = newSQLiteActor(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLiteDatabase{db: db, writer: writer, readers: readers}, nil
}

func (d *SQLiteDatabase) Connection(ctx context.Context, kind Kind, priority Priority) (Connection, error) {
	if kind == KindWrite {
		return &sqliteConnection{actor: d.writer}, nil
	}
	idx := atomic.AddUint64(&d.nextReader, 1) % uint64(len(d.readers))
	return &sqliteConnection{actor: d.readers[idx]}, nil
}

func (d *SQLiteDatabase) Close() error {
	if err := d.writer.close(); err != nil {
		return err
	}
	for _, r := range d.readers {
		if err := r.close(); err != nil {
			return err
		}
	}
	return d.db.Close()
}

type sqliteConnection struct {
	actor *sqliteActor
}

func (c *sqliteConnection) Transaction(ctx context.Context) (Transaction, error) {
	val, err := c.actor.submit(func(conn *sql.Conn) (any, error) {
		return conn.BeginTx(ctx, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteTransaction{actor: c.actor, tx: val.(*sql.Tx)}, nil
}

func (c *sqliteConnection) Close() error { return nil }

type sqliteTransaction struct {
	actor *sqliteActor
	tx    *sql.Tx
}

func (t *sqliteTransaction) stmt(ctx context.Context, text string) (*sql.Stmt, error) {
	base, err := t.actor.prepare(ctx, text)
	if err != nil {
		return nil, err
	}
	return t.tx.StmtContext(ctx, base), nil
}

func (t *sqliteTransaction) Execute(ctx context.Context, text string, args ...any) (int64, error) {
	val, err := t.actor.submit(func(conn *sql.Conn) (any, error) {
		s, err := t.stmt(ctx, text)
		if err != nil {
			return nil, err
		}
		res, err := s.ExecContext(ctx, args...)
		if err != nil {
			return nil, err
		}
		return res.RowsAffected()
	})
	if err != nil {
		return 0, err
	}
	return val.(int64), nil
}

func (t *sqliteTransaction) QueryAll(ctx context.Context, text string, args ...any) ([]Row, error) {
	val, err := t.actor.submit(func(conn *sql.Conn) (any, error) {
		s, err := t.stmt(ctx, text)
		if err != nil {
			return nil, err
		}
		rows, err := s.QueryContext(ctx, args...)
		if err != nil {
			return nil, err
		}
		return scanRows(rows)
	})
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}
	return val.([]Row), nil
}

func (t *sqliteTransaction) QueryOptional(ctx context.Context, text string, args ...any) (Row, bool, error) {
	rows, err := t.QueryAll(ctx, text, args...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (t *sqliteTransaction) QueryOne(ctx context.Context, text string, args ...any) (Row, error) {
	row, ok, err := t.QueryOptional(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func (t *sqliteTransaction) Commit() error {
	_, err := t.actor.submit(func(conn *sql.Conn) (any, error) {
		return nil, t.tx.Commit()
	})
	return err
}

func (t *sqliteTransaction) Rollback() error {
	_, err := t.actor.submit(func(conn *sql.Conn) (any, error) {
		return nil, t.tx.Rollback()
	})
	return err
}
