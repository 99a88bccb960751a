package database

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresDatabase backs Database with gorm's native connection pool.
// Unlike SQLite, Postgres has no single-writer restriction, so Kind
// and Priority are accepted but do not change which pooled connection
// is handed out — "native pool; equivalent transaction semantics" per
// spec.md §4.3.
type PostgresDatabase struct {
	gormDB *gorm.DB
	sqlDB  *sql.DB
}

// OpenPostgres opens dsn via gorm's postgres driver and retrieves the
// underlying *sql.DB for raw statement execution.
func OpenPostgres(dsn string) (*PostgresDatabase, error) {
	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying sql.DB: %w", err)
	}
	return &PostgresDatabase{gormDB: gormDB, sqlDB: sqlDB}, nil
}

func (d *PostgresDatabase) Connection(ctx context.Context, kind Kind, priority Priority) (Connection, error) {
	conn, err := d.sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire postgres connection: %w", err)
	}
	return &postgresConnection{conn: conn}, nil
}

func (d *PostgresDatabase) Close() error {
	return d.sqlDB.Close()
}

type postgresConnection struct {
	conn      *sql.Conn
	stmtCache map[string]*sql.Stmt
}

func (c *postgresConnection) Transaction(ctx context.Context) (Transaction, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	if c.stmtCache == nil {
		c.stmtCache = make(map[string]*sql.Stmt)
	}
	return &postgresTransaction{conn: c.conn, tx: tx, stmtCache: c.stmtCache}, nil
}

func (c *postgresConnection) Close() error {
	return c.conn.Close()
}

// postgresTransaction keeps its own statement cache scoped to the
// owning connection, prepared lazily and reused for the life of the
// connection the same way sqliteActor does.
type postgresTransaction struct {
	conn      *sql.Conn
	tx        *sql.Tx
	stmtCache map[string]*sql.Stmt
}

func (t *postgresTransaction) prepared(ctx context.Context, text string) (*sql.Stmt, error) {
	if s, ok := t.stmtCache[text]; ok {
		return t.tx.StmtContext(ctx, s), nil
	}
	s, err := t.conn.PrepareContext(ctx, text)
	if err != nil {
		return nil, err
	}
	t.stmtCache[text] = s
	return t.tx.StmtContext(ctx, s), nil
}

func (t *postgresTransaction) Execute(ctx context.Context, text string, args ...any) (int64, error) {
	s, err := t.prepared(ctx, text)
	if err != nil {
		return 0, err
	}
	res, err := s.ExecContext(ctx, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (t *postgresTransaction) QueryAll(ctx context.Context, text string, args ...any) ([]Row, error) {
	s, err := t.prepared(ctx, text)
	if err != nil {
		return nil, err
	}
	rows, err := s.QueryContext(ctx, args...)
	if err != nil {
		return nil, err
	}
	return scanRows(rows)
}

func (t *postgresTransaction) QueryOptional(ctx context.Context, text string, args ...any) (Row, bool, error) {
	rows, err := t.QueryAll(ctx, text, args...)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (t *postgresTransaction) QueryOne(ctx context.Context, text string, args ...any) (Row, error) {
	row, ok, err := t.QueryOptional(ctx, text, args...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func (t *postgresTransaction) Commit() error   { return t.tx.Commit() }
func (t *postgresTransaction) Rollback() error { return t.tx.Rollback() }
