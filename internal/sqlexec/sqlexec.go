// Package sqlexec runs DDL statements against the target database inside a
// single transaction per change.
//
// The drivers for SQL Server, PostgreSQL, MySQL, Oracle and embedded SQLite
// are registered here. The driver name selects the connection, how "object
// does not exist" errors are recognized, and whether each statement runs
// under its own savepoint.
package sqlexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/sijms/go-ora/v2"
)

// Canonical driver names, as registered with database/sql.
const (
	SQLServer = "sqlserver"
	Postgres  = "postgres"
	MySQL     = "mysql"
	Oracle    = "oracle"
	SQLite    = "sqlite3"
)

// Tx is the transactional surface commands execute against.
type Tx interface {
	Exec(ctx context.Context, stmt string) error
	Commit() error
	Rollback() error
}

// Beginner opens transactions.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// TransactionalDDL reports whether DDL on driver can be rolled back. MySQL
// and Oracle commit implicitly around every DDL statement, so a failed change
// on those databases leaves the statements before the failure applied.
func TransactionalDDL(driver string) bool {
	return driver != MySQL && driver != Oracle
}

// statementSavepoints reports whether each statement must run under its own
// savepoint. A failed statement aborts the whole PostgreSQL transaction
// unless it is rolled back to a savepoint.
func statementSavepoints(driver string) bool {
	return driver == Postgres
}

// NormalizeDriver maps user-facing driver aliases to registered driver names.
func NormalizeDriver(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlserver", "mssql":
		return SQLServer, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "oracle":
		return Oracle, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// DB wraps a pooled connection to the target database.
type DB struct {
	conn       *sqlx.DB
	driver     string
	savepoints bool
}

// Open connects to the database and verifies the connection.
//
// The caller MUST call Close() when done.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	name, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", name, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", name, err)
	}

	// Changes are applied one at a time; a small pool is plenty.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if name == SQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	return &DB{conn: conn, driver: name, savepoints: statementSavepoints(name)}, nil
}

// Driver returns the registered driver name.
func (db *DB) Driver() string {
	return db.driver
}

// TransactionalDDL reports whether a failed change is fully rolled back.
func (db *DB) TransactionalDDL() bool {
	return TransactionalDDL(db.driver)
}

// RawDB returns the underlying connection pool.
func (db *DB) RawDB() *sqlx.DB {
	return db.conn
}

// Begin starts a transaction.
func (db *DB) Begin(ctx context.Context) (Tx, error) {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &transaction{tx: tx, driver: db.driver, savepoints: db.savepoints}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

const stmtSavepoint = "sqlwatch_stmt"

type transaction struct {
	tx         *sqlx.Tx
	driver     string
	savepoints bool
}

func (t *transaction) Exec(ctx context.Context, stmt string) error {
	if !t.savepoints {
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return Classify(t.driver, err)
		}
		return nil
	}

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+stmtSavepoint); err != nil {
		return fmt.Errorf("failed to set savepoint: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
		err = Classify(t.driver, err)
		if !IsObjectNotExist(err) {
			return err
		}
		// A missing object is harmless; undo the failure so later
		// statements still run in a live transaction.
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+stmtSavepoint); rbErr != nil {
			return fmt.Errorf("failed to roll back to savepoint: %w", rbErr)
		}
		if relErr := t.release(ctx); relErr != nil {
			return relErr
		}
		return err
	}
	return t.release(ctx)
}

func (t *transaction) release(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+stmtSavepoint); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (t *transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback is a no-op on a transaction that already finished.
func (t *transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	return nil
}
