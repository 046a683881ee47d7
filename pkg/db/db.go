package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	sqliteBusyTimeoutMS = 5000
	connMaxLifetime     = 5 * time.Minute
)

// DB defines the interface for database operations.
type DB interface {
	// Driver names the SQL dialect behind the connection.
	Driver() string

	// Exec executes a query without returning rows.
	// args are for parameterized queries to prevent SQL injection.
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)

	// Query executes a query that returns rows.
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

	// QueryRow executes a query that returns a single row.
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row

	// BeginTx starts a transaction.
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)

	// Close closes the database connection.
	Close() error
}

// Tx defines the interface for database transactions.
type Tx interface {
	Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row
	Commit() error
	Rollback() error
}

// SQLDB implements DB over database/sql. Queries are written with '?'
// placeholders and rebound for the driver.
type SQLDB struct {
	db     *sql.DB
	driver string
}

// Open connects to driver using dsn and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*SQLDB, error) {
	switch driver {
	case DriverPostgres:
		return open(ctx, driver, dsn, nil)
	case DriverSQLite:
		sqliteDSN, err := sqliteDSN(dsn)
		if err != nil {
			return nil, err
		}
		return open(ctx, driver, sqliteDSN, configureSQLite)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
}

func open(ctx context.Context, driver, dsn string, configure func(*sql.DB) error) (*SQLDB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if configure != nil {
		if err := configure(db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLDB{db: db, driver: driver}, nil
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", sqliteBusyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	// Tune connection pool for a single local writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(connMaxLifetime)
	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("db path is required")
	}
	if strings.HasPrefix(path, "file:") {
		return path, nil
	}
	u := url.URL{Scheme: "file", Path: path}
	return u.String(), nil
}

// Driver names the SQL dialect behind the connection.
func (s *SQLDB) Driver() string {
	return s.driver
}

// Rebind rewrites '?' placeholders into the driver's syntax.
func (s *SQLDB) Rebind(query string) string {
	return Rebind(s.driver, query)
}

// Exec executes a query without returning rows.
func (s *SQLDB) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.Rebind(query), args...)
}

// Query executes a query that returns rows.
func (s *SQLDB) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.Rebind(query), args...)
}

// QueryRow executes a query that returns a single row.
func (s *SQLDB) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.Rebind(query), args...)
}

// BeginTx starts a transaction.
func (s *SQLDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &SQLTx{tx: tx, driver: s.driver}, nil
}

// Close closes the database connection.
func (s *SQLDB) Close() error {
	return s.db.Close()
}

// SQLTx implements Tx.
type SQLTx struct {
	tx     *sql.Tx
	driver string
}

// Exec executes a query within the transaction.
func (t *SQLTx) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, Rebind(t.driver, query), args...)
}

// Query executes a query that returns rows within the transaction.
func (t *SQLTx) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, Rebind(t.driver, query), args...)
}

// QueryRow executes a query that returns a single row within the transaction.
func (t *SQLTx) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return t.tx.QueryRowContext(ctx, Rebind(t.driver, query), args...)
}

// Commit commits the transaction.
func (t *SQLTx) Commit() error {
	return t.tx.Commit()
}

// Rollback rolls back the transaction.
func (t *SQLTx) Rollback() error {
	return t.tx.Rollback()
}

// Rebind converts '?' placeholders to '$n' for PostgreSQL. Placeholders inside
// single-quoted literals are left alone.
func Rebind(driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
