package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/loykin/psicash/internal/constants"
	_ "modernc.org/sqlite"
)

// Dialect implements SQL dialect for SQLite
type Dialect struct{}

// NewDialect creates a new SQLite dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

// GetPlaceholder returns SQLite-style placeholders (?)
func (s *Dialect) GetPlaceholder() string {
	return "?"
}

// ConvertTimeToStorage converts time to SQLite storage format (RFC3339Nano string)
func (s *Dialect) ConvertTimeToStorage(t time.Time) interface{} {
	return t.UTC().Format(time.RFC3339Nano)
}

// Connect establishes a connection to SQLite with connection pooling
func (s *Dialect) Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(constants.DefaultSQLiteMaxConnections)
	db.SetMaxIdleConns(constants.DefaultSQLiteMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultSQLiteLifetime)
	db.SetConnMaxIdleTime(constants.DefaultSQLiteIdleTime)

	return db, nil
}

// GetEnsureStatement returns the snapshot table definition. The table holds a
// single row keyed by id.
func (s *Dialect) GetEnsureStatement(table string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY, data TEXT NOT NULL, updated_at TEXT NOT NULL)", table)
}

// GetSelectStatement returns the query reading the snapshot row
func (s *Dialect) GetSelectStatement(table string) string {
	return fmt.Sprintf("SELECT data FROM %s WHERE id = %s", table, s.GetPlaceholder())
}

// GetUpsertStatement returns the statement replacing the snapshot row
func (s *Dialect) GetUpsertStatement(table string) string {
	p := s.GetPlaceholder()
	return fmt.Sprintf("INSERT INTO %s(id, data, updated_at) VALUES(%s, %s, %s) ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at", table, p, p, p)
}

// GetDriverName returns the driver name for logging
func (s *Dialect) GetDriverName() string {
	return "sqlite"
}
