package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store persists the datastore snapshot in a single SQLite row.
type Store struct {
	db      *sql.DB
	dialect *Dialect
	DSN     string
	Table   string
	now     func() time.Time
}

// NewStore creates a new SQLite store
func NewStore() *Store {
	return &Store{
		dialect: NewDialect(),
		Table:   constants.DefaultStateTable,
		now:     time.Now,
	}
}

// Load loads configuration into the SQLite store. An explicit dsn wins over path.
func (s *Store) Load(config map[string]interface{}) error {
	var c Config
	if err := mapstructure.Decode(config, &c); err != nil {
		return fmt.Errorf("invalid sqlite config: %w", err)
	}
	if c.Table != "" {
		s.Table = c.Table
	}
	if c.DSN != "" {
		s.DSN = c.DSN
		return nil
	}
	if c.Path != "" {
		s.DSN = fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&%s", c.Path, busyTimeoutMS, journalPragma)
	}
	return nil
}

// Validate checks the table name before it is interpolated into SQL.
func (s *Store) Validate() error {
	if !tableNameRe.MatchString(s.Table) {
		return fmt.Errorf("invalid sqlite table name %q", s.Table)
	}
	return nil
}

// Connect establishes a connection to SQLite and ensures the schema.
func (s *Store) Connect(ctx context.Context) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.DSN == "" {
		// Default to in-memory database for testing
		s.DSN = ":memory:"
	}

	db, err := s.dialect.Connect(ctx, s.DSN)
	if err != nil {
		return err
	}
	s.db = db

	if err := s.Ensure(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}

	common.GetLogger().WithStore(s.dialect.GetDriverName()).Info("SQLite datastore ready", "table", s.Table)
	return nil
}

// Ensure creates the snapshot table
func (s *Store) Ensure(ctx context.Context) error {
	logger := common.GetLogger().WithStore(s.dialect.GetDriverName())
	q := s.dialect.GetEnsureStatement(s.Table)
	logger.Debug("ensuring SQLite datastore schema", "sql", q)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		logger.Error("failed to create datastore table", "error", err, "table", s.Table)
		return fmt.Errorf("failed to create table %s: %w", s.Table, err)
	}
	return nil
}

// Read returns the stored snapshot, or nil when none has been written.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	if s.db == nil {
		return nil, errors.New("sqlite store not connected")
	}
	var data string
	err := s.db.QueryRowContext(ctx, s.dialect.GetSelectStatement(s.Table), constants.DefaultSnapshotRow).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read datastore: %w", err)
	}
	return []byte(data), nil
}

// Write replaces the stored snapshot in one statement.
func (s *Store) Write(ctx context.Context, data []byte) error {
	if s.db == nil {
		return errors.New("sqlite store not connected")
	}
	logger := common.GetLogger().WithStore(s.dialect.GetDriverName())
	_, err := s.db.ExecContext(ctx, s.dialect.GetUpsertStatement(s.Table),
		constants.DefaultSnapshotRow, string(data), s.dialect.ConvertTimeToStorage(s.now()))
	if err != nil {
		logger.Error("failed to write datastore", "error", err)
		return fmt.Errorf("failed to write datastore: %w", err)
	}
	logger.Debug("datastore written", "bytes", len(data))
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}
