package postgresql

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

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Store persists the datastore snapshot in a single PostgreSQL row.
type Store struct {
	db      *sql.DB
	dialect *Dialect
	DSN     string
	Table   string
	now     func() time.Time
}

// NewStore creates a new PostgreSQL store
func NewStore() *Store {
	return &Store{
		dialect: NewDialect(),
		Table:   constants.DefaultStateTable,
		now:     time.Now,
	}
}

// Load loads configuration into the PostgreSQL store
func (p *Store) Load(config map[string]interface{}) error {
	var c Config
	if err := mapstructure.Decode(config, &c); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}
	if dsn := c.BuildDSN(); dsn != "" {
		p.DSN = dsn
	}
	if c.Table != "" {
		p.Table = c.Table
	}
	return nil
}

// Validate checks the DSN and table name
func (p *Store) Validate() error {
	if p.DSN == "" {
		return errors.New("postgres store requires a dsn or host")
	}
	if !tableNameRe.MatchString(p.Table) {
		return fmt.Errorf("invalid postgres table name %q", p.Table)
	}
	return nil
}

// Connect establishes a connection to PostgreSQL and ensures the schema.
func (p *Store) Connect(ctx context.Context) error {
	if err := p.Validate(); err != nil {
		return err
	}
	db, err := p.dialect.Connect(ctx, p.DSN)
	if err != nil {
		return err
	}
	p.db = db

	if err := p.Ensure(ctx); err != nil {
		_ = db.Close()
		p.db = nil
		return err
	}

	common.GetLogger().WithStore(p.dialect.GetDriverName()).Info("PostgreSQL datastore ready", "table", p.Table)
	return nil
}

// Ensure creates the snapshot table
func (p *Store) Ensure(ctx context.Context) error {
	logger := common.GetLogger().WithStore(p.dialect.GetDriverName())
	// #nosec G201 -- table identifier validated by Validate
	q := p.dialect.GetEnsureStatement(p.Table)
	logger.Debug("ensuring PostgreSQL datastore schema", "sql", q)
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		logger.Error("failed to create datastore table", "error", err, "table", p.Table)
		return fmt.Errorf("failed to create table %s: %w", p.Table, err)
	}
	return nil
}

// Read returns the stored snapshot, or nil when none has been written.
func (p *Store) Read(ctx context.Context) ([]byte, error) {
	if p.db == nil {
		return nil, errors.New("postgres store not connected")
	}
	var data string
	err := p.db.QueryRowContext(ctx, p.dialect.GetSelectStatement(p.Table), constants.DefaultSnapshotRow).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read datastore: %w", err)
	}
	return []byte(data), nil
}

// Write replaces the stored snapshot in one statement.
func (p *Store) Write(ctx context.Context, data []byte) error {
	if p.db == nil {
		return errors.New("postgres store not connected")
	}
	logger := common.GetLogger().WithStore(p.dialect.GetDriverName())
	_, err := p.db.ExecContext(ctx, p.dialect.GetUpsertStatement(p.Table),
		constants.DefaultSnapshotRow, string(data), p.dialect.ConvertTimeToStorage(p.now()))
	if err != nil {
		logger.Error("failed to write datastore", "error", err)
		return fmt.Errorf("failed to write datastore: %w", err)
	}
	logger.Debug("datastore written", "bytes", len(data))
	return nil
}

// Close closes the database connection
func (p *Store) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		return err
	}
	return nil
}
