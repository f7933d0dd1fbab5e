package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/store/postgresql"
	"github.com/loykin/psicash/internal/store/redis"
	"github.com/loykin/psicash/internal/store/sqlite"
	"github.com/loykin/psicash/internal/util"
)

// Persister is the durable home of the datastore snapshot. Read returns
// nil, nil when nothing has been stored yet. Write must be durable before
// it returns.
type Persister interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// connector is implemented by the database-backed persisters.
type connector interface {
	Persister
	Load(config map[string]interface{}) error
	Connect(ctx context.Context) error
}

// Open builds and connects the persister named by cfg.Driver. A nil config
// or empty driver yields an in-memory persister.
func Open(ctx context.Context, cfg *Config) (Persister, error) {
	if cfg == nil {
		return NewMemory(), nil
	}
	var driverMap map[string]interface{}
	if cfg.DriverConfig != nil {
		driverMap = cfg.DriverConfig.ToMap()
	}

	logger := common.GetLogger().WithComponent("store")
	driver := util.TrimAndLower(cfg.Driver)

	var c connector
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverFile:
		var fc FileConfig
		if err := mapstructure.Decode(driverMap, &fc); err != nil {
			return nil, fmt.Errorf("invalid file store config: %w", err)
		}
		return NewFile(util.TrimWithDefault(fc.Path, constants.DefaultStateFile)), nil
	case DriverSQLite:
		c = sqlite.NewStore()
		if driverMap == nil {
			driverMap = map[string]interface{}{"path": constants.DefaultSQLiteFile}
		}
	case DriverPostgres, DriverPostgreSQL:
		c = postgresql.NewStore()
	case DriverRedis:
		c = redis.NewStore()
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	if driverMap != nil {
		if err := c.Load(driverMap); err != nil {
			return nil, err
		}
	}
	if err := c.Connect(ctx); err != nil {
		logger.Error("failed to open datastore", "error", err, "driver", driver)
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	return c, nil
}

// Memory keeps the snapshot in process memory.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Read(_ context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil, nil
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Write(_ context.Context, data []byte) error {
	m.mu.Lock()
	m.data = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

// File keeps the snapshot in a JSON file, replaced atomically with
// write-to-temp and rename.
type File struct {
	mu   sync.Mutex
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path
func (f *File) Path() string { return f.path }

func (f *File) Read(_ context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read datastore: %w", err)
	}
	return data, nil
}

func (f *File) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create datastore directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp datastore: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write datastore: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync datastore: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close datastore: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace datastore: %w", err)
	}
	return nil
}

func (f *File) Close() error { return nil }
