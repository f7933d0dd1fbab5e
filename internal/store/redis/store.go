package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/loykin/psicash/internal/common"
	"github.com/loykin/psicash/internal/constants"
)

// Store keeps the datastore snapshot under a single Redis key.
type Store struct {
	Client *goredis.Client
	cfg    Config
}

// NewStore creates a Redis store with default address and key
func NewStore() *Store {
	return &Store{cfg: Config{Addr: constants.DefaultRedisAddr, Key: constants.DefaultStateKey}}
}

// NewStoreWithClient wraps an existing client
func NewStoreWithClient(client *goredis.Client, key string) *Store {
	s := NewStore()
	s.Client = client
	if key != "" {
		s.cfg.Key = key
	}
	return s
}

// Load loads configuration into the Redis store
func (s *Store) Load(config map[string]interface{}) error {
	var c Config
	if err := mapstructure.Decode(config, &c); err != nil {
		return fmt.Errorf("invalid redis config: %w", err)
	}
	if c.Addr != "" {
		s.cfg.Addr = c.Addr
	}
	if c.Key != "" {
		s.cfg.Key = c.Key
	}
	s.cfg.Password = c.Password
	s.cfg.DB = c.DB
	return nil
}

// Key returns the key the snapshot is stored under
func (s *Store) Key() string {
	return s.cfg.Key
}

// Connect opens the client and verifies connectivity.
func (s *Store) Connect(ctx context.Context) error {
	if s.Client == nil {
		s.Client = goredis.NewClient(&goredis.Options{
			Addr:     s.cfg.Addr,
			Password: s.cfg.Password,
			DB:       s.cfg.DB,
		})
	}
	logger := common.GetLogger().WithStore("redis")
	if err := s.Client.Ping(ctx).Err(); err != nil {
		logger.Warn("unable to reach redis", "error", err, "addr", s.cfg.Addr)
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	logger.Info("Redis datastore ready", "addr", s.cfg.Addr, "key", s.cfg.Key)
	return nil
}

// Read returns the stored snapshot, or nil when the key is absent.
func (s *Store) Read(ctx context.Context) ([]byte, error) {
	if s.Client == nil {
		return nil, errors.New("redis client not configured")
	}
	data, err := s.Client.Get(ctx, s.cfg.Key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read datastore: %w", err)
	}
	return data, nil
}

// Write replaces the stored snapshot. SET is atomic on the server.
func (s *Store) Write(ctx context.Context, data []byte) error {
	if s.Client == nil {
		return errors.New("redis client not configured")
	}
	if err := s.Client.Set(ctx, s.cfg.Key, data, 0).Err(); err != nil {
		common.GetLogger().WithStore("redis").Error("failed to write datastore", "error", err)
		return fmt.Errorf("failed to write datastore: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	if s.Client == nil {
		return nil
	}
	err := s.Client.Close()
	s.Client = nil
	return err
}
