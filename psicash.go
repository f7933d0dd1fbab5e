package psicash

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/httpc"
	"github.com/loykin/psicash/internal/retry"
	"github.com/loykin/psicash/internal/store"
	"github.com/loykin/psicash/internal/store/postgresql"
	"github.com/loykin/psicash/internal/store/redis"
	"github.com/loykin/psicash/internal/store/sqlite"
	"github.com/loykin/psicash/internal/transaction"
	"github.com/loykin/psicash/internal/userinfo"
)

// Re-export commonly used types for public API

// Status is the outcome of a ledger operation.
type Status = transaction.Status

const (
	StatusInvalid                   = transaction.Invalid
	StatusSuccess                   = transaction.Success
	StatusExistingTransaction       = transaction.ExistingTransaction
	StatusInsufficientBalance       = transaction.InsufficientBalance
	StatusTransactionAmountMismatch = transaction.TransactionAmountMismatch
	StatusTransactionTypeNotFound   = transaction.TransactionTypeNotFound
	StatusInvalidTokens             = transaction.InvalidTokens
	StatusServerError               = transaction.ServerError
)

// Error is a classified failure (Invalid or ServerError).
type Error = transaction.Error

// ErrClosed is returned by every operation after Close.
var ErrClosed = transaction.ErrClosed

// StatusOf extracts the status carried by err.
func StatusOf(err error) Status { return transaction.StatusOf(err) }

type (
	TokenType      = userinfo.TokenType
	AuthTokens     = userinfo.AuthTokens
	PurchasePrice  = userinfo.PurchasePrice
	Purchase       = userinfo.Purchase
	RefreshResult  = transaction.RefreshResult
	PurchaseResult = transaction.PurchaseResult
)

const (
	TokenEarner    = userinfo.TokenEarner
	TokenIndicator = userinfo.TokenIndicator
	TokenSpender   = userinfo.TokenSpender
	TokenLogout    = userinfo.TokenLogout
	TokenAccount   = userinfo.TokenAccount
)

// Store driver names
const (
	DriverMemory   = store.DriverMemory
	DriverFile     = store.DriverFile
	DriverSQLite   = store.DriverSQLite
	DriverPostgres = store.DriverPostgres
	DriverRedis    = store.DriverRedis
)

type (
	RetryConfig    = retry.Config
	FileConfig     = store.FileConfig
	SqliteConfig   = sqlite.Config
	PostgresConfig = postgresql.Config
	RedisConfig    = redis.Config
)

// StoreConfig selects where the datastore snapshot lives.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	File     FileConfig     `mapstructure:"file" yaml:"file"`
	SQLite   SqliteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

// toStoreConfig picks the driver-specific section named by Driver.
func (c StoreConfig) toStoreConfig() *store.Config {
	out := &store.Config{Driver: c.Driver}
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case DriverFile:
		out.DriverConfig = &c.File
	case DriverSQLite:
		if c.SQLite.Path != "" || c.SQLite.DSN != "" || c.SQLite.Table != "" {
			out.DriverConfig = &c.SQLite
		}
	case DriverPostgres, store.DriverPostgreSQL:
		out.DriverConfig = &c.Postgres
	case DriverRedis:
		out.DriverConfig = &c.Redis
	}
	return out
}

// TLSConfig tunes the client transport.
type TLSConfig struct {
	Insecure      bool   `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string `mapstructure:"min_tls_version" yaml:"min_tls_version"`
}

func (c TLSConfig) build() (*tls.Config, error) {
	if !c.Insecure && c.MinTLSVersion == "" {
		return nil, nil
	}
	// #nosec G402 -- InsecureSkipVerify is an explicit opt-in for test ledgers
	cfg := &tls.Config{InsecureSkipVerify: c.Insecure}
	switch strings.TrimSpace(c.MinTLSVersion) {
	case "":
	case "1.2", "tls1.2":
		cfg.MinVersion = tls.VersionTLS12
	case "1.3", "tls1.3":
		cfg.MinVersion = tls.VersionTLS13
	default:
		return nil, fmt.Errorf("unsupported min_tls_version %q", c.MinTLSVersion)
	}
	return cfg, nil
}

// Config is everything needed to build a Client.
type Config struct {
	Scheme    string        `mapstructure:"scheme" yaml:"scheme"`
	Hostname  string        `mapstructure:"hostname" yaml:"hostname"`
	Port      int           `mapstructure:"port" yaml:"port"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
	TLS       TLSConfig     `mapstructure:"tls" yaml:"tls"`
	Retry     *RetryConfig  `mapstructure:"retry" yaml:"retry"`
	Store     StoreConfig   `mapstructure:"store" yaml:"store"`
	Logging   LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DefaultConfig targets the production ledger with an in-memory store.
func DefaultConfig() Config {
	return Config{
		Scheme:    constants.DefaultScheme,
		Hostname:  constants.DefaultHostname,
		Port:      constants.DefaultPort,
		Timeout:   constants.DefaultTimeout,
		UserAgent: constants.DefaultUserAgent,
		Retry:     retry.DefaultRetryConfig(),
		Store:     StoreConfig{Driver: DriverMemory},
	}
}

// Client is a PsiCash client bound to one datastore.
type Client struct {
	persister store.Persister
	user      *userinfo.UserInfo
	ctrl      *transaction.Controller
}

// NewClient opens the configured store, loads the saved snapshot and starts
// the transaction controller.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Hostname) == "" {
		cfg.Hostname = constants.DefaultHostname
	}
	tlsCfg, err := cfg.TLS.build()
	if err != nil {
		return nil, err
	}

	p, err := store.Open(ctx, cfg.Store.toStoreConfig())
	if err != nil {
		return nil, err
	}
	user, err := userinfo.New(ctx, p)
	if err != nil {
		_ = p.Close()
		return nil, err
	}

	exec := httpc.NewExecutor((&httpc.Httpc{TlsConfig: tlsCfg}).New(), cfg.Timeout)
	ctrl, err := transaction.New(transaction.Config{
		Scheme:    cfg.Scheme,
		Hostname:  strings.TrimSpace(cfg.Hostname),
		Port:      cfg.Port,
		Timeout:   cfg.Timeout,
		UserAgent: cfg.UserAgent,
		Retry:     cfg.Retry,
	}, user, exec)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return &Client{persister: p, user: user, ctrl: ctrl}, nil
}

// Close stops the controller, then closes the store.
func (c *Client) Close() error {
	if err := c.ctrl.Close(); err != nil {
		return err
	}
	return c.persister.Close()
}

// RefreshState synchronizes identity, balance and prices for purchaseClasses.
func (c *Client) RefreshState(ctx context.Context, purchaseClasses []string) (*RefreshResult, error) {
	return c.ctrl.RefreshState(ctx, purchaseClasses)
}

// RefreshStateAsync is RefreshState with a completion callback.
func (c *Client) RefreshStateAsync(ctx context.Context, purchaseClasses []string, done func(*RefreshResult, error)) {
	c.ctrl.RefreshStateAsync(ctx, purchaseClasses, done)
}

// NewExpiringPurchase buys (class, distinguisher) at expectedPrice.
func (c *Client) NewExpiringPurchase(ctx context.Context, class, distinguisher string, expectedPrice int64) (*PurchaseResult, error) {
	return c.ctrl.NewExpiringPurchase(ctx, class, distinguisher, expectedPrice)
}

// NewExpiringPurchaseAsync is NewExpiringPurchase with a completion callback.
func (c *Client) NewExpiringPurchaseAsync(ctx context.Context, class, distinguisher string, expectedPrice int64, done func(*PurchaseResult, error)) {
	c.ctrl.NewExpiringPurchaseAsync(ctx, class, distinguisher, expectedPrice, done)
}

func (c *Client) ValidTokenTypes() []TokenType { return c.user.ValidTokenTypes() }
func (c *Client) IsAccount() bool { return c.user.IsAccount() }
func (c *Client) Balance() *int64 { return c.user.Balance() }
func (c *Client) PurchasePrices() []PurchasePrice { return c.user.PurchasePrices() }
func (c *Client) Purchases() []Purchase { return c.user.Purchases() }
func (c *Client) ValidPurchases() []Purchase { return c.user.ValidPurchases() }
func (c *Client) ServerTimeDiff() time.Duration { return c.user.ServerTimeDiff() }
func (c *Client) LastTransactionID() string { return c.user.LastTransactionID() }
func (c *Client) RequestMetadata() map[string]any { return c.user.RequestMetadata() }
func (c *Client) PurchasesByClass(classes ...string) []Purchase {
	return c.user.PurchasesByClass(classes...)
}

// NextExpiringPurchase returns the valid purchase that expires soonest.
func (c *Client) NextExpiringPurchase() (Purchase, bool) {
	return c.user.NextExpiringPurchase()
}

// ExpirePurchases drops purchases whose expiry has passed in server time
// and returns them.
func (c *Client) ExpirePurchases(ctx context.Context) ([]Purchase, error) {
	return c.user.ExpirePurchases(ctx)
}

// RemovePurchases drops the purchases with the given transaction IDs.
func (c *Client) RemovePurchases(ctx context.Context, transactionIDs []string) ([]Purchase, error) {
	return c.user.RemovePurchases(ctx, transactionIDs)
}

// SetRequestMetadataItem attaches key=value to every subsequent request.
func (c *Client) SetRequestMetadataItem(ctx context.Context, key string, value any) error {
	return c.user.SetRequestMetadataAtKey(ctx, key, value)
}

// Clear forgets identity, balance, prices and purchases. Request metadata
// is kept.
func (c *Client) Clear(ctx context.Context) error {
	return c.user.Clear(ctx)
}
