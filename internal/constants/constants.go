package constants

import (
	"net/http"
	"time"
)

// Ledger API Constants
const (
	APIServerVersion = "v1"

	DefaultScheme    = "https"
	DefaultHostname  = "api.psi.cash"
	DefaultPort      = 443
	DefaultUserAgent = "Psiphon-PsiCash-Go"
	DefaultTimeout   = 10 * time.Second

	// Request paths, relative to /<APIServerVersion>
	TrackerPath        = "/tracker"
	ValidateTokensPath = "/validate-tokens"
	RefreshStatePath   = "/refresh-state"
	TransactionPath    = "/transaction"
	TestPath           = "/test"
)

// Header names
const (
	AuthHeader     = "X-PsiCash-Auth"
	MetadataHeader = "X-PsiCash-Metadata"
	TestHeader     = "X-PsiCash-Test"
	DateHeader     = "Date"
)

// Query parameter names
const (
	ClassParam          = "class"
	DistinguisherParam  = "distinguisher"
	ExpectedAmountParam = "expectedAmount"
)

// Reward transactions, only accepted by test servers
const (
	RewardClass         = "reward"
	RewardDistinguisher = "1T"
	RewardAmount        = int64(1_000_000_000_000)
)

// Ledger responses mapped onto transaction statuses
const (
	StatusOK                   = http.StatusOK
	StatusExistingTransaction  = http.StatusConflict
	StatusInsufficientBalance  = http.StatusPaymentRequired
	StatusAmountMismatch       = http.StatusPreconditionFailed
	StatusTransactionNotFound  = http.StatusNotFound
	StatusInvalidTokens        = http.StatusUnauthorized
	StatusServerErrorThreshold = http.StatusInternalServerError
)

// Database Constants
const (
	// PostgreSQL defaults
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	// Connection pool settings
	DefaultPostgresMaxConnections = 5
	DefaultPostgresMaxIdleConns   = 2
	DefaultSQLiteMaxConnections   = 1 // SQLite allows only one writer
	DefaultSQLiteMaxIdleConns     = 1

	// Snapshot storage
	DefaultStateTable  = "psicash_datastore"
	DefaultStateKey    = "psicash:datastore"
	DefaultStateFile   = "psicash.datastore.json"
	DefaultSQLiteFile  = "psicash.db"
	DefaultRedisAddr   = "localhost:6379"
	DatastoreVersion   = 1
	DefaultSnapshotRow = 1
)

// Time and Duration Constants
const (
	// Connection pool lifetimes
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute
)
