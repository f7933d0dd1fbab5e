package sqlite

// SQLite configuration constants
const (
	busyTimeoutMS = 5000 // 5 seconds in milliseconds
	journalPragma = "_pragma=journal_mode(WAL)"
)

type Config struct {
	Path  string `mapstructure:"path" yaml:"path"`
	DSN   string `mapstructure:"dsn" yaml:"dsn"`
	Table string `mapstructure:"table" yaml:"table"`
}

func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"path":  c.Path,
		"dsn":   c.DSN,
		"table": c.Table,
	}
}
