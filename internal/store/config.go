package store

// Driver names accepted by Open
const (
	DriverMemory     = "memory"
	DriverFile       = "file"
	DriverSQLite     = "sqlite"
	DriverPostgres   = "postgres"
	DriverPostgreSQL = "postgresql"
	DriverRedis      = "redis"
)

type Config struct {
	Driver       string `mapstructure:"driver"`
	DriverConfig DriverConfig
}

type DriverConfig interface {
	ToMap() map[string]interface{}
}

// FileConfig configures the JSON file persister
type FileConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

func (c *FileConfig) ToMap() map[string]interface{} {
	return map[string]interface{}{"path": c.Path}
}
