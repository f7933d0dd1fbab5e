package redis

type Config struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Key      string `mapstructure:"key" yaml:"key"`
}

func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"addr":     c.Addr,
		"password": c.Password,
		"db":       c.DB,
		"key":      c.Key,
	}
}
