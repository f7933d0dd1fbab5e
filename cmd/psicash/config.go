package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/loykin/psicash"
	"github.com/loykin/psicash/internal/constants"
	"github.com/loykin/psicash/internal/util"
)

// ConfigDoc is the CLI config file: a client config plus CLI defaults.
type ConfigDoc struct {
	psicash.Config `yaml:",inline"`
	// Classes are requested by refresh when none are given on the command line.
	Classes []string `yaml:"classes"`
}

// defaultConfigDoc persists to a local JSON file, so successive commands
// share one identity.
func defaultConfigDoc() *ConfigDoc {
	cfg := psicash.DefaultConfig()
	cfg.Store = psicash.StoreConfig{
		Driver: psicash.DriverFile,
		File:   psicash.FileConfig{Path: constants.DefaultStateFile},
	}
	return &ConfigDoc{Config: cfg}
}

func (c *ConfigDoc) Load(path string) error {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return statErr
		}
		return fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user; cleaned and validated above
	f, err := os.Open(clean)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return yaml.NewDecoder(f).Decode(c)
}

// applyOverrides copies flags and PSICASH_* variables over the file values.
func (c *ConfigDoc) applyOverrides(v *viper.Viper) {
	if s := strings.TrimSpace(v.GetString("scheme")); s != "" {
		c.Scheme = s
	}
	if s := strings.TrimSpace(v.GetString("hostname")); s != "" {
		c.Hostname = s
	}
	if p := v.GetInt("port"); p != 0 {
		c.Port = p
	}
	if d := strings.TrimSpace(v.GetString("store_driver")); d != "" {
		c.Store.Driver = d
	}
	if p := strings.TrimSpace(v.GetString("store_path")); p != "" {
		switch strings.ToLower(c.Store.Driver) {
		case psicash.DriverSQLite:
			c.Store.SQLite.Path = p
		default:
			c.Store.File.Path = p
		}
	}
	if l := strings.TrimSpace(v.GetString("log_level")); l != "" {
		c.Logging.Level = l
	}
	if cl := util.SplitList(v.GetString("classes")); len(cl) > 0 {
		c.Classes = cl
	}
}

func loadConfig(v *viper.Viper) (*ConfigDoc, error) {
	doc := defaultConfigDoc()
	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		if err := doc.Load(path); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	doc.applyOverrides(v)
	util.TrimStructFields(&doc.Config)
	return doc, nil
}

func openClient(ctx context.Context, v *viper.Viper) (*psicash.Client, *ConfigDoc, error) {
	doc, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	c, err := psicash.NewClient(ctx, doc.Config)
	if err != nil {
		return nil, nil, err
	}
	return c, doc, nil
}
