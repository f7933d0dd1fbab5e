package psicash

import (
	"fmt"
	"strings"

	"github.com/loykin/psicash/internal/common"
)

type (
	Logger   = common.Logger
	LogLevel = common.LogLevel
)

const (
	LogLevelError = common.LogLevelError
	LogLevelWarn  = common.LogLevelWarn
	LogLevelInfo  = common.LogLevelInfo
	LogLevelDebug = common.LogLevelDebug
)

// NewLogger creates a text logger on stderr.
func NewLogger(level LogLevel) *Logger { return common.NewLogger(level) }

// NewJSONLogger creates a JSON logger on stderr.
func NewJSONLogger(level LogLevel) *Logger { return common.NewJSONLogger(level) }

// SetDefaultLogger replaces the logger used by every component.
func SetDefaultLogger(logger *Logger) { common.SetDefaultLogger(logger) }

// GetLogger returns the current default logger.
func GetLogger() *Logger { return common.GetLogger() }

// EnableMasking toggles masking of tokens and authorizations in log output.
func EnableMasking(enabled bool) { common.EnableMasking(enabled) }

// LoggingConfig selects log level, format and masking.
type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // defaults to true
}

func (c LoggingConfig) parseLogLevel() (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "error":
		return LogLevelError, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "info", "":
		return LogLevelInfo, nil
	case "debug":
		return LogLevelDebug, nil
	default:
		return LogLevelInfo, fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Level)
	}
}

// SetupLogging configures the global logger from c.
func (c LoggingConfig) SetupLogging() error {
	level, err := c.parseLogLevel()
	if err != nil {
		return err
	}

	var logger *Logger
	format := strings.ToLower(strings.TrimSpace(c.Format))
	switch format {
	case "json":
		logger = NewJSONLogger(level)
	case "text", "":
		logger = NewLogger(level)
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json)", c.Format)
	}

	maskingEnabled := true
	if c.MaskSensitive != nil {
		maskingEnabled = *c.MaskSensitive
	}
	EnableMasking(maskingEnabled)
	SetDefaultLogger(logger)

	logger.Debug("logging configured", "level", level.String(), "format", format, "mask_sensitive", maskingEnabled)
	return nil
}

// MaskSensitiveData masks tokens and authorizations found in input.
func MaskSensitiveData(input string) string { return common.MaskSensitiveData(input) }
