package common

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// MaskedValue replaces any secret that would otherwise reach log output.
const MaskedValue = "***MASKED***"

// SensitivePattern represents a pattern to detect and mask sensitive information
type SensitivePattern struct {
	Name        string         // Pattern name (e.g., "auth_header", "token")
	Regex       *regexp.Regexp // Regular expression to match sensitive data
	Replacement string         // Replacement string
	Keys        []string       // Specific keys to mask (case-insensitive)
}

// DefaultSensitivePatterns covers the PsiCash auth header, the token-type
// keys of a token map, and purchase authorizations.
var DefaultSensitivePatterns = []SensitivePattern{
	{
		Name:        "auth_header",
		Regex:       regexp.MustCompile(`(?i)(x-psicash-auth)["'\s]*[:=]["'\s\[]*([^"'\]\s]+)`),
		Replacement: `${1}: ` + MaskedValue,
		Keys:        []string{"x-psicash-auth", "auth_header"},
	},
	{
		Name:        "token",
		Regex:       regexp.MustCompile(`(?i)"(earner|indicator|spender|logout|account)"\s*:\s*"[^"]*"`),
		Replacement: `"${1}":"` + MaskedValue + `"`,
		Keys:        []string{"earner", "indicator", "spender", "logout", "account", "token", "tokens", "auth_tokens"},
	},
	{
		Name:        "authorization",
		Regex:       regexp.MustCompile(`(?i)"(authorization)"\s*:\s*"[^"]*"`),
		Replacement: `"${1}":"` + MaskedValue + `"`,
		Keys:        []string{"authorization"},
	},
}

// Masker handles masking of sensitive information in logs
type Masker struct {
	mu       sync.RWMutex
	patterns []SensitivePattern
	enabled  bool
}

// NewMasker creates a new masker with default patterns
func NewMasker() *Masker {
	return &Masker{
		patterns: append([]SensitivePattern(nil), DefaultSensitivePatterns...),
		enabled:  true,
	}
}

// SetEnabled enables or disables masking
func (m *Masker) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.enabled = enabled
	m.mu.Unlock()
}

// IsEnabled returns whether masking is enabled
func (m *Masker) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// AddPattern adds a new sensitive pattern. A pattern without a regex gets one
// built from its keys.
func (m *Masker) AddPattern(pattern SensitivePattern) {
	if pattern.Regex == nil && len(pattern.Keys) > 0 {
		keyPattern := strings.Join(pattern.Keys, "|")
		pattern.Regex = regexp.MustCompile(fmt.Sprintf(`(?i)\b(%s)\s*[:=]\s*['"]?([^'",\s}\]]+)['"]?`, keyPattern))
		if pattern.Replacement == "" {
			pattern.Replacement = `$1:"` + MaskedValue + `"`
		}
	}
	m.mu.Lock()
	m.patterns = append(m.patterns, pattern)
	m.mu.Unlock()
}

// MaskString masks sensitive information in a string
func (m *Masker) MaskString(input string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return input
	}
	result := input
	for _, pattern := range m.patterns {
		if pattern.Regex == nil {
			continue
		}
		result = pattern.Regex.ReplaceAllString(result, pattern.Replacement)
	}
	return result
}

// MaskValue masks value when key names a secret, otherwise applies the
// regex patterns to its string form. Values with no string form are
// returned unchanged.
func (m *Masker) MaskValue(key string, value interface{}) interface{} {
	if !m.IsEnabled() {
		return value
	}

	lowerKey := strings.ToLower(key)
	m.mu.RLock()
	for _, pattern := range m.patterns {
		for _, sensitiveKey := range pattern.Keys {
			if lowerKey == sensitiveKey {
				m.mu.RUnlock()
				return MaskedValue
			}
		}
	}
	m.mu.RUnlock()

	strValue, ok := toString(value)
	if !ok {
		return value
	}
	return m.MaskString(strValue)
}

// MaskHeader returns a copy of headers with secret values masked.
func (m *Masker) MaskHeader(headers map[string][]string) map[string][]string {
	out := make(map[string][]string, len(headers))
	for k, vs := range headers {
		if masked, ok := m.MaskValue(k, "").(string); ok && masked == MaskedValue {
			out[k] = []string{MaskedValue}
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func toString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case []byte:
		return string(val), true
	case error:
		return val.Error(), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

// Global masker instance
var globalMasker = NewMasker()

// SetGlobalMasker sets the global masker instance
func SetGlobalMasker(masker *Masker) {
	globalMasker = masker
}

// GetGlobalMasker returns the global masker instance
func GetGlobalMasker() *Masker {
	return globalMasker
}

// MaskSensitiveData masks sensitive data using the global masker
func MaskSensitiveData(input string) string {
	return globalMasker.MaskString(input)
}

// EnableMasking enables/disables global masking
func EnableMasking(enabled bool) {
	globalMasker.SetEnabled(enabled)
}

// IsMaskingEnabled returns whether global masking is enabled
func IsMaskingEnabled() bool {
	return globalMasker.IsEnabled()
}
