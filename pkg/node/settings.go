package node

import (
	"encoding/json"
	"fmt"
)

// Settings holds the user-set, non-connected parameters of a node instance,
// such as a limit count or a glob pattern.
type Settings map[string]any

// ParseSettings decodes a JSON object into settings. Empty input yields empty
// settings.
func ParseSettings(raw json.RawMessage) (Settings, error) {
	s := Settings{}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("invalid node settings: %w", err)
	}
	return s, nil
}

// String returns a setting as string, or def when unset or empty.
func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Bool returns a setting as bool, or def when unset.
func (s Settings) Bool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// Int returns a setting as int, or def when unset. JSON numbers decode as
// float64 and are truncated.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int32:
		return int(v)
	}
	return def
}

// Float returns a setting as float64, or def when unset.
func (s Settings) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// OptionalInt returns a setting as int and whether it was set.
func (s Settings) OptionalInt(key string) (int, bool) {
	if _, ok := s[key]; !ok || s[key] == nil {
		return 0, false
	}
	return s.Int(key, 0), true
}
