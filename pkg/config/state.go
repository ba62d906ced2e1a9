package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// State holds the runtime values check predicates read: row counts, SLO
// numbers, maintenance flags. Values come from a YAML file and/or
// key=value overrides; a missing key is a predicate error, never a
// silent pass.
type State map[string]any

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	s := State{}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	return s, nil
}

// Apply merges key=value overrides into the state. Values parse as bool,
// then number, then fall back to string.
func (s State) Apply(overrides []string) error {
	for _, kv := range overrides {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid override %q, want key=value", kv)
		}
		if b, err := strconv.ParseBool(raw); err == nil {
			s[key] = b
		} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
			s[key] = f
		} else {
			s[key] = raw
		}
	}
	return nil
}

func (s State) Bool(key string) (bool, error) {
	v, ok := s[key]
	if !ok {
		return false, fmt.Errorf("state key %q not set", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("state key %q is %T, want bool", key, v)
	}
	return b, nil
}

func (s State) Float(key string) (float64, error) {
	v, ok := s[key]
	if !ok {
		return 0, fmt.Errorf("state key %q not set", key)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("state key %q is %T, want number", key, v)
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
