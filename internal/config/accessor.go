package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// toMap round-trips the config through its json tags, which mirror the YAML
// keys, so dot paths match what users write in config.yaml.
func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetByPath retrieves a config value by dot-notation path (e.g. "ai.maxTokens").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. String values are
// coerced to bool or number when they parse as one; comma-separated values
// become lists when the target is a list.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	m, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, key := range parts[:len(parts)-1] {
		child, ok := parent[key]
		if !ok || child == nil {
			next := make(map[string]any)
			parent[key] = next
			parent = next
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, key)
		}
		parent = childMap
	}

	last := parts[len(parts)-1]
	_, isList := parent[last].([]any)
	if isList {
		parent[last] = parseList(value)
	} else {
		parent[last] = parseValue(value)
	}

	updated, err := fromMap(m)
	if err != nil && !isList {
		// absent omitempty lists look like scalars; retry as a list
		parent[last] = parseList(value)
		updated, err = fromMap(m)
	}
	if err != nil {
		// numeric-looking strings such as chat ids
		parent[last] = value
		updated, err = fromMap(m)
	}
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = *updated
	return nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	c := &Config{}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}

func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func parseList(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if s == "" {
		return []any{}
	}
	items := strings.Split(s, ",")
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, parseValue(strings.TrimSpace(it)))
	}
	return out
}

// Sanitize returns a copy of the config with credentials masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return cfg
	}

	for name, pc := range c.AI.Providers {
		pc.APIKey = maskString(pc.APIKey)
		c.AI.Providers[name] = pc
	}
	n := &c.Notifications
	n.FCM.ServerKey = maskString(n.FCM.ServerKey)
	n.FCM.DeviceToken = maskString(n.FCM.DeviceToken)
	n.Pushbullet.AccessToken = maskString(n.Pushbullet.AccessToken)
	n.Telegram.Token = maskString(n.Telegram.Token)
	n.Webhook.Secret = maskString(n.Webhook.Secret)
	c.Sources.Telegram.Token = maskString(c.Sources.Telegram.Token)
	c.Sources.Discord.Token = maskString(c.Sources.Discord.Token)

	return &c
}

// MaskSecret shows the first and last 4 characters of s.
func MaskSecret(s string) string { return maskString(s) }

func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all leaf config paths with their current values, sorted.
func ListPaths(cfg *Config) []PathValue {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	flat := make(map[string]any)
	flattenMap("", m, flat)

	out := make([]PathValue, 0, len(flat))
	for k, v := range flat {
		out = append(out, PathValue{Path: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

type PathValue struct {
	Path  string
	Value any
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if val, ok := v.(map[string]any); ok {
			flattenMap(path, val, result)
			continue
		}
		result[path] = v
	}
}
