package config

import (
	"sort"
	"strings"
)

// secretKeys are masked by ListValues and `config get`.
var secretKeys = map[string]bool{
	"llm.api_key": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns nested maps into one map keyed by dot-separated paths, so
// {"chat": {"max_steps": 5}} becomes {"chat.max_steps": 5}. Lists such as
// http.cors_origins stay single values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten reverses Flatten. A scalar in the way of a deeper key is
// replaced by a section.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	for _, section := range path[:len(path)-1] {
		child, ok := m[section].(map[string]any)
		if !ok {
			child = make(map[string]any)
			m[section] = child
		}
		m = child
	}
	m[path[len(path)-1]] = v
}

// MaskSecrets returns a copy of flat in which non-empty secrets show only
// their last four characters, as "***abcd".
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if s, ok := v.(string); ok && secretKeys[k] && s != "" {
			v = maskSecret(s)
		}
		out[k] = v
	}
	return out
}

func maskSecret(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}

// Keys returns every settable key in sorted order.
func Keys() []string {
	m, err := ToMap(&Config{})
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range Flatten(m) {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
