package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	yaml "go.yaml.in/yaml/v3"

	"dayorder/internal/timetable"
)

// toJSON converts a YAML file body to JSON so both formats go through the
// same strict decoder. JSON input passes through untouched.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringKeys rewrites map keys as strings so the tree is JSON-marshalable.
// YAML allows non-string keys such as dates or integers.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[keyString(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

// keyString renders a map key. Unquoted calendar keys such as 2025-07-04
// arrive as time.Time and must round-trip as dates.
func keyString(k any) string {
	if t, ok := k.(time.Time); ok {
		return t.Format(timetable.DateLayout)
	}
	return fmt.Sprint(k)
}
