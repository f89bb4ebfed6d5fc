package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// readFile parses a flat yaml or toml file of KEY: value pairs.
// Keys are matched case-insensitively against the environment names; lists become comma-separated values.
func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	values := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &values)
	case ".toml":
		err = toml.Unmarshal(raw, &values)
	default:
		return nil, fmt.Errorf("config file %q: unsupported extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	out := make(map[string]string, len(values))
	for k, v := range values {
		out[strings.ToUpper(k)] = stringify(v)
	}
	return out, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			parts = append(parts, stringify(p))
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
