package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadOverridesFile reads a local JSON file of parameter overrides and
// requires a top-level object. Values may be strings, numbers, or booleans;
// everything is carried as its string encoding, matching how parameter
// values travel everywhere else.
func LoadOverridesFile(path string) (map[string]string, string, error) {
	rawPath := strings.TrimSpace(path)
	if rawPath == "" {
		return nil, "", fmt.Errorf("overrides file path is required")
	}
	if strings.Contains(rawPath, "://") {
		return nil, "", fmt.Errorf("only local filesystem paths are supported")
	}

	resolvedPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, "", fmt.Errorf("resolve overrides path %q: %w", rawPath, err)
	}

	blob, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, resolvedPath, fmt.Errorf("read overrides file %q: %w", resolvedPath, err)
	}

	var parsed any
	if err := json.Unmarshal(blob, &parsed); err != nil {
		return nil, resolvedPath, fmt.Errorf("parse overrides JSON %q: %w", resolvedPath, err)
	}

	object, ok := parsed.(map[string]any)
	if !ok {
		return nil, resolvedPath, fmt.Errorf("overrides JSON must be a top-level object")
	}

	overrides := make(map[string]string, len(object))
	for name, value := range object {
		encoded, err := encodeOverrideValue(value)
		if err != nil {
			return nil, resolvedPath, fmt.Errorf("override %q: %w", name, err)
		}
		overrides[name] = encoded
	}
	return overrides, resolvedPath, nil
}

func encodeOverrideValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case float64:
		blob, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(blob), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("value must be a string, number, or boolean")
	}
}
