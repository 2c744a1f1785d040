package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML policy document and builds a Table from it.
func Parse(data []byte, source string) (*Table, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", source, err)
	}
	t, err := NewTable(doc, source)
	if err != nil {
		return nil, fmt.Errorf("validate policy %s: %w", source, err)
	}
	return t, nil
}

// LoadFromFile reads a policy Table from a YAML file.
func LoadFromFile(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}
	return Parse(data, path)
}

// LoadOrUnavailable loads path, or returns an Unavailable table carrying the
// error. An empty path yields the built-in lifecycle preset.
func LoadOrUnavailable(path string) (*Table, error) {
	if path == "" {
		return DefaultLifecycle(), nil
	}
	t, err := LoadFromFile(path)
	if err != nil {
		return Unavailable(path, err), err
	}
	return t, nil
}
