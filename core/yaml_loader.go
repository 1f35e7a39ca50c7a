package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLFileLoader reads raw configuration from a YAML file. A missing file is
// not an error; the service runs on defaults.
type YAMLFileLoader struct {
	Path string
}

func NewYAMLFileLoader(path string) YAMLFileLoader {
	return YAMLFileLoader{Path: strings.TrimSpace(path)}
}

func (l YAMLFileLoader) LoadRaw(_ context.Context) (map[string]any, error) {
	if l.Path == "" {
		return map[string]any{}, nil
	}
	payload, err := os.ReadFile(l.Path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("core: read config file %q: %w", l.Path, err)
	}

	raw := map[string]any{}
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", l.Path, err)
	}
	return raw, nil
}
