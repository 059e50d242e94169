package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAMLFileLoader reads the file layer of the configuration. ${VAR} references
// are expanded from the process environment before parsing. A missing file
// yields an empty layer unless Required is set.
type YAMLFileLoader struct {
	Path     string
	Required bool
}

func (l YAMLFileLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && !l.Required {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("core: read config %s: %w", path, err)
	}
	return ParseYAMLConfig([]byte(os.ExpandEnv(string(content))))
}

// ParseYAMLConfig decodes a YAML document into the raw map consumed by cfgx.
func ParseYAMLConfig(content []byte) (map[string]any, error) {
	raw := map[string]any{}
	if len(strings.TrimSpace(string(content))) == 0 {
		return raw, nil
	}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("core: parse yaml config: %w", err)
	}
	return raw, nil
}

var _ RawConfigLoader = YAMLFileLoader{}
