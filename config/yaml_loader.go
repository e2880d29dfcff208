// Package config loads service configuration files.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/goliatone/go-adconnect/core"
	"gopkg.in/yaml.v3"
)

// YAMLLoader reads a YAML file into the raw map consumed by
// core.CfgxConfigProvider. ${VAR} references are expanded from the
// environment before parsing.
type YAMLLoader struct {
	Path string
	// Optional makes a missing file load as empty.
	Optional bool
	Lookup   func(string) (string, bool)
}

func NewYAMLLoader(path string) *YAMLLoader {
	return &YAMLLoader{Path: path}
}

func (l *YAMLLoader) LoadRaw(context.Context) (map[string]any, error) {
	if l == nil || strings.TrimSpace(l.Path) == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(l.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && l.Optional {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", l.Path, err)
	}
	return parseYAML(l.expand(string(data)), l.Path)
}

func (l *YAMLLoader) expand(data string) string {
	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return os.Expand(data, func(name string) string {
		value, _ := lookup(name)
		return value
	})
}

func parseYAML(data string, source string) (map[string]any, error) {
	raw := map[string]any{}
	if err := yaml.Unmarshal([]byte(data), &raw); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", source, err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// Load resolves defaults, the YAML file at path and runtime overrides.
func Load(ctx context.Context, path string, runtime core.Config) (core.Config, error) {
	return core.LoadConfig(ctx, &YAMLLoader{Path: path, Optional: path == ""}, runtime)
}

var _ core.RawConfigLoader = (*YAMLLoader)(nil)
