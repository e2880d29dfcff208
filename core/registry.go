package core

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

var platformKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PlatformRegistry is the read-only set of platform configurations. It is
// built once and injected; there is no mutation API.
type PlatformRegistry struct {
	platforms map[string]PlatformConfig
	keys      []string
}

// NewPlatformRegistry validates every config and rejects duplicate keys.
func NewPlatformRegistry(configs ...PlatformConfig) (*PlatformRegistry, error) {
	registry := &PlatformRegistry{
		platforms: make(map[string]PlatformConfig, len(configs)),
		keys:      make([]string, 0, len(configs)),
	}
	for _, cfg := range configs {
		cfg.Key = strings.TrimSpace(cfg.Key)
		cfg.ClientID = strings.TrimSpace(cfg.ClientID)
		cfg.RedirectURI = strings.TrimSpace(cfg.RedirectURI)
		cfg.Scopes = normalizeScopes(cfg.Scopes)
		if err := validatePlatformConfig(cfg); err != nil {
			return nil, err
		}
		if _, exists := registry.platforms[cfg.Key]; exists {
			return nil, fmt.Errorf("core: platform already registered: %s", cfg.Key)
		}
		registry.platforms[cfg.Key] = cfg.clone()
		registry.keys = append(registry.keys, cfg.Key)
	}
	sort.Strings(registry.keys)
	return registry, nil
}

// Get returns the config for key, including disabled entries. Unknown keys
// fail with ReasonUnsupportedPlatform.
func (r *PlatformRegistry) Get(key string) (PlatformConfig, error) {
	key = strings.TrimSpace(key)
	if r == nil || key == "" {
		return PlatformConfig{}, unsupportedPlatformError(key)
	}
	cfg, ok := r.platforms[key]
	if !ok {
		return PlatformConfig{}, unsupportedPlatformError(key)
	}
	return cfg.clone(), nil
}

func (r *PlatformRegistry) Has(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.platforms[strings.TrimSpace(key)]
	return ok
}

func (r *PlatformRegistry) List() []PlatformConfig {
	if r == nil {
		return nil
	}
	out := make([]PlatformConfig, 0, len(r.keys))
	for _, key := range r.keys {
		out = append(out, r.platforms[key].clone())
	}
	return out
}

func (r *PlatformRegistry) Keys() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.keys...)
}

func unsupportedPlatformError(key string) error {
	return NewFailure(
		ReasonUnsupportedPlatform,
		fmt.Sprintf("platform %q is not registered", key),
		map[string]any{"platform": key},
	)
}

func validatePlatformConfig(cfg PlatformConfig) error {
	if !platformKeyPattern.MatchString(cfg.Key) {
		return fmt.Errorf("core: invalid platform key %q", cfg.Key)
	}
	if strings.Contains(cfg.Key, stateTokenSeparator) {
		return fmt.Errorf("core: platform key %q contains the state separator", cfg.Key)
	}
	if !cfg.Enabled {
		return nil
	}
	if cfg.ClientID == "" {
		return fmt.Errorf("core: platform %s: client id is required", cfg.Key)
	}
	if cfg.RedirectURI == "" {
		return fmt.Errorf("core: platform %s: redirect uri is required", cfg.Key)
	}
	if len(cfg.Scopes) == 0 {
		return fmt.Errorf("core: platform %s: at least one scope is required", cfg.Key)
	}
	for name, endpoint := range map[string]string{
		"authorization endpoint": cfg.AuthorizationEndpoint,
		"token endpoint":         cfg.TokenEndpoint,
		"redirect uri":           cfg.RedirectURI,
	} {
		if err := validateEndpoint(endpoint); err != nil {
			return fmt.Errorf("core: platform %s: invalid %s: %w", cfg.Key, name, err)
		}
	}
	return nil
}

// validateEndpoint accepts https URLs, and plain http only for loopback hosts.
func validateEndpoint(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %q is not absolute", raw)
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopbackHost(parsed.Hostname()) {
			return nil
		}
	}
	return fmt.Errorf("url %q must use https", raw)
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func normalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" {
			continue
		}
		if _, ok := seen[scope]; ok {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out
}
