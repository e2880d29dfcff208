package core

import (
	"fmt"
	"strings"
	"time"
)

type PlatformSettings struct {
	Key                   string   `koanf:"key" mapstructure:"key"`
	DisplayName           string   `koanf:"display_name" mapstructure:"display_name"`
	ClientID              string   `koanf:"client_id" mapstructure:"client_id"`
	Scopes                []string `koanf:"scopes" mapstructure:"scopes"`
	AuthorizationEndpoint string   `koanf:"authorization_endpoint" mapstructure:"authorization_endpoint"`
	TokenEndpoint         string   `koanf:"token_endpoint" mapstructure:"token_endpoint"`
	APIBaseURL            string   `koanf:"api_base_url" mapstructure:"api_base_url"`
	RedirectURI           string   `koanf:"redirect_uri" mapstructure:"redirect_uri"`
	Enabled               bool     `koanf:"enabled" mapstructure:"enabled"`
}

func (p PlatformSettings) PlatformConfig() PlatformConfig {
	return PlatformConfig{
		Key:                   strings.TrimSpace(p.Key),
		DisplayName:           strings.TrimSpace(p.DisplayName),
		ClientID:              strings.TrimSpace(p.ClientID),
		Scopes:                append([]string(nil), p.Scopes...),
		AuthorizationEndpoint: strings.TrimSpace(p.AuthorizationEndpoint),
		TokenEndpoint:         strings.TrimSpace(p.TokenEndpoint),
		RedirectURI:           strings.TrimSpace(p.RedirectURI),
		Enabled:               p.Enabled,
	}
}

type OAuthConfig struct {
	StateTTLSeconds        int `koanf:"state_ttl_seconds" mapstructure:"state_ttl_seconds"`
	ProviderTimeoutSeconds int `koanf:"provider_timeout_seconds" mapstructure:"provider_timeout_seconds"`
}

type LimitsConfig struct {
	DefaultMaxConnections int            `koanf:"default_max_connections" mapstructure:"default_max_connections"`
	Plans                 map[string]int `koanf:"plans" mapstructure:"plans"`
	CacheTTLSeconds       int            `koanf:"cache_ttl_seconds" mapstructure:"cache_ttl_seconds"`
}

type Config struct {
	ServiceName string             `koanf:"service_name" mapstructure:"service_name"`
	OAuth       OAuthConfig        `koanf:"oauth" mapstructure:"oauth"`
	Limits      LimitsConfig       `koanf:"limits" mapstructure:"limits"`
	Platforms   []PlatformSettings `koanf:"platforms" mapstructure:"platforms"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "adconnect",
		OAuth: OAuthConfig{
			StateTTLSeconds:        int(defaultOAuthStateTTL / time.Second),
			ProviderTimeoutSeconds: int(defaultProviderTimeout / time.Second),
		},
		Limits: LimitsConfig{
			DefaultMaxConnections: 1,
			CacheTTLSeconds:       30,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.OAuth.StateTTLSeconds < 0 {
		return fmt.Errorf("core: oauth.state_ttl_seconds must not be negative")
	}
	if c.OAuth.ProviderTimeoutSeconds < 0 {
		return fmt.Errorf("core: oauth.provider_timeout_seconds must not be negative")
	}
	if c.Limits.DefaultMaxConnections < 0 {
		return fmt.Errorf("core: limits.default_max_connections must not be negative")
	}
	for plan, limit := range c.Limits.Plans {
		if limit < 0 {
			return fmt.Errorf("core: limits.plans.%s must not be negative", plan)
		}
	}
	seen := map[string]struct{}{}
	for _, platform := range c.Platforms {
		key := strings.TrimSpace(platform.Key)
		if key == "" {
			return fmt.Errorf("core: platforms[].key is required")
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("core: platform %s is configured twice", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (c Config) StateTTL() time.Duration {
	if c.OAuth.StateTTLSeconds <= 0 {
		return defaultOAuthStateTTL
	}
	return time.Duration(c.OAuth.StateTTLSeconds) * time.Second
}

func (c Config) ProviderTimeout() time.Duration {
	if c.OAuth.ProviderTimeoutSeconds <= 0 {
		return defaultProviderTimeout
	}
	return time.Duration(c.OAuth.ProviderTimeoutSeconds) * time.Second
}

func (c Config) LimitsCacheTTL() time.Duration {
	if c.Limits.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Limits.CacheTTLSeconds) * time.Second
}

// PlatformConfigs converts the configured platforms for NewPlatformRegistry.
func (c Config) PlatformConfigs() []PlatformConfig {
	out := make([]PlatformConfig, 0, len(c.Platforms))
	for _, platform := range c.Platforms {
		out = append(out, platform.PlatformConfig())
	}
	return out
}

// PlatformSettingsFor returns the raw settings of one platform.
func (c Config) PlatformSettingsFor(key string) (PlatformSettings, bool) {
	key = strings.TrimSpace(key)
	for _, platform := range c.Platforms {
		if strings.TrimSpace(platform.Key) == key {
			return platform, true
		}
	}
	return PlatformSettings{}, false
}
