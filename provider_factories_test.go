package adconnect

import (
	"testing"

	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/providers"
)

func TestBuiltInAdapterFactories(t *testing.T) {
	cases := []struct {
		name string
		id   string
		fn   func(providers.Settings) (core.PlatformAdapter, error)
	}{
		{name: "google ads", id: core.PlatformGoogleAds, fn: GoogleAdsAdapter},
		{name: "linkedin ads", id: core.PlatformLinkedInAds, fn: LinkedInAdsAdapter},
		{name: "meta ads", id: core.PlatformMetaAds, fn: MetaAdsAdapter},
		{name: "tiktok ads", id: core.PlatformTikTokAds, fn: TikTokAdsAdapter},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			adapter, err := tc.fn(providers.Settings{Platform: core.PlatformConfig{ClientID: "client"}})
			if err != nil {
				t.Fatalf("build adapter: %v", err)
			}
			if adapter.Platform() != tc.id {
				t.Fatalf("expected platform %q, got %q", tc.id, adapter.Platform())
			}
		})
	}
}

func TestWithPlatformDefaults_FillsBlanksOnly(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Platforms = []core.PlatformSettings{
		{Key: core.PlatformMetaAds, ClientID: "meta-app", RedirectURI: "https://app.example.test/oauth/callback", Enabled: true},
		{Key: core.PlatformGoogleAds, ClientID: "g", Scopes: []string{"custom"}, RedirectURI: "https://app.example.test/oauth/callback", Enabled: true},
	}

	filled := WithPlatformDefaults(cfg)
	meta := filled.Platforms[0]
	if meta.DisplayName != "Meta Ads" || meta.AuthorizationEndpoint == "" || meta.TokenEndpoint == "" || len(meta.Scopes) != 3 {
		t.Fatalf("expected meta defaults, got %+v", meta)
	}
	if google := filled.Platforms[1]; len(google.Scopes) != 1 || google.Scopes[0] != "custom" {
		t.Fatalf("configured scopes must win, got %v", google.Scopes)
	}
	if cfg.Platforms[0].DisplayName != "" {
		t.Fatalf("input config must not be mutated")
	}

	registry, err := core.NewPlatformRegistry(filled.PlatformConfigs()...)
	if err != nil {
		t.Fatalf("registry from defaults: %v", err)
	}
	if len(registry.Keys()) != 2 {
		t.Fatalf("expected two registered platforms")
	}
}

func TestBuiltinAdapters_BuildsConfiguredPlatforms(t *testing.T) {
	cfg := WithPlatformDefaults(core.Config{
		ServiceName: "adconnect",
		Platforms: []core.PlatformSettings{
			{Key: core.PlatformTikTokAds, ClientID: "tt", RedirectURI: "https://app.example.test/oauth/callback", Enabled: true},
			{Key: core.PlatformLinkedInAds, Enabled: false},
		},
	})
	adapters, err := BuiltinAdapters(cfg, AdapterOptions{Secrets: core.MapSecretSource{}})
	if err != nil {
		t.Fatalf("builtin adapters: %v", err)
	}
	if len(adapters) != 1 || adapters[0].Platform() != core.PlatformTikTokAds {
		t.Fatalf("expected only the tiktok adapter, got %d", len(adapters))
	}

	cfg.Platforms = append(cfg.Platforms, core.PlatformSettings{Key: "snapchat_ads", ClientID: "x"})
	if _, err := BuiltinAdapters(cfg, AdapterOptions{}); err == nil {
		t.Fatalf("expected unknown platform error")
	}
}
