package core

import (
	"strings"
	"testing"
)

func TestPlatformRegistry_GetReturnsDisabledEntries(t *testing.T) {
	registry, err := NewPlatformRegistry(testPlatformConfigs()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cfg, err := registry.Get(PlatformLinkedInAds)
	if err != nil {
		t.Fatalf("get linkedin: %v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected linkedin entry to be disabled")
	}
	if got := registry.Keys(); strings.Join(got, ",") != "google_ads,linkedin_ads,meta_ads" {
		t.Fatalf("unexpected keys %v", got)
	}
}

func TestPlatformRegistry_UnknownPlatform(t *testing.T) {
	registry, err := NewPlatformRegistry(testPlatformConfigs()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = registry.Get("snapchat_ads")
	expectReason(t, err, ReasonUnsupportedPlatform)
}

func TestPlatformRegistry_ReturnsCopies(t *testing.T) {
	registry, err := NewPlatformRegistry(testPlatformConfigs()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cfg, _ := registry.Get(PlatformMetaAds)
	cfg.Scopes[0] = "mutated"
	cfg.ClientID = "mutated"

	again, _ := registry.Get(PlatformMetaAds)
	if again.Scopes[0] != "ads_read" || again.ClientID != "meta-client" {
		t.Fatalf("registry entry was mutated through a returned copy: %+v", again)
	}
}

func TestPlatformRegistry_RejectsInvalidConfigs(t *testing.T) {
	valid := testPlatformConfigs()[0]
	cases := map[string]func(cfg *PlatformConfig){
		"separator in key": func(cfg *PlatformConfig) { cfg.Key = "google.ads" },
		"uppercase key":    func(cfg *PlatformConfig) { cfg.Key = "GoogleAds" },
		"missing client":   func(cfg *PlatformConfig) { cfg.ClientID = "" },
		"missing redirect": func(cfg *PlatformConfig) { cfg.RedirectURI = "" },
		"plain http":       func(cfg *PlatformConfig) { cfg.TokenEndpoint = "http://accounts.example.test/token" },
		"relative url":     func(cfg *PlatformConfig) { cfg.AuthorizationEndpoint = "/oauth/authorize" },
		"no scopes":        func(cfg *PlatformConfig) { cfg.Scopes = []string{" "} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid.clone()
			mutate(&cfg)
			if _, err := NewPlatformRegistry(cfg); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestPlatformRegistry_AllowsLoopbackHTTPAndDedupesScopes(t *testing.T) {
	cfg := testPlatformConfigs()[0]
	cfg.TokenEndpoint = "http://127.0.0.1:8080/token"
	cfg.Scopes = []string{"a", "b", "a", " "}
	registry, err := NewPlatformRegistry(cfg)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	got, _ := registry.Get(cfg.Key)
	if strings.Join(got.Scopes, " ") != "a b" {
		t.Fatalf("expected de-duplicated scopes, got %v", got.Scopes)
	}
}

func TestPlatformRegistry_RejectsDuplicates(t *testing.T) {
	cfg := testPlatformConfigs()[0]
	if _, err := NewPlatformRegistry(cfg, cfg); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
