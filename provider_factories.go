package adconnect

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/providers"
	"github.com/goliatone/go-adconnect/providers/googleads"
	"github.com/goliatone/go-adconnect/providers/linkedinads"
	"github.com/goliatone/go-adconnect/providers/metaads"
	"github.com/goliatone/go-adconnect/providers/tiktokads"
)

func GoogleAdsAdapter(settings providers.Settings) (core.PlatformAdapter, error) {
	return googleads.New(settings)
}

func LinkedInAdsAdapter(settings providers.Settings) (core.PlatformAdapter, error) {
	return linkedinads.New(settings)
}

func MetaAdsAdapter(settings providers.Settings) (core.PlatformAdapter, error) {
	return metaads.New(settings)
}

func TikTokAdsAdapter(settings providers.Settings) (core.PlatformAdapter, error) {
	return tiktokads.New(settings)
}

type adapterFactory struct {
	defaults func() core.PlatformConfig
	build    func(providers.Settings) (core.PlatformAdapter, error)
}

var builtinAdapters = map[string]adapterFactory{
	core.PlatformGoogleAds:   {defaults: googleads.DefaultPlatformConfig, build: GoogleAdsAdapter},
	core.PlatformLinkedInAds: {defaults: linkedinads.DefaultPlatformConfig, build: LinkedInAdsAdapter},
	core.PlatformMetaAds:     {defaults: metaads.DefaultPlatformConfig, build: MetaAdsAdapter},
	core.PlatformTikTokAds:   {defaults: tiktokads.DefaultPlatformConfig, build: TikTokAdsAdapter},
}

// BuiltinPlatformKeys lists the platforms shipped with an adapter.
func BuiltinPlatformKeys() []string {
	return []string{
		core.PlatformGoogleAds,
		core.PlatformLinkedInAds,
		core.PlatformMetaAds,
		core.PlatformTikTokAds,
	}
}

// WithPlatformDefaults fills blank display names, scopes and endpoints of
// built-in platforms, so configuration only has to carry the client id,
// redirect uri and enabled flag.
func WithPlatformDefaults(cfg core.Config) core.Config {
	out := cfg
	out.Platforms = make([]core.PlatformSettings, 0, len(cfg.Platforms))
	for _, platform := range cfg.Platforms {
		factory, ok := builtinAdapters[strings.TrimSpace(platform.Key)]
		if !ok {
			out.Platforms = append(out.Platforms, platform)
			continue
		}
		defaults := factory.defaults()
		if strings.TrimSpace(platform.DisplayName) == "" {
			platform.DisplayName = defaults.DisplayName
		}
		if len(platform.Scopes) == 0 {
			platform.Scopes = append([]string(nil), defaults.Scopes...)
		}
		if strings.TrimSpace(platform.AuthorizationEndpoint) == "" {
			platform.AuthorizationEndpoint = defaults.AuthorizationEndpoint
		}
		if strings.TrimSpace(platform.TokenEndpoint) == "" {
			platform.TokenEndpoint = defaults.TokenEndpoint
		}
		out.Platforms = append(out.Platforms, platform)
	}
	return out
}

type AdapterOptions struct {
	Secrets    core.SecretSource
	HTTPClient *http.Client
}

// BuiltinAdapters builds one adapter per configured built-in platform.
// Disabled platforms still get an adapter so re-enabling them is a config
// change only. Unknown keys are an error.
func BuiltinAdapters(cfg core.Config, options AdapterOptions) ([]core.PlatformAdapter, error) {
	adapters := make([]core.PlatformAdapter, 0, len(cfg.Platforms))
	for _, platform := range cfg.Platforms {
		key := strings.TrimSpace(platform.Key)
		factory, ok := builtinAdapters[key]
		if !ok {
			return nil, fmt.Errorf("adconnect: no built-in adapter for platform %q", key)
		}
		if strings.TrimSpace(platform.ClientID) == "" {
			if platform.Enabled {
				return nil, fmt.Errorf("adconnect: platform %s requires client_id", key)
			}
			continue
		}
		adapter, err := factory.build(providers.Settings{
			Platform:   platform.PlatformConfig(),
			APIBaseURL: platform.APIBaseURL,
			Secrets:    options.Secrets,
			HTTPClient: options.HTTPClient,
			Timeout:    cfg.ProviderTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("adconnect: build %s adapter: %w", key, err)
		}
		adapters = append(adapters, adapter)
	}
	return adapters, nil
}
