package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	registry        *PlatformRegistry
	adapters        []PlatformAdapter
	stateStore      StateStore
	stateCodec      *StateCodec
	stateSecret     []byte
	credentialStore CredentialStore
	limitPolicy     ConnectionLimitPolicy
	accountSelector AccountSelector
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithPlatformRegistry injects the platform registry. Without it the registry
// is built from Config.Platforms.
func WithPlatformRegistry(registry *PlatformRegistry) Option {
	return func(b *serviceBuilder) {
		b.registry = registry
	}
}

func WithPlatformAdapters(adapters ...PlatformAdapter) Option {
	return func(b *serviceBuilder) {
		b.adapters = append(b.adapters, adapters...)
	}
}

func WithStateStore(store StateStore) Option {
	return func(b *serviceBuilder) {
		b.stateStore = store
	}
}

func WithStateCodec(codec *StateCodec) Option {
	return func(b *serviceBuilder) {
		b.stateCodec = codec
	}
}

// WithStateSecret sets the secret the state codec derives its keys from.
func WithStateSecret(secret []byte) Option {
	return func(b *serviceBuilder) {
		b.stateSecret = append([]byte(nil), secret...)
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *serviceBuilder) {
		b.credentialStore = store
	}
}

func WithConnectionLimitPolicy(policy ConnectionLimitPolicy) Option {
	return func(b *serviceBuilder) {
		b.limitPolicy = policy
	}
}

func WithAccountSelector(selector AccountSelector) Option {
	return func(b *serviceBuilder) {
		b.accountSelector = selector
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("adconnect", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		accountSelector: FirstAccountSelector{},
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return serviceErrorMapper(err)
}

// StaticRawConfigLoader serves a fixed raw configuration map.
type StaticRawConfigLoader struct {
	Values map[string]any
}

func (l StaticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig resolves defaults, the loader output and runtime overrides into
// one validated Config.
func LoadConfig(ctx context.Context, loader RawConfigLoader, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(loader).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	oauth := map[string]any{}
	if includeZero || cfg.OAuth.StateTTLSeconds > 0 {
		oauth["state_ttl_seconds"] = cfg.OAuth.StateTTLSeconds
	}
	if includeZero || cfg.OAuth.ProviderTimeoutSeconds > 0 {
		oauth["provider_timeout_seconds"] = cfg.OAuth.ProviderTimeoutSeconds
	}
	if len(oauth) > 0 {
		layer["oauth"] = oauth
	}

	limits := map[string]any{}
	if includeZero || cfg.Limits.DefaultMaxConnections > 0 {
		limits["default_max_connections"] = cfg.Limits.DefaultMaxConnections
	}
	if includeZero || cfg.Limits.CacheTTLSeconds > 0 {
		limits["cache_ttl_seconds"] = cfg.Limits.CacheTTLSeconds
	}
	if len(cfg.Limits.Plans) > 0 {
		plans := make(map[string]any, len(cfg.Limits.Plans))
		for plan, limit := range cfg.Limits.Plans {
			plans[plan] = limit
		}
		limits["plans"] = plans
	}
	if len(limits) > 0 {
		layer["limits"] = limits
	}

	if len(cfg.Platforms) > 0 {
		platforms := make([]any, 0, len(cfg.Platforms))
		for _, platform := range cfg.Platforms {
			platforms = append(platforms, map[string]any{
				"key":                    platform.Key,
				"display_name":           platform.DisplayName,
				"client_id":              platform.ClientID,
				"scopes":                 append([]string(nil), platform.Scopes...),
				"authorization_endpoint": platform.AuthorizationEndpoint,
				"token_endpoint":         platform.TokenEndpoint,
				"api_base_url":           platform.APIBaseURL,
				"redirect_uri":           platform.RedirectURI,
				"enabled":                platform.Enabled,
			})
		}
		layer["platforms"] = platforms
	}
	return layer
}
