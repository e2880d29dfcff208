package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const defaultProviderTimeout = 15 * time.Second

// Service runs the OAuth connection flow for advertising platforms.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	registry        *PlatformRegistry
	adapters        map[string]PlatformAdapter
	stateStore      StateStore
	stateCodec      *StateCodec
	credentialStore CredentialStore
	limitPolicy     ConnectionLimitPolicy
	accountSelector AccountSelector
	now             func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("adconnect", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("adconnect"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.accountSelector == nil {
		builder.accountSelector = FirstAccountSelector{}
	}
	if builder.now == nil {
		builder.now = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.registry == nil {
		registry, buildErr := NewPlatformRegistry(finalConfig.PlatformConfigs()...)
		if buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		builder.registry = registry
	}
	if builder.stateCodec == nil {
		if len(builder.stateSecret) == 0 {
			return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: state secret is required"))
		}
		codec, codecErr := NewStateCodec(builder.stateSecret, finalConfig.StateTTL())
		if codecErr != nil {
			return nil, mapBuildError(builder.errorMapper, codecErr)
		}
		codec.now = builder.now
		builder.stateCodec = codec
	}
	if builder.stateStore == nil {
		store := NewMemoryStateStore()
		store.now = builder.now
		builder.stateStore = store
	}
	if builder.credentialStore == nil {
		store := NewMemoryCredentialStore()
		store.now = builder.now
		builder.credentialStore = store
	}
	if builder.limitPolicy == nil {
		builder.limitPolicy = FixedConnectionLimit(finalConfig.Limits.DefaultMaxConnections)
	}

	adapters := make(map[string]PlatformAdapter, len(builder.adapters))
	for _, adapter := range builder.adapters {
		if adapter == nil {
			continue
		}
		key := strings.TrimSpace(adapter.Platform())
		if !builder.registry.Has(key) {
			return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: adapter for unregistered platform %q", key))
		}
		if _, exists := adapters[key]; exists {
			return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: duplicate adapter for platform %q", key))
		}
		adapters[key] = adapter
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		registry:        builder.registry,
		adapters:        adapters,
		stateStore:      builder.stateStore,
		stateCodec:      builder.stateCodec,
		credentialStore: builder.credentialStore,
		limitPolicy:     builder.limitPolicy,
		accountSelector: builder.accountSelector,
		now:             builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Registry() *PlatformRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

// resolvePlatform returns the config of an enabled platform.
func (s *Service) resolvePlatform(key string) (PlatformConfig, error) {
	if s == nil || s.registry == nil {
		return PlatformConfig{}, NewFailure(ReasonConfigurationError, "platform registry unavailable", nil)
	}
	cfg, err := s.registry.Get(key)
	if err != nil {
		return PlatformConfig{}, err
	}
	if !cfg.Enabled {
		return PlatformConfig{}, NewFailure(
			ReasonPlatformDisabled,
			fmt.Sprintf("platform %q is disabled", cfg.Key),
			map[string]any{"platform": cfg.Key},
		)
	}
	return cfg, nil
}

func (s *Service) adapterFor(platform string) (PlatformAdapter, error) {
	adapter, ok := s.adapters[platform]
	if !ok || adapter == nil {
		return nil, NewFailure(
			ReasonConfigurationError,
			fmt.Sprintf("platform %q has no adapter configured", platform),
			map[string]any{"platform": platform},
		)
	}
	return adapter, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) currentTime() time.Time {
	if s == nil || s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}
