// Package adconnect connects user accounts on advertising platforms over
// OAuth and keeps their credentials.
package adconnect

import (
	"net/http"
	"strings"

	"github.com/goliatone/go-adconnect/core"
)

type Config = core.Config

type Option = core.Option

type Service = core.Service

type PlatformConfig = core.PlatformConfig
type PlatformAdapter = core.PlatformAdapter
type ConnectedAccount = core.ConnectedAccount
type StateStore = core.StateStore
type CredentialStore = core.CredentialStore
type ConnectionLimitPolicy = core.ConnectionLimitPolicy
type SecretSource = core.SecretSource

type InitiateRequest = core.InitiateRequest
type RedirectTarget = core.RedirectTarget
type CallbackRequest = core.CallbackRequest
type CallbackResult = core.CallbackResult
type DisconnectRequest = core.DisconnectRequest

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorMapper           = core.WithErrorMapper
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithPlatformRegistry      = core.WithPlatformRegistry
	WithPlatformAdapters      = core.WithPlatformAdapters
	WithStateStore            = core.WithStateStore
	WithStateSecret           = core.WithStateSecret
	WithCredentialStore       = core.WithCredentialStore
	WithConnectionLimitPolicy = core.WithConnectionLimitPolicy
	WithAccountSelector       = core.WithAccountSelector
	WithClock                 = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

// Dependencies are the collaborators Setup wires around the built-in
// adapters. Nil stores fall back to the in-memory implementations.
type Dependencies struct {
	Secrets         core.SecretSource
	HTTPClient      *http.Client
	StateStore      core.StateStore
	CredentialStore core.CredentialStore
	LimitPolicy     core.ConnectionLimitPolicy
	Options         []Option
}

// Setup builds a Service for cfg with one built-in adapter per configured
// platform. The state signing secret is read from ADCONNECT_STATE_SECRET.
func Setup(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Secrets == nil {
		deps.Secrets = core.EnvSecretSource{}
	}
	stateSecret, ok := deps.Secrets.Lookup(core.StateSecretName)
	if !ok || strings.TrimSpace(stateSecret) == "" {
		return nil, core.NewFailure(
			core.ReasonConfigurationError,
			"missing required setting "+core.StateSecretName,
			map[string]any{"missing_setting": core.StateSecretName},
		)
	}

	cfg = WithPlatformDefaults(cfg)
	adapters, err := BuiltinAdapters(cfg, AdapterOptions{
		Secrets:    deps.Secrets,
		HTTPClient: deps.HTTPClient,
	})
	if err != nil {
		return nil, core.WrapFailure(err, core.ReasonConfigurationError, "build platform adapters", nil)
	}

	opts := []Option{
		core.WithPlatformAdapters(adapters...),
		core.WithStateSecret([]byte(stateSecret)),
	}
	if deps.StateStore != nil {
		opts = append(opts, core.WithStateStore(deps.StateStore))
	}
	if deps.CredentialStore != nil {
		opts = append(opts, core.WithCredentialStore(deps.CredentialStore))
	}
	if deps.LimitPolicy != nil {
		opts = append(opts, core.WithConnectionLimitPolicy(deps.LimitPolicy))
	}
	opts = append(opts, deps.Options...)
	return core.NewService(cfg, opts...)
}
