package core

import (
	"context"
	"net/url"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

// TokenExchanger trades an authorization code for tokens at the platform
// token endpoint. redirectURI must equal the one sent at initiation.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string, redirectURI string) (TokenSet, error)
}

// AccountIdentityResolver lists the advertiser accounts an access token can
// reach. An empty list is a valid result.
type AccountIdentityResolver interface {
	ResolveAccounts(ctx context.Context, accessToken string) ([]AccountIdentity, error)
}

// PlatformAdapter is the per-platform implementation of the OAuth flow.
type PlatformAdapter interface {
	TokenExchanger
	AccountIdentityResolver
	Platform() string
	// AuthorizationParams returns extra query parameters for the consent URL.
	AuthorizationParams() url.Values
	// ExpectsRefreshToken reports whether a healthy exchange returns a refresh token.
	ExpectsRefreshToken() bool
}

// StateStore holds at most one pending state per (user, platform).
type StateStore interface {
	// Save replaces any pending state of the same user and platform.
	Save(ctx context.Context, state OAuthState) error
	// Consume removes and returns the pending state. Missing or expired
	// entries fail with ErrStateNotFound.
	Consume(ctx context.Context, userID string, platform string) (OAuthState, error)
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

type CredentialStore interface {
	// Upsert inserts or updates by (user, platform, account) without a limit.
	Upsert(ctx context.Context, account ConnectedAccount) (ConnectedAccount, error)
	// UpsertWithinLimit performs the limit check and the write atomically.
	// Updating an already active account never counts against the limit.
	UpsertWithinLimit(ctx context.Context, account ConnectedAccount, maxActive int) (UpsertResult, error)
	Deactivate(ctx context.Context, key AccountKey) error
	Get(ctx context.Context, key AccountKey) (ConnectedAccount, error)
	ListActive(ctx context.Context, userID string) ([]ConnectedAccount, error)
	CountActive(ctx context.Context, userID string) (int, error)
}

type UpsertResult struct {
	Account ConnectedAccount
	// Existed is true when an active account with the same key was updated.
	Existed bool
	// Reactivated is true when a previously disconnected account came back.
	Reactivated bool
}

// ConnectionLimitPolicy reports the maximum number of simultaneously active
// accounts a user may hold.
type ConnectionLimitPolicy interface {
	MaxConnections(ctx context.Context, userID string) (int, error)
}

// AccountSelector chooses the account to persist when a login reaches several.
type AccountSelector interface {
	Select(ctx context.Context, userID string, platform string, accounts []AccountIdentity) (AccountIdentity, error)
}

// SecretSource resolves named secrets such as client secrets.
type SecretSource interface {
	Lookup(name string) (string, bool)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}
