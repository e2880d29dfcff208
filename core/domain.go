package core

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

const (
	PlatformGoogleAds   = "google_ads"
	PlatformLinkedInAds = "linkedin_ads"
	PlatformMetaAds     = "meta_ads"
	PlatformTikTokAds   = "tiktok_ads"
)

// PlatformConfig is the static OAuth configuration of one advertising platform.
// Values are loaded once at startup and never mutated afterwards.
type PlatformConfig struct {
	Key                   string
	DisplayName           string
	ClientID              string
	Scopes                []string
	AuthorizationEndpoint string
	TokenEndpoint         string
	RedirectURI           string
	Enabled               bool
}

func (c PlatformConfig) clone() PlatformConfig {
	cloned := c
	cloned.Scopes = append([]string(nil), c.Scopes...)
	return cloned
}

// Name returns the display name, falling back to the key.
func (c PlatformConfig) Name() string {
	if name := strings.TrimSpace(c.DisplayName); name != "" {
		return name
	}
	return c.Key
}

// TokenSet holds the credentials returned by a token exchange. Its formatting
// methods never print token material.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    *time.Time
	Scopes       []string
}

func (t TokenSet) HasRefreshToken() bool {
	return strings.TrimSpace(t.RefreshToken) != ""
}

func (t TokenSet) String() string {
	expires := "none"
	if t.ExpiresAt != nil {
		expires = t.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf(
		"TokenSet{access_token:%s refresh_token:%s expires_at:%s}",
		redactedOrEmpty(t.AccessToken),
		redactedOrEmpty(t.RefreshToken),
		expires,
	)
}

func (t TokenSet) GoString() string {
	return t.String()
}

func (t TokenSet) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("access_token", redactedOrEmpty(t.AccessToken)),
		slog.String("refresh_token", redactedOrEmpty(t.RefreshToken)),
	}
	if t.ExpiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", t.ExpiresAt.UTC()))
	}
	return slog.GroupValue(attrs...)
}

func (t TokenSet) clone() TokenSet {
	cloned := t
	if t.ExpiresAt != nil {
		expires := *t.ExpiresAt
		cloned.ExpiresAt = &expires
	}
	cloned.Scopes = append([]string(nil), t.Scopes...)
	return cloned
}

func redactedOrEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return RedactedValue
}

// AccountIdentity is one advertiser account visible to an access token.
type AccountIdentity struct {
	AccountID   string
	AccountName string
	Metadata    map[string]any
}

// AccountKey is the natural key of a connected account.
type AccountKey struct {
	UserID    string
	Platform  string
	AccountID string
}

func (k AccountKey) Validate() error {
	if strings.TrimSpace(k.UserID) == "" {
		return fmt.Errorf("core: user id is required")
	}
	if strings.TrimSpace(k.Platform) == "" {
		return fmt.Errorf("core: platform is required")
	}
	if strings.TrimSpace(k.AccountID) == "" {
		return fmt.Errorf("core: account id is required")
	}
	return nil
}

func (k AccountKey) String() string {
	return k.UserID + "/" + k.Platform + "/" + k.AccountID
}

type ConnectedAccount struct {
	ID             string
	UserID         string
	Platform       string
	AccountID      string
	AccountName    string
	Tokens         TokenSet
	IsActive       bool
	ConnectedAt    time.Time
	UpdatedAt      time.Time
	DisconnectedAt *time.Time
}

func (a ConnectedAccount) Key() AccountKey {
	return AccountKey{UserID: a.UserID, Platform: a.Platform, AccountID: a.AccountID}
}

func (a ConnectedAccount) clone() ConnectedAccount {
	cloned := a
	cloned.Tokens = a.Tokens.clone()
	if a.DisconnectedAt != nil {
		at := *a.DisconnectedAt
		cloned.DisconnectedAt = &at
	}
	return cloned
}

// OAuthState is the pending authorization attempt of a user on one platform.
type OAuthState struct {
	Value     string
	Platform  string
	UserID    string
	Nonce     string
	OwnerHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (s OAuthState) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type InitiateRequest struct {
	UserID   string
	Platform string
}

type RedirectTarget struct {
	Platform  string
	URL       string
	State     string
	ExpiresAt time.Time
}

type CallbackRequest struct {
	UserID           string
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// ParseCallbackQuery reads the provider redirect query into a CallbackRequest.
func ParseCallbackQuery(userID string, query url.Values) CallbackRequest {
	req := CallbackRequest{
		UserID:           strings.TrimSpace(userID),
		Code:             strings.TrimSpace(query.Get("code")),
		State:            strings.TrimSpace(query.Get("state")),
		Error:            strings.TrimSpace(query.Get("error")),
		ErrorDescription: strings.TrimSpace(query.Get("error_description")),
	}
	// TikTok returns auth_code instead of code.
	if req.Code == "" {
		req.Code = strings.TrimSpace(query.Get("auth_code"))
	}
	return req
}

type CallbackStage string

const (
	CallbackStageReceived         CallbackStage = "received"
	CallbackStageStateValidated   CallbackStage = "state_validated"
	CallbackStageCodeExchanged    CallbackStage = "code_exchanged"
	CallbackStageIdentityResolved CallbackStage = "identity_resolved"
	CallbackStageLimitChecked     CallbackStage = "limit_checked"
	CallbackStagePersisted        CallbackStage = "persisted"
	CallbackStageFailed           CallbackStage = "failed"
)

var callbackStageTransitions = map[CallbackStage]map[CallbackStage]bool{
	CallbackStageReceived: {
		CallbackStageStateValidated: true,
		CallbackStageFailed:         true,
	},
	CallbackStageStateValidated: {
		CallbackStageCodeExchanged: true,
		CallbackStageFailed:        true,
	},
	CallbackStageCodeExchanged: {
		CallbackStageIdentityResolved: true,
		CallbackStageFailed:           true,
	},
	CallbackStageIdentityResolved: {
		CallbackStageLimitChecked: true,
		CallbackStageFailed:       true,
	},
	CallbackStageLimitChecked: {
		CallbackStagePersisted: true,
		CallbackStageFailed:    true,
	},
}

// CanTransitionTo reports whether next is a legal successor of the stage.
// persisted and failed are terminal.
func (s CallbackStage) CanTransitionTo(next CallbackStage) bool {
	return callbackStageTransitions[s][next]
}

func (s CallbackStage) Terminal() bool {
	return s == CallbackStagePersisted || s == CallbackStageFailed
}

type CallbackResult struct {
	Stage       CallbackStage
	Platform    string
	Account     ConnectedAccount
	Accounts    []AccountIdentity
	Reconnected bool
}

type DisconnectRequest struct {
	UserID    string
	Platform  string
	AccountID string
}
