package googleads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/providers"
	"golang.org/x/oauth2"
)

const (
	Platform   = core.PlatformGoogleAds
	AuthURL    = "https://accounts.google.com/o/oauth2/v2/auth"
	TokenURL   = "https://oauth2.googleapis.com/token"
	APIBaseURL = "https://googleads.googleapis.com"
	APIVersion = "v17"
)

const ScopeAdWords = "https://www.googleapis.com/auth/adwords"

// DeveloperTokenSecret names the Google Ads API developer token secret.
var DeveloperTokenSecret = core.SecretName(Platform, "DEVELOPER_TOKEN")

func DefaultPlatformConfig() core.PlatformConfig {
	return core.PlatformConfig{
		Key:                   Platform,
		DisplayName:           "Google Ads",
		Scopes:                []string{ScopeAdWords},
		AuthorizationEndpoint: AuthURL,
		TokenEndpoint:         TokenURL,
		Enabled:               true,
	}
}

type Adapter struct {
	client *providers.Client
}

func New(settings providers.Settings) (*Adapter, error) {
	if strings.TrimSpace(settings.Platform.Key) == "" {
		settings.Platform.Key = Platform
	}
	if strings.TrimSpace(settings.Platform.TokenEndpoint) == "" {
		settings.Platform.TokenEndpoint = TokenURL
	}
	if strings.TrimSpace(settings.Platform.ClientID) == "" {
		return nil, fmt.Errorf("googleads: client id is required")
	}
	return &Adapter{client: providers.NewClient(settings)}, nil
}

func (a *Adapter) Platform() string {
	return a.client.Platform()
}

// AuthorizationParams requests offline access and forces the consent screen
// so every exchange returns a refresh token.
func (a *Adapter) AuthorizationParams() url.Values {
	return url.Values{
		"access_type":            {"offline"},
		"prompt":                 {"consent"},
		"include_granted_scopes": {"true"},
	}
}

func (a *Adapter) ExpectsRefreshToken() bool {
	return true
}

func (a *Adapter) Exchange(ctx context.Context, code string, redirectURI string) (core.TokenSet, error) {
	secret, err := a.client.ClientSecret()
	if err != nil {
		return core.TokenSet{}, err
	}
	if _, err := a.client.RequireSecret(DeveloperTokenSecret); err != nil {
		return core.TokenSet{}, err
	}

	settings := a.client.Settings()
	conf := &oauth2.Config{
		ClientID:     settings.Platform.ClientID,
		ClientSecret: secret,
		RedirectURL:  redirectURI,
		Scopes:       append([]string(nil), settings.Platform.Scopes...),
		Endpoint: oauth2.Endpoint{
			AuthURL:   settings.Platform.AuthorizationEndpoint,
			TokenURL:  settings.Platform.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, a.client.HTTPClient())

	token, err := conf.Exchange(exchangeCtx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			reason := strings.TrimSpace(retrieveErr.ErrorCode)
			if reason == "" {
				reason = "unknown error"
			}
			return core.TokenSet{}, a.client.ExchangeFailure(
				fmt.Errorf("token endpoint error (%d): %s", status, reason),
				"token endpoint rejected the code",
				status,
			)
		}
		return core.TokenSet{}, a.client.ExchangeFailure(err, "token request failed", 0)
	}

	tokens := core.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    strings.ToLower(token.Type()),
	}
	if !token.Expiry.IsZero() {
		expiresAt := token.Expiry.UTC()
		tokens.ExpiresAt = &expiresAt
	}
	if scope, ok := token.Extra("scope").(string); ok {
		tokens.Scopes = providers.ParseScopeList(scope)
	}
	return tokens, nil
}

type listAccessibleCustomersResponse struct {
	ResourceNames []string `json:"resourceNames"`
}

// ResolveAccounts lists the customers the token can reach. Names are not part
// of this endpoint, so accounts are labelled with the formatted customer id.
func (a *Adapter) ResolveAccounts(ctx context.Context, accessToken string) ([]core.AccountIdentity, error) {
	developerToken, err := a.client.RequireSecret(DeveloperTokenSecret)
	if err != nil {
		return nil, err
	}
	header := providers.BearerHeader(accessToken)
	header.Set("developer-token", developerToken)

	var payload listAccessibleCustomersResponse
	endpoint := a.client.APIURL(APIBaseURL, "/"+APIVersion+"/customers:listAccessibleCustomers")
	if err := a.client.GetJSON(ctx, endpoint, header, &payload); err != nil {
		return nil, err
	}

	accounts := make([]core.AccountIdentity, 0, len(payload.ResourceNames))
	for _, resource := range payload.ResourceNames {
		customerID := strings.TrimSpace(strings.TrimPrefix(resource, "customers/"))
		if customerID == "" {
			continue
		}
		accounts = append(accounts, core.AccountIdentity{
			AccountID:   customerID,
			AccountName: "Google Ads " + FormatCustomerID(customerID),
			Metadata:    map[string]any{"resource_name": resource},
		})
	}
	return accounts, nil
}

// FormatCustomerID renders a ten digit customer id as 123-456-7890.
func FormatCustomerID(id string) string {
	if len(id) != 10 {
		return id
	}
	return id[:3] + "-" + id[3:6] + "-" + id[6:]
}

var _ core.PlatformAdapter = (*Adapter)(nil)
