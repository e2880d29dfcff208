package linkedinads

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/providers"
)

const (
	Platform   = core.PlatformLinkedInAds
	AuthURL    = "https://www.linkedin.com/oauth/v2/authorization"
	TokenURL   = "https://www.linkedin.com/oauth/v2/accessToken"
	APIBaseURL = "https://api.linkedin.com"
)

const (
	ScopeAds          = "r_ads"
	ScopeAdsReporting = "r_ads_reporting"
)

// APIVersion is sent as the LinkedIn-Version header on REST calls.
const APIVersion = "202409"

func DefaultPlatformConfig() core.PlatformConfig {
	return core.PlatformConfig{
		Key:                   Platform,
		DisplayName:           "LinkedIn Ads",
		Scopes:                []string{ScopeAds, ScopeAdsReporting},
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
		return nil, fmt.Errorf("linkedinads: client id is required")
	}
	return &Adapter{client: providers.NewClient(settings)}, nil
}

func (a *Adapter) Platform() string {
	return a.client.Platform()
}

func (a *Adapter) AuthorizationParams() url.Values {
	return nil
}

// ExpectsRefreshToken is true; LinkedIn only issues refresh tokens to
// approved marketing partners, so a missing one is logged rather than fatal.
func (a *Adapter) ExpectsRefreshToken() bool {
	return true
}

func (a *Adapter) Exchange(ctx context.Context, code string, redirectURI string) (core.TokenSet, error) {
	secret, err := a.client.ClientSecret()
	if err != nil {
		return core.TokenSet{}, err
	}
	settings := a.client.Settings()
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirectURI)
	form.Set("client_id", settings.Platform.ClientID)
	form.Set("client_secret", secret)

	payload, err := a.client.FetchToken(ctx, providers.TokenRequest{
		Method: http.MethodPost,
		URL:    settings.Platform.TokenEndpoint,
		Form:   form,
	})
	if err != nil {
		return core.TokenSet{}, err
	}
	tokens := payload.TokenSet(a.client.Now())
	if len(tokens.Scopes) == 0 {
		tokens.Scopes = append([]string(nil), settings.Platform.Scopes...)
	}
	return tokens, nil
}

type adAccountsResponse struct {
	Elements []struct {
		ID     json.RawMessage `json:"id"`
		Name   string          `json:"name"`
		Status string          `json:"status"`
		Type   string          `json:"type"`
	} `json:"elements"`
}

func (a *Adapter) ResolveAccounts(ctx context.Context, accessToken string) ([]core.AccountIdentity, error) {
	header := providers.BearerHeader(accessToken)
	header.Set("LinkedIn-Version", APIVersion)
	header.Set("X-Restli-Protocol-Version", "2.0.0")

	var payload adAccountsResponse
	endpoint := a.client.APIURL(APIBaseURL, "/rest/adAccounts?q=search")
	if err := a.client.GetJSON(ctx, endpoint, header, &payload); err != nil {
		return nil, err
	}

	accounts := make([]core.AccountIdentity, 0, len(payload.Elements))
	for _, element := range payload.Elements {
		id := providers.ReadRawID(element.ID)
		if id == "" {
			continue
		}
		metadata := map[string]any{}
		if element.Status != "" {
			metadata["status"] = element.Status
		}
		if element.Type != "" {
			metadata["type"] = element.Type
		}
		accounts = append(accounts, core.AccountIdentity{
			AccountID:   id,
			AccountName: strings.TrimSpace(element.Name),
			Metadata:    metadata,
		})
	}
	return accounts, nil
}

var _ core.PlatformAdapter = (*Adapter)(nil)
