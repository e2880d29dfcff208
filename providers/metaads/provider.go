package metaads

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/providers"
)

const (
	Platform     = core.PlatformMetaAds
	GraphVersion = "v23.0"
	AuthURL      = "https://www.facebook.com/" + GraphVersion + "/dialog/oauth"
	TokenURL     = "https://graph.facebook.com/" + GraphVersion + "/oauth/access_token"
	APIBaseURL   = "https://graph.facebook.com/" + GraphVersion
)

const (
	ScopeAdsRead            = "ads_read"
	ScopeAdsManagement      = "ads_management"
	ScopeBusinessManagement = "business_management"
)

const maxAccountPages = 10

func DefaultPlatformConfig() core.PlatformConfig {
	return core.PlatformConfig{
		Key:                   Platform,
		DisplayName:           "Meta Ads",
		Scopes:                []string{ScopeAdsRead, ScopeAdsManagement, ScopeBusinessManagement},
		AuthorizationEndpoint: AuthURL,
		TokenEndpoint:         TokenURL,
		Enabled:               true,
	}
}

type Adapter struct {
	client *providers.Client
	// swap the short-lived user token for a 60 day token
	longLived bool
}

type Option func(*Adapter)

func WithLongLivedExchange(enabled bool) Option {
	return func(a *Adapter) {
		a.longLived = enabled
	}
}

func New(settings providers.Settings, opts ...Option) (*Adapter, error) {
	if strings.TrimSpace(settings.Platform.Key) == "" {
		settings.Platform.Key = Platform
	}
	if strings.TrimSpace(settings.Platform.TokenEndpoint) == "" {
		settings.Platform.TokenEndpoint = TokenURL
	}
	if strings.TrimSpace(settings.Platform.ClientID) == "" {
		return nil, fmt.Errorf("metaads: client id is required")
	}
	adapter := &Adapter{client: providers.NewClient(settings), longLived: true}
	for _, opt := range opts {
		if opt != nil {
			opt(adapter)
		}
	}
	return adapter, nil
}

func (a *Adapter) Platform() string {
	return a.client.Platform()
}

func (a *Adapter) AuthorizationParams() url.Values {
	return nil
}

// ExpectsRefreshToken is false: Meta user tokens are renewed by reconnecting.
func (a *Adapter) ExpectsRefreshToken() bool {
	return false
}

// Exchange trades the code with a GET against the Graph token endpoint.
func (a *Adapter) Exchange(ctx context.Context, code string, redirectURI string) (core.TokenSet, error) {
	secret, err := a.client.ClientSecret()
	if err != nil {
		return core.TokenSet{}, err
	}
	settings := a.client.Settings()
	query := url.Values{}
	query.Set("client_id", settings.Platform.ClientID)
	query.Set("client_secret", secret)
	query.Set("redirect_uri", redirectURI)
	query.Set("code", code)

	payload, err := a.client.FetchToken(ctx, providers.TokenRequest{
		Method: http.MethodGet,
		URL:    settings.Platform.TokenEndpoint,
		Form:   query,
	})
	if err != nil {
		return core.TokenSet{}, err
	}

	if a.longLived {
		exchanged, err := a.client.FetchToken(ctx, providers.TokenRequest{
			Method: http.MethodGet,
			URL:    settings.Platform.TokenEndpoint,
			Form: url.Values{
				"grant_type":        {"fb_exchange_token"},
				"client_id":         {settings.Platform.ClientID},
				"client_secret":     {secret},
				"fb_exchange_token": {payload.AccessToken},
			},
		})
		if err != nil {
			return core.TokenSet{}, err
		}
		payload = exchanged
	}

	tokens := payload.TokenSet(a.client.Now())
	tokens.RefreshToken = ""
	if len(tokens.Scopes) == 0 {
		tokens.Scopes = append([]string(nil), settings.Platform.Scopes...)
	}
	return tokens, nil
}

type adAccountsPage struct {
	Data []struct {
		ID        string `json:"id"`
		AccountID string `json:"account_id"`
		Name      string `json:"name"`
	} `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

func (a *Adapter) ResolveAccounts(ctx context.Context, accessToken string) ([]core.AccountIdentity, error) {
	header := providers.BearerHeader(accessToken)
	endpoint := a.client.APIURL(APIBaseURL, "/me/adaccounts?fields=account_id,name&limit=100")

	accounts := make([]core.AccountIdentity, 0)
	for page := 0; page < maxAccountPages && endpoint != ""; page++ {
		var payload adAccountsPage
		if err := a.client.GetJSON(ctx, endpoint, header, &payload); err != nil {
			return nil, err
		}
		for _, entry := range payload.Data {
			id := strings.TrimSpace(entry.AccountID)
			if id == "" {
				id = strings.TrimPrefix(strings.TrimSpace(entry.ID), "act_")
			}
			if id == "" {
				continue
			}
			accounts = append(accounts, core.AccountIdentity{
				AccountID:   id,
				AccountName: strings.TrimSpace(entry.Name),
				Metadata:    map[string]any{"graph_id": entry.ID},
			})
		}
		endpoint = withoutAccessToken(payload.Paging.Next)
	}
	return accounts, nil
}

// withoutAccessToken drops the token Graph echoes into paging links so it
// travels only in the Authorization header.
func withoutAccessToken(next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return ""
	}
	parsed, err := url.Parse(next)
	if err != nil {
		return ""
	}
	query := parsed.Query()
	query.Del("access_token")
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

var _ core.PlatformAdapter = (*Adapter)(nil)
