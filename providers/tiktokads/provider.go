package tiktokads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/providers"
)

const (
	Platform   = core.PlatformTikTokAds
	AuthURL    = "https://business-api.tiktok.com/portal/auth"
	TokenURL   = "https://business-api.tiktok.com/open_api/v1.3/oauth2/access_token/"
	APIBaseURL = "https://business-api.tiktok.com/open_api/v1.3"
)

const (
	ScopeAdvertiserRead = "advertiser.read"
	ScopeReportingRead  = "reporting.read"
)

const codeOK = 0

func DefaultPlatformConfig() core.PlatformConfig {
	return core.PlatformConfig{
		Key:                   Platform,
		DisplayName:           "TikTok Ads",
		Scopes:                []string{ScopeAdvertiserRead, ScopeReportingRead},
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
		return nil, fmt.Errorf("tiktokads: app id is required")
	}
	return &Adapter{client: providers.NewClient(settings)}, nil
}

func (a *Adapter) Platform() string {
	return a.client.Platform()
}

// AuthorizationParams adds app_id; the portal ignores client_id.
func (a *Adapter) AuthorizationParams() url.Values {
	return url.Values{"app_id": {a.client.Settings().Platform.ClientID}}
}

func (a *Adapter) ExpectsRefreshToken() bool {
	return false
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

type tokenData struct {
	AccessToken   string   `json:"access_token"`
	AdvertiserIDs []string `json:"advertiser_ids"`
}

// Exchange posts a JSON body; TikTok reports failures inside a 200 envelope.
func (a *Adapter) Exchange(ctx context.Context, code string, _ string) (core.TokenSet, error) {
	secret, err := a.client.ClientSecret()
	if err != nil {
		return core.TokenSet{}, err
	}
	settings := a.client.Settings()
	status, body, err := a.client.Do(ctx, providers.TokenRequest{
		Method: http.MethodPost,
		URL:    settings.Platform.TokenEndpoint,
		JSON: map[string]string{
			"app_id":    settings.Platform.ClientID,
			"secret":    secret,
			"auth_code": code,
		},
	})
	if err != nil {
		return core.TokenSet{}, a.client.ExchangeFailure(err, "token request failed", 0)
	}

	var data tokenData
	if err := decodeEnvelope(status, body, &data); err != nil {
		return core.TokenSet{}, a.client.ExchangeFailure(err, "token endpoint rejected the code", status)
	}
	if strings.TrimSpace(data.AccessToken) == "" {
		return core.TokenSet{}, a.client.ExchangeFailure(errors.New("token response missing access token"), "token response missing access token", status)
	}
	return core.TokenSet{
		AccessToken: strings.TrimSpace(data.AccessToken),
		TokenType:   "bearer",
		Scopes:      append([]string(nil), settings.Platform.Scopes...),
	}, nil
}

type advertiserData struct {
	List []struct {
		AdvertiserID   json.RawMessage `json:"advertiser_id"`
		AdvertiserName string          `json:"advertiser_name"`
	} `json:"list"`
}

func (a *Adapter) ResolveAccounts(ctx context.Context, accessToken string) ([]core.AccountIdentity, error) {
	secret, err := a.client.ClientSecret()
	if err != nil {
		return nil, err
	}
	settings := a.client.Settings()
	query := url.Values{}
	query.Set("app_id", settings.Platform.ClientID)
	query.Set("secret", secret)

	header := http.Header{}
	header.Set("Access-Token", strings.TrimSpace(accessToken))

	status, body, err := a.client.Do(ctx, providers.TokenRequest{
		Method: http.MethodGet,
		URL:    a.client.APIURL(APIBaseURL, "/oauth2/advertiser/get/"),
		Form:   query,
		Header: header,
	})
	if err != nil {
		return nil, a.client.LookupFailure(err, "account lookup request failed", 0)
	}

	var data advertiserData
	if err := decodeEnvelope(status, body, &data); err != nil {
		return nil, a.client.LookupFailure(err, "account lookup rejected", status)
	}

	accounts := make([]core.AccountIdentity, 0, len(data.List))
	for _, entry := range data.List {
		id := providers.ReadRawID(entry.AdvertiserID)
		if id == "" {
			continue
		}
		accounts = append(accounts, core.AccountIdentity{
			AccountID:   id,
			AccountName: strings.TrimSpace(entry.AdvertiserName),
		})
	}
	return accounts, nil
}

func decodeEnvelope(status int, body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status < http.StatusOK || status >= http.StatusMultipleChoices {
			return fmt.Errorf("status %d", status)
		}
		return fmt.Errorf("decode envelope: %w", err)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return fmt.Errorf("status %d: code %d", status, env.Code)
	}
	if env.Code != codeOK {
		return fmt.Errorf("api code %d: %s", env.Code, strings.TrimSpace(env.Message))
	}
	if len(env.Data) == 0 {
		return errors.New("envelope missing data")
	}
	return json.Unmarshal(env.Data, out)
}

var _ core.PlatformAdapter = (*Adapter)(nil)
