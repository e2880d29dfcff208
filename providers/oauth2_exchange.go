package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-adconnect/core"
)

const (
	maxTokenResponseBodyBytes = 1 << 20
	maxAPIResponseBodyBytes   = 4 << 20
	defaultRequestTimeout     = 15 * time.Second
)

// Settings carries what every platform adapter needs at construction.
type Settings struct {
	Platform   core.PlatformConfig
	APIBaseURL string
	Secrets    core.SecretSource
	HTTPClient *http.Client
	Timeout    time.Duration
	Now        func() time.Time
}

func (s Settings) normalized() Settings {
	if s.HTTPClient == nil {
		s.HTTPClient = &http.Client{}
	}
	if s.Timeout <= 0 {
		s.Timeout = defaultRequestTimeout
	}
	if s.Now == nil {
		s.Now = func() time.Time { return time.Now().UTC() }
	}
	if s.Secrets == nil {
		s.Secrets = core.EnvSecretSource{}
	}
	s.APIBaseURL = strings.TrimRight(strings.TrimSpace(s.APIBaseURL), "/")
	return s
}

// Client performs the HTTP calls shared by the platform adapters.
type Client struct {
	settings Settings
}

func NewClient(settings Settings) *Client {
	return &Client{settings: settings.normalized()}
}

func (c *Client) Settings() Settings {
	return c.settings
}

func (c *Client) Platform() string {
	return c.settings.Platform.Key
}

func (c *Client) HTTPClient() *http.Client {
	return c.settings.HTTPClient
}

func (c *Client) Now() time.Time {
	return c.settings.Now().UTC()
}

// APIURL joins path onto the configured API base, falling back to fallback.
func (c *Client) APIURL(fallback string, path string) string {
	base := c.settings.APIBaseURL
	if base == "" {
		base = strings.TrimRight(fallback, "/")
	}
	return base + "/" + strings.TrimLeft(path, "/")
}

// RequireSecret resolves a named secret or fails with a configuration error.
func (c *Client) RequireSecret(name string) (string, error) {
	value, ok := c.settings.Secrets.Lookup(name)
	if !ok {
		return "", core.MissingSecretError(c.Platform(), name)
	}
	return value, nil
}

func (c *Client) ClientSecret() (string, error) {
	return c.RequireSecret(core.ClientSecretName(c.Platform()))
}

// TokenRequest describes one call to a token endpoint.
type TokenRequest struct {
	Method string
	URL    string
	Form   url.Values
	JSON   any
	Header http.Header
}

// TokenPayload is the union of the token response fields the adapters read.
type TokenPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
}

// TokenSet converts the payload using now as the reference for expires_in.
func (p TokenPayload) TokenSet(now time.Time) core.TokenSet {
	tokens := core.TokenSet{
		AccessToken:  strings.TrimSpace(p.AccessToken),
		RefreshToken: strings.TrimSpace(p.RefreshToken),
		TokenType:    normalizeTokenType(p.TokenType),
		Scopes:       ParseScopeList(p.Scope),
	}
	if p.ExpiresIn > 0 {
		expiresAt := now.UTC().Add(time.Duration(p.ExpiresIn) * time.Second)
		tokens.ExpiresAt = &expiresAt
	}
	return tokens
}

// FetchToken calls a token endpoint and decodes a standard OAuth token body.
func (c *Client) FetchToken(ctx context.Context, req TokenRequest) (TokenPayload, error) {
	status, body, header, err := c.do(ctx, req, maxTokenResponseBodyBytes)
	if err != nil {
		return TokenPayload{}, c.ExchangeFailure(err, "token request failed", 0)
	}
	payload, parseErr := ParseTokenPayload(body, header.Get("Content-Type"))
	if parseErr != nil {
		return TokenPayload{}, c.ExchangeFailure(parseErr, "decode token response", status)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices || payload.ErrorCode != "" {
		return TokenPayload{}, c.ExchangeFailure(
			fmt.Errorf("token endpoint error (%d): %s", status, DescribeTokenError(payload)),
			"token endpoint rejected the code",
			status,
		)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return TokenPayload{}, c.ExchangeFailure(errors.New("token response missing access token"), "token response missing access token", status)
	}
	return payload, nil
}

// Do performs req and returns the raw response body for adapters with
// non-standard token envelopes.
func (c *Client) Do(ctx context.Context, req TokenRequest) (int, []byte, error) {
	status, body, _, err := c.do(ctx, req, maxTokenResponseBodyBytes)
	return status, body, err
}

// GetJSON performs an authenticated identity lookup and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, header http.Header, out any) error {
	status, body, _, err := c.do(ctx, TokenRequest{
		Method: http.MethodGet,
		URL:    endpoint,
		Header: header,
	}, maxAPIResponseBodyBytes)
	if err != nil {
		return c.LookupFailure(err, "account lookup request failed", 0)
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return c.LookupFailure(fmt.Errorf("account lookup status %d", status), "account lookup rejected", status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.LookupFailure(err, "decode account lookup response", status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, req TokenRequest, limit int64) (int, []byte, http.Header, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = http.MethodPost
	}

	requestCtx, cancel := context.WithTimeout(ctx, c.settings.Timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	switch {
	case req.JSON != nil:
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return 0, nil, nil, err
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	case len(req.Form) > 0 && method != http.MethodGet:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	endpoint := req.URL
	if method == http.MethodGet && len(req.Form) > 0 {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return 0, nil, nil, err
		}
		query := parsed.Query()
		for key, values := range req.Form {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		parsed.RawQuery = query.Encode()
		endpoint = parsed.String()
	}

	httpReq, err := http.NewRequestWithContext(requestCtx, method, endpoint, body)
	if err != nil {
		return 0, nil, nil, err
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	response, err := c.settings.HTTPClient.Do(httpReq)
	if err != nil {
		// url.Error repeats the full URL, which may carry the code or secret.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return 0, nil, nil, fmt.Errorf("%s %s: %w", urlErr.Op, stripQuery(req.URL), urlErr.Err)
		}
		return 0, nil, nil, err
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, limit+1))
	if err != nil {
		return response.StatusCode, nil, response.Header, fmt.Errorf("read response: %w", err)
	}
	if int64(len(raw)) > limit {
		return response.StatusCode, nil, response.Header, fmt.Errorf("response exceeds %d bytes", limit)
	}
	return response.StatusCode, raw, response.Header, nil
}

// ExchangeFailure wraps err as a token exchange failure for this platform.
func (c *Client) ExchangeFailure(err error, message string, status int) error {
	metadata := map[string]any{
		"platform": c.Platform(),
		"timeout":  errors.Is(err, context.DeadlineExceeded),
	}
	if status > 0 {
		metadata["provider_status"] = status
	}
	return core.WrapFailure(err, core.ReasonTokenExchangeFailed, message, metadata)
}

// LookupFailure wraps err as an account lookup failure for this platform.
func (c *Client) LookupFailure(err error, message string, status int) error {
	metadata := map[string]any{
		"platform": c.Platform(),
		"timeout":  errors.Is(err, context.DeadlineExceeded),
	}
	if status > 0 {
		metadata["provider_status"] = status
	}
	return core.WrapFailure(err, core.ReasonAccountLookupFailed, message, metadata)
}

func DescribeTokenError(payload TokenPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func ParseTokenPayload(body []byte, contentType string) (TokenPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	} else if strings.Contains(contentType, "json") {
		return TokenPayload{}, err
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (TokenPayload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return TokenPayload{}, fmt.Errorf("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var decoded map[string]any
	if err := decoder.Decode(&decoded); err != nil {
		return TokenPayload{}, err
	}
	return tokenPayloadFromMap(decoded), nil
}

func tokenPayloadFromMap(decoded map[string]any) TokenPayload {
	errorCode := ReadAnyString(decoded["error"])
	errorDescription := ReadAnyString(decoded["error_description"])
	// Graph API errors are nested objects.
	if nested, ok := decoded["error"].(map[string]any); ok {
		errorCode = ReadAnyString(nested["type"])
		errorDescription = ReadAnyString(nested["message"])
	}
	return TokenPayload{
		AccessToken:      ReadAnyString(decoded["access_token"]),
		TokenType:        ReadAnyString(decoded["token_type"]),
		RefreshToken:     ReadAnyString(decoded["refresh_token"]),
		Scope:            ReadAnyString(decoded["scope"]),
		ExpiresIn:        ReadAnyInt64(decoded["expires_in"]),
		ErrorCode:        errorCode,
		ErrorDescription: errorDescription,
	}
}

func parseTokenPayloadForm(body []byte) (TokenPayload, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return TokenPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return TokenPayload{}, err
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return TokenPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
	}, nil
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}

func ParseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func stripQuery(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}

func BearerHeader(accessToken string) http.Header {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+strings.TrimSpace(accessToken))
	return header
}

func ReadAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	case map[string]any, []any:
		return ""
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

// ReadRawID returns a JSON string or number literal as written, so large
// numeric ids keep every digit.
func ReadRawID(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return trimmed
}

func ReadAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}
