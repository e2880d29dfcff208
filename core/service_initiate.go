package core

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Initiate starts a connection attempt and returns the consent URL the user
// must be redirected to. It never contacts the platform.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (target RedirectTarget, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"platform": req.Platform,
		"user_id":  req.UserID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "initiate", err, fields)
	}()

	userID := strings.TrimSpace(req.UserID)
	platform := strings.TrimSpace(req.Platform)

	cfg, err := s.resolvePlatform(platform)
	if err != nil {
		err = s.mapError(err)
		return RedirectTarget{}, err
	}
	if userID == "" {
		err = NewFailure(ReasonUnauthenticated, "caller identity is required to initiate a connection", fields)
		return RedirectTarget{}, err
	}
	adapter, err := s.adapterFor(cfg.Key)
	if err != nil {
		return RedirectTarget{}, err
	}

	state, err := s.stateCodec.Issue(cfg.Key, userID)
	if err != nil {
		err = WrapFailure(err, ReasonInternal, "issue oauth state", fields)
		return RedirectTarget{}, err
	}
	authURL, err := BuildAuthorizationURL(cfg, state.Value, adapter.AuthorizationParams())
	if err != nil {
		err = WrapFailure(err, ReasonConfigurationError, "build authorization url", fields)
		return RedirectTarget{}, err
	}
	if err = s.stateStore.Save(ctx, state); err != nil {
		err = WrapFailure(err, ReasonInternal, "save oauth state", fields)
		return RedirectTarget{}, err
	}

	fields["state_expires_at"] = state.ExpiresAt
	return RedirectTarget{
		Platform:  cfg.Key,
		URL:       authURL,
		State:     state.Value,
		ExpiresAt: state.ExpiresAt,
	}, nil
}

// BuildAuthorizationURL composes the consent URL for cfg. Adapter parameters
// are added on top of the standard authorization-code parameters.
func BuildAuthorizationURL(cfg PlatformConfig, state string, extra url.Values) (string, error) {
	endpoint, err := url.Parse(strings.TrimSpace(cfg.AuthorizationEndpoint))
	if err != nil {
		return "", err
	}
	query := endpoint.Query()
	query.Set("response_type", "code")
	query.Set("client_id", cfg.ClientID)
	query.Set("redirect_uri", cfg.RedirectURI)
	query.Set("scope", strings.Join(cfg.Scopes, " "))
	query.Set("state", state)
	for key, values := range extra {
		query.Del(key)
		for _, value := range values {
			query.Add(key, value)
		}
	}
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}
