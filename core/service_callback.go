package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type callbackRun struct {
	stage CallbackStage
}

func (r *callbackRun) advance(next CallbackStage) error {
	if !r.stage.CanTransitionTo(next) {
		return NewFailure(
			ReasonInternal,
			fmt.Sprintf("invalid callback transition %s -> %s", r.stage, next),
			nil,
		)
	}
	r.stage = next
	return nil
}

func (r *callbackRun) fail() {
	if !r.stage.Terminal() {
		r.stage = CallbackStageFailed
	}
}

// HandleCallback completes a connection attempt from the provider redirect.
// Every failure is terminal; nothing is retried.
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (result CallbackResult, err error) {
	startedAt := time.Now().UTC()
	run := &callbackRun{stage: CallbackStageReceived}
	fields := map[string]any{
		"user_id": req.UserID,
	}
	defer func() {
		if err != nil {
			fields["failed_at_stage"] = string(run.stage)
			run.fail()
		}
		result.Stage = run.stage
		fields["stage"] = string(run.stage)
		s.observeOperation(ctx, startedAt, "handle_callback", err, fields)
	}()

	userID := strings.TrimSpace(req.UserID)
	code := strings.TrimSpace(req.Code)
	stateValue := strings.TrimSpace(req.State)

	if providerErr := strings.TrimSpace(req.Error); providerErr != "" {
		err = NewFailure(ReasonProviderDenied, "provider returned an authorization error", map[string]any{
			"provider_error":       providerErr,
			"provider_description": strings.TrimSpace(req.ErrorDescription),
		})
		return result, err
	}
	if code == "" {
		err = NewFailure(ReasonMissingCode, "callback is missing the authorization code", nil)
		return result, err
	}
	if stateValue == "" {
		err = NewFailure(ReasonMissingState, "callback is missing the state parameter", nil)
		return result, err
	}

	platform, parseErr := PlatformFromState(stateValue)
	if parseErr != nil {
		err = WrapFailure(parseErr, ReasonStateMismatch, "callback state is malformed", nil)
		return result, err
	}
	fields["platform"] = platform
	result.Platform = platform

	cfg, err := s.resolvePlatform(platform)
	if err != nil {
		err = s.mapError(err)
		return result, err
	}
	if userID == "" {
		err = NewFailure(ReasonUnauthenticated, "caller identity is required to complete a connection", nil)
		return result, err
	}
	adapter, err := s.adapterFor(cfg.Key)
	if err != nil {
		return result, err
	}

	if err = s.validateCallbackState(ctx, userID, cfg.Key, stateValue); err != nil {
		return result, err
	}
	if err = run.advance(CallbackStageStateValidated); err != nil {
		return result, err
	}

	tokens, err := s.exchangeCode(ctx, adapter, cfg, code)
	if err != nil {
		return result, err
	}
	if adapter.ExpectsRefreshToken() && !tokens.HasRefreshToken() {
		s.logWarn(ctx, "token exchange returned no refresh token; check offline access and consent parameters", map[string]any{
			"platform": cfg.Key,
			"user_id":  userID,
		})
	}
	fields["has_refresh_token"] = tokens.HasRefreshToken()
	if err = run.advance(CallbackStageCodeExchanged); err != nil {
		return result, err
	}

	accounts, err := s.resolveAccounts(ctx, adapter, cfg, tokens.AccessToken)
	if err != nil {
		return result, err
	}
	result.Accounts = accounts
	selected, err := s.accountSelector.Select(ctx, userID, cfg.Key, append([]AccountIdentity(nil), accounts...))
	if err != nil {
		err = WrapFailure(err, ReasonNoAccountsFound, "no eligible account selected", map[string]any{
			"platform":      cfg.Key,
			"account_count": len(accounts),
		})
		return result, err
	}
	if strings.TrimSpace(selected.AccountID) == "" {
		err = NewFailure(ReasonNoAccountsFound, "selected account has no id", map[string]any{"platform": cfg.Key})
		return result, err
	}
	fields["account_id"] = selected.AccountID
	fields["account_count"] = len(accounts)
	if err = run.advance(CallbackStageIdentityResolved); err != nil {
		return result, err
	}

	maxActive, err := s.limitPolicy.MaxConnections(ctx, userID)
	if err != nil {
		err = WrapFailure(err, ReasonInternal, "resolve connection limit", map[string]any{"user_id": userID})
		return result, err
	}
	fields["max_connections"] = maxActive

	upsert, err := s.credentialStore.UpsertWithinLimit(ctx, ConnectedAccount{
		UserID:      userID,
		Platform:    cfg.Key,
		AccountID:   selected.AccountID,
		AccountName: selected.AccountName,
		Tokens:      tokens,
		IsActive:    true,
	}, maxActive)
	if err != nil {
		if errors.Is(err, ErrLimitExceeded) {
			err = WrapFailure(err, ReasonConnectionLimitExceeded, "connection limit reached", map[string]any{
				"user_id":         userID,
				"platform":        cfg.Key,
				"max_connections": maxActive,
			})
			return result, err
		}
		err = WrapFailure(err, ReasonInternal, "persist connected account", map[string]any{"platform": cfg.Key})
		return result, err
	}
	if err = run.advance(CallbackStageLimitChecked); err != nil {
		return result, err
	}
	if err = run.advance(CallbackStagePersisted); err != nil {
		return result, err
	}

	result.Account = upsert.Account
	result.Reconnected = upsert.Existed || upsert.Reactivated
	fields["reconnected"] = result.Reconnected
	return result, nil
}

// validateCallbackState consumes the pending state and verifies the token.
// The pending entry is gone afterwards whatever the outcome.
func (s *Service) validateCallbackState(ctx context.Context, userID string, platform string, value string) error {
	pending, err := s.stateStore.Consume(ctx, userID, platform)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return WrapFailure(err, ReasonStateNotFound, "no pending connection attempt", map[string]any{"platform": platform})
		}
		return WrapFailure(err, ReasonInternal, "consume oauth state", map[string]any{"platform": platform})
	}
	if !statesEqual(pending.Value, value) {
		return NewFailure(ReasonStateMismatch, "callback state does not match the pending attempt", map[string]any{"platform": platform})
	}
	if _, err := s.stateCodec.Verify(value, userID); err != nil {
		if errors.Is(err, errStateExpired) {
			return WrapFailure(err, ReasonStateNotFound, "connection attempt expired", map[string]any{"platform": platform})
		}
		return WrapFailure(err, ReasonStateMismatch, "callback state failed verification", map[string]any{"platform": platform})
	}
	return nil
}

func (s *Service) exchangeCode(ctx context.Context, adapter PlatformAdapter, cfg PlatformConfig, code string) (TokenSet, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout())
	defer cancel()

	tokens, err := adapter.Exchange(callCtx, code, cfg.RedirectURI)
	if err != nil {
		switch ReasonOf(err) {
		case ReasonConfigurationError, ReasonTokenExchangeFailed:
			return TokenSet{}, err
		}
		return TokenSet{}, WrapFailure(err, ReasonTokenExchangeFailed, "token exchange failed", map[string]any{
			"platform": cfg.Key,
			"timeout":  errors.Is(err, context.DeadlineExceeded),
		})
	}
	if strings.TrimSpace(tokens.AccessToken) == "" {
		return TokenSet{}, NewFailure(ReasonTokenExchangeFailed, "token response has no access token", map[string]any{"platform": cfg.Key})
	}
	return tokens, nil
}

func (s *Service) resolveAccounts(ctx context.Context, adapter PlatformAdapter, cfg PlatformConfig, accessToken string) ([]AccountIdentity, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout())
	defer cancel()

	accounts, err := adapter.ResolveAccounts(callCtx, accessToken)
	if err != nil {
		switch ReasonOf(err) {
		case ReasonConfigurationError, ReasonAccountLookupFailed, ReasonNoAccountsFound:
			return nil, err
		}
		return nil, WrapFailure(err, ReasonAccountLookupFailed, "account lookup failed", map[string]any{
			"platform": cfg.Key,
			"timeout":  errors.Is(err, context.DeadlineExceeded),
		})
	}
	accounts = cleanAccountIdentities(accounts)
	if len(accounts) == 0 {
		return nil, NewFailure(ReasonNoAccountsFound, "platform returned no advertising accounts", map[string]any{"platform": cfg.Key})
	}
	return accounts, nil
}
