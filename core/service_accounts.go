package core

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Disconnect soft-deletes one connected account. Disconnecting an account
// that is already inactive succeeds.
func (s *Service) Disconnect(ctx context.Context, req DisconnectRequest) (err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"platform":   req.Platform,
		"user_id":    req.UserID,
		"account_id": req.AccountID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "disconnect", err, fields)
	}()

	key := AccountKey{
		UserID:    strings.TrimSpace(req.UserID),
		Platform:  strings.TrimSpace(req.Platform),
		AccountID: strings.TrimSpace(req.AccountID),
	}
	if key.UserID == "" {
		err = NewFailure(ReasonUnauthenticated, "caller identity is required to disconnect", nil)
		return err
	}
	if _, err = s.registry.Get(key.Platform); err != nil {
		return err
	}
	if key.AccountID == "" {
		err = NewFailure(ReasonBadInput, "account id is required", nil)
		return err
	}
	if err = s.credentialStore.Deactivate(ctx, key); err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			err = WrapFailure(err, ReasonAccountNotFound, "account is not connected", fields)
			return err
		}
		err = WrapFailure(err, ReasonInternal, "deactivate connected account", fields)
		return err
	}
	return nil
}

// ListActive returns the active accounts of a user, oldest connection first.
func (s *Service) ListActive(ctx context.Context, userID string) (accounts []ConnectedAccount, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"user_id": userID}
	defer func() {
		fields["count"] = len(accounts)
		s.observeOperation(ctx, startedAt, "list_active", err, fields)
	}()

	userID = strings.TrimSpace(userID)
	if userID == "" {
		err = NewFailure(ReasonUnauthenticated, "caller identity is required to list accounts", nil)
		return nil, err
	}
	accounts, err = s.credentialStore.ListActive(ctx, userID)
	if err != nil {
		err = WrapFailure(err, ReasonInternal, "list connected accounts", fields)
		return nil, err
	}
	return accounts, nil
}

// ConnectionUsage reports how many active accounts a user holds against the limit.
type ConnectionUsage struct {
	Active int
	Max    int
}

func (u ConnectionUsage) Remaining() int {
	if u.Active >= u.Max {
		return 0
	}
	return u.Max - u.Active
}

func (s *Service) Usage(ctx context.Context, userID string) (ConnectionUsage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ConnectionUsage{}, NewFailure(ReasonUnauthenticated, "caller identity is required", nil)
	}
	active, err := s.credentialStore.CountActive(ctx, userID)
	if err != nil {
		return ConnectionUsage{}, WrapFailure(err, ReasonInternal, "count connected accounts", nil)
	}
	maxActive, err := s.limitPolicy.MaxConnections(ctx, userID)
	if err != nil {
		return ConnectionUsage{}, WrapFailure(err, ReasonInternal, "resolve connection limit", nil)
	}
	return ConnectionUsage{Active: active, Max: maxActive}, nil
}

// PurgeExpiredStates removes abandoned connection attempts.
func (s *Service) PurgeExpiredStates(ctx context.Context) (int, error) {
	purged, err := s.stateStore.PurgeExpired(ctx, s.currentTime())
	if err != nil {
		return 0, WrapFailure(err, ReasonInternal, "purge expired oauth states", nil)
	}
	if purged > 0 {
		s.logInfo(ctx, "purged expired oauth states", map[string]any{"count": purged})
	}
	return purged, nil
}
