// Package redisstore keeps pending OAuth states in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-adconnect/core"
	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "adconnect:oauth_state"

type storedState struct {
	Value     string    `json:"value"`
	Platform  string    `json:"platform"`
	UserID    string    `json:"user_id"`
	Nonce     string    `json:"nonce,omitempty"`
	OwnerHash string    `json:"owner_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StateStore implements core.StateStore. Redis expiry evicts stale entries so
// PurgeExpired has nothing to do.
type StateStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

type Option func(*StateStore)

func WithClock(now func() time.Time) Option {
	return func(s *StateStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStateStore(client redis.UniversalClient, opts ...Option) (*StateStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &StateStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// StateKey returns adconnect:oauth_state:<user_id>:<platform>.
func StateKey(userID string, platform string) string {
	return strings.Join([]string{
		stateKeyPrefix,
		url.PathEscape(strings.TrimSpace(userID)),
		url.PathEscape(strings.TrimSpace(platform)),
	}, ":")
}

func (s *StateStore) Save(ctx context.Context, state core.OAuthState) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redisstore: oauth state store is not configured")
	}
	if err := core.ValidateStateForSave(state); err != nil {
		return err
	}
	ttl := state.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("redisstore: oauth state is already expired")
	}
	payload, err := json.Marshal(storedState{
		Value:     state.Value,
		Platform:  strings.TrimSpace(state.Platform),
		UserID:    strings.TrimSpace(state.UserID),
		Nonce:     state.Nonce,
		OwnerHash: state.OwnerHash,
		IssuedAt:  state.IssuedAt.UTC(),
		ExpiresAt: state.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("redisstore: marshal state: %w", err)
	}
	if err := s.client.Set(ctx, StateKey(state.UserID, state.Platform), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: persist state: %w", err)
	}
	return nil
}

// Consume reads and deletes the state in one GETDEL round trip.
func (s *StateStore) Consume(ctx context.Context, userID string, platform string) (core.OAuthState, error) {
	if s == nil || s.client == nil {
		return core.OAuthState{}, fmt.Errorf("redisstore: oauth state store is not configured")
	}
	payload, err := s.client.GetDel(ctx, StateKey(userID, platform)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.OAuthState{}, core.ErrStateNotFound
		}
		return core.OAuthState{}, fmt.Errorf("redisstore: consume state: %w", err)
	}
	var stored storedState
	if err := json.Unmarshal(payload, &stored); err != nil {
		return core.OAuthState{}, fmt.Errorf("redisstore: decode state: %w", err)
	}
	state := core.OAuthState{
		Value:     stored.Value,
		Platform:  stored.Platform,
		UserID:    stored.UserID,
		Nonce:     stored.Nonce,
		OwnerHash: stored.OwnerHash,
		IssuedAt:  stored.IssuedAt,
		ExpiresAt: stored.ExpiresAt,
	}
	if state.Expired(s.now()) {
		return core.OAuthState{}, core.ErrStateNotFound
	}
	return state, nil
}

func (s *StateStore) PurgeExpired(context.Context, time.Time) (int, error) {
	if s == nil || s.client == nil {
		return 0, fmt.Errorf("redisstore: oauth state store is not configured")
	}
	return 0, nil
}

var _ core.StateStore = (*StateStore)(nil)
