package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

const defaultOAuthStateTTL = 10 * time.Minute

type stateKey struct {
	userID   string
	platform string
}

// MemoryStateStore keeps one pending state per (user, platform) in process.
type MemoryStateStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[stateKey]OAuthState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[stateKey]OAuthState{},
	}
}

func (s *MemoryStateStore) Save(_ context.Context, state OAuthState) error {
	if s == nil {
		return fmt.Errorf("core: oauth state store is not configured")
	}
	if err := validateStateForSave(state); err != nil {
		return err
	}
	key := stateKey{userID: strings.TrimSpace(state.UserID), platform: strings.TrimSpace(state.Platform)}

	s.mu.Lock()
	s.entries[key] = state
	s.mu.Unlock()
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, userID string, platform string) (OAuthState, error) {
	if s == nil {
		return OAuthState{}, fmt.Errorf("core: oauth state store is not configured")
	}
	key := stateKey{userID: strings.TrimSpace(userID), platform: strings.TrimSpace(platform)}

	s.mu.Lock()
	state, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if !ok || state.Expired(s.now()) {
		return OAuthState{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: oauth state store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	purged := 0
	for key, state := range s.entries {
		if state.Expired(now) {
			delete(s.entries, key)
			purged++
		}
	}
	return purged, nil
}

func validateStateForSave(state OAuthState) error {
	if strings.TrimSpace(state.Value) == "" {
		return fmt.Errorf("core: oauth state is required")
	}
	if strings.TrimSpace(state.UserID) == "" {
		return fmt.Errorf("core: oauth state user id is required")
	}
	if strings.TrimSpace(state.Platform) == "" {
		return fmt.Errorf("core: oauth state platform is required")
	}
	if state.ExpiresAt.IsZero() {
		return fmt.Errorf("core: oauth state expiry is required")
	}
	return nil
}

// ValidateStateForSave is shared by the persistent store implementations.
func ValidateStateForSave(state OAuthState) error {
	return validateStateForSave(state)
}
