package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCredentialStore is the in-process CredentialStore. A single mutex
// guards the limit check and the write.
type MemoryCredentialStore struct {
	mu       sync.Mutex
	now      func() time.Time
	accounts map[AccountKey]ConnectedAccount
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		now:      func() time.Time { return time.Now().UTC() },
		accounts: map[AccountKey]ConnectedAccount{},
	}
}

func (s *MemoryCredentialStore) Upsert(_ context.Context, account ConnectedAccount) (ConnectedAccount, error) {
	if s == nil {
		return ConnectedAccount{}, fmt.Errorf("core: credential store is not configured")
	}
	account = normalizeAccount(account)
	if err := account.Key().Validate(); err != nil {
		return ConnectedAccount{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, _, _ := s.writeLocked(account)
	return stored.clone(), nil
}

func (s *MemoryCredentialStore) UpsertWithinLimit(_ context.Context, account ConnectedAccount, maxActive int) (UpsertResult, error) {
	if s == nil {
		return UpsertResult{}, fmt.Errorf("core: credential store is not configured")
	}
	account = normalizeAccount(account)
	if err := account.Key().Validate(); err != nil {
		return UpsertResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[account.Key()]
	if !ok || !existing.IsActive {
		if s.countActiveLocked(account.UserID) >= maxActive {
			return UpsertResult{}, ErrLimitExceeded
		}
	}
	stored, existed, reactivated := s.writeLocked(account)
	return UpsertResult{Account: stored.clone(), Existed: existed, Reactivated: reactivated}, nil
}

func (s *MemoryCredentialStore) writeLocked(account ConnectedAccount) (ConnectedAccount, bool, bool) {
	now := s.now()
	key := account.Key()
	existing, ok := s.accounts[key]
	if !ok {
		account.ID = uuid.NewString()
		account.IsActive = true
		account.ConnectedAt = now
		account.UpdatedAt = now
		account.DisconnectedAt = nil
		s.accounts[key] = account.clone()
		return account, false, false
	}

	wasActive := existing.IsActive
	existing.AccountName = account.AccountName
	existing.Tokens = account.Tokens.clone()
	existing.UpdatedAt = now
	if !wasActive {
		existing.IsActive = true
		existing.DisconnectedAt = nil
	}
	s.accounts[key] = existing.clone()
	return existing, wasActive, !wasActive
}

func (s *MemoryCredentialStore) Deactivate(_ context.Context, key AccountKey) error {
	if s == nil {
		return fmt.Errorf("core: credential store is not configured")
	}
	key = normalizeKey(key)
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.accounts[key]
	if !ok {
		return ErrAccountNotFound
	}
	if !existing.IsActive {
		return nil
	}
	now := s.now()
	existing.IsActive = false
	existing.UpdatedAt = now
	existing.DisconnectedAt = &now
	s.accounts[key] = existing
	return nil
}

func (s *MemoryCredentialStore) Get(_ context.Context, key AccountKey) (ConnectedAccount, error) {
	if s == nil {
		return ConnectedAccount{}, fmt.Errorf("core: credential store is not configured")
	}
	key = normalizeKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[key]
	if !ok {
		return ConnectedAccount{}, ErrAccountNotFound
	}
	return account.clone(), nil
}

func (s *MemoryCredentialStore) ListActive(_ context.Context, userID string) ([]ConnectedAccount, error) {
	if s == nil {
		return nil, fmt.Errorf("core: credential store is not configured")
	}
	userID = strings.TrimSpace(userID)
	s.mu.Lock()
	out := make([]ConnectedAccount, 0)
	for _, account := range s.accounts {
		if account.UserID == userID && account.IsActive {
			out = append(out, account.clone())
		}
	}
	s.mu.Unlock()
	sortAccounts(out)
	return out, nil
}

func (s *MemoryCredentialStore) CountActive(_ context.Context, userID string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("core: credential store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(strings.TrimSpace(userID)), nil
}

func (s *MemoryCredentialStore) countActiveLocked(userID string) int {
	count := 0
	for _, account := range s.accounts {
		if account.UserID == userID && account.IsActive {
			count++
		}
	}
	return count
}

func normalizeAccount(account ConnectedAccount) ConnectedAccount {
	account.UserID = strings.TrimSpace(account.UserID)
	account.Platform = strings.TrimSpace(account.Platform)
	account.AccountID = strings.TrimSpace(account.AccountID)
	account.AccountName = strings.TrimSpace(account.AccountName)
	return account
}

func normalizeKey(key AccountKey) AccountKey {
	return AccountKey{
		UserID:    strings.TrimSpace(key.UserID),
		Platform:  strings.TrimSpace(key.Platform),
		AccountID: strings.TrimSpace(key.AccountID),
	}
}

func sortAccounts(accounts []ConnectedAccount) {
	sort.Slice(accounts, func(i, j int) bool {
		if !accounts[i].ConnectedAt.Equal(accounts[j].ConnectedAt) {
			return accounts[i].ConnectedAt.Before(accounts[j].ConnectedAt)
		}
		if accounts[i].Platform != accounts[j].Platform {
			return accounts[i].Platform < accounts[j].Platform
		}
		return accounts[i].AccountID < accounts[j].AccountID
	})
}
