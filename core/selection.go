package core

import (
	"context"
	"fmt"
	"strings"
)

// FirstAccountSelector keeps the first account the platform returned.
type FirstAccountSelector struct{}

func (FirstAccountSelector) Select(_ context.Context, _ string, _ string, accounts []AccountIdentity) (AccountIdentity, error) {
	if len(accounts) == 0 {
		return AccountIdentity{}, fmt.Errorf("core: no accounts to select from")
	}
	return accounts[0], nil
}

// FixedConnectionLimit allows the same number of active accounts to every user.
type FixedConnectionLimit int

func (l FixedConnectionLimit) MaxConnections(context.Context, string) (int, error) {
	return int(l), nil
}

func cleanAccountIdentities(accounts []AccountIdentity) []AccountIdentity {
	out := make([]AccountIdentity, 0, len(accounts))
	seen := make(map[string]struct{}, len(accounts))
	for _, account := range accounts {
		account.AccountID = strings.TrimSpace(account.AccountID)
		if account.AccountID == "" {
			continue
		}
		if _, ok := seen[account.AccountID]; ok {
			continue
		}
		seen[account.AccountID] = struct{}{}
		account.AccountName = strings.TrimSpace(account.AccountName)
		if account.AccountName == "" {
			account.AccountName = account.AccountID
		}
		out = append(out, account)
	}
	return out
}
