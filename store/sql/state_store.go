package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-adconnect/core"
	"github.com/uptrace/bun"
)

// StateStore keeps pending OAuth states in adconnect_oauth_states, one row
// per (user, platform).
type StateStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewStateStore(db *bun.DB, opts ...StoreOption) (*StateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	options := resolveStoreOptions(opts)
	return &StateStore{db: db, now: options.now}, nil
}

// Save replaces any pending state of the same user and platform.
func (s *StateStore) Save(ctx context.Context, state core.OAuthState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: oauth state store is not configured")
	}
	if err := core.ValidateStateForSave(state); err != nil {
		return err
	}
	record := &oauthStateRecord{
		UserID:    strings.TrimSpace(state.UserID),
		Platform:  strings.TrimSpace(state.Platform),
		State:     state.Value,
		OwnerHash: state.OwnerHash,
		IssuedAt:  state.IssuedAt.UTC(),
		ExpiresAt: state.ExpiresAt.UTC(),
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (user_id, platform) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("owner_hash = EXCLUDED.owner_hash").
		Set("issued_at = EXCLUDED.issued_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

// Consume deletes the pending state and returns it. The row is removed even
// when it has already expired.
func (s *StateStore) Consume(ctx context.Context, userID string, platform string) (core.OAuthState, error) {
	if s == nil || s.db == nil {
		return core.OAuthState{}, fmt.Errorf("sqlstore: oauth state store is not configured")
	}
	userID = strings.TrimSpace(userID)
	platform = strings.TrimSpace(platform)

	var consumed *oauthStateRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &oauthStateRecord{}
		err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.user_id = ?", userID).
			Where("?TableAlias.platform = ?", platform).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return err
		}
		result, err := tx.NewDelete().
			Model((*oauthStateRecord)(nil)).
			Where("user_id = ?", userID).
			Where("platform = ?", platform).
			Where("state = ?", record.State).
			Exec(ctx)
		if err != nil {
			return err
		}
		// A concurrent consumer already took it.
		if affected, _ := result.RowsAffected(); affected == 0 {
			return nil
		}
		consumed = record
		return nil
	})
	if err != nil {
		return core.OAuthState{}, err
	}
	if consumed == nil {
		return core.OAuthState{}, core.ErrStateNotFound
	}

	state := core.OAuthState{
		Value:     consumed.State,
		Platform:  consumed.Platform,
		UserID:    consumed.UserID,
		OwnerHash: consumed.OwnerHash,
		IssuedAt:  consumed.IssuedAt.UTC(),
		ExpiresAt: consumed.ExpiresAt.UTC(),
	}
	if state.Expired(s.now()) {
		return core.OAuthState{}, core.ErrStateNotFound
	}
	return state, nil
}

func (s *StateStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: oauth state store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*oauthStateRecord)(nil)).
		Where("expires_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}
