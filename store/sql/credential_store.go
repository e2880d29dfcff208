package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-adconnect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

type keyMetadata interface {
	KeyID() string
	Version() int
}

// CredentialStore persists connected accounts in adconnect_connected_accounts.
// Tokens are sealed by the SecretProvider before they reach the database.
type CredentialStore struct {
	db      *bun.DB
	repo    repository.Repository[*connectedAccountRecord]
	secrets core.SecretProvider
	now     func() time.Time
}

type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func resolveStoreOptions(opts []StoreOption) storeOptions {
	options := storeOptions{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func NewCredentialStore(db *bun.DB, secrets core.SecretProvider, opts ...StoreOption) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: secret provider is required")
	}
	repo := repository.NewRepository[*connectedAccountRecord](db, connectedAccountHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid connected account repository wiring: %w", err)
		}
	}
	options := resolveStoreOptions(opts)
	return &CredentialStore{
		db:      db,
		repo:    repo,
		secrets: secrets,
		now:     options.now,
	}, nil
}

func (s *CredentialStore) Upsert(ctx context.Context, account core.ConnectedAccount) (core.ConnectedAccount, error) {
	result, err := s.upsert(ctx, account, -1)
	if err != nil {
		return core.ConnectedAccount{}, err
	}
	return result.Account, nil
}

// UpsertWithinLimit counts and writes inside one transaction holding a
// per-user lock, so concurrent callbacks of one user cannot both pass the
// check.
func (s *CredentialStore) UpsertWithinLimit(ctx context.Context, account core.ConnectedAccount, maxActive int) (core.UpsertResult, error) {
	if maxActive < 0 {
		maxActive = 0
	}
	return s.upsert(ctx, account, maxActive)
}

func (s *CredentialStore) upsert(ctx context.Context, account core.ConnectedAccount, maxActive int) (core.UpsertResult, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.UpsertResult{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	account = normalizeAccount(account)
	if err := account.Key().Validate(); err != nil {
		return core.UpsertResult{}, err
	}
	if strings.TrimSpace(account.Tokens.AccessToken) == "" {
		return core.UpsertResult{}, fmt.Errorf("sqlstore: access token is required")
	}

	sealed, err := s.seal(ctx, account.Tokens)
	if err != nil {
		return core.UpsertResult{}, err
	}

	now := s.now().UTC()
	var out core.UpsertResult
	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := s.lockUser(ctx, tx, account.UserID); err != nil {
			return err
		}
		record, err := findAccountTx(ctx, tx, account.Key())
		if err != nil {
			return err
		}

		if maxActive >= 0 && (record == nil || !record.IsActive) {
			active, countErr := countActive(ctx, tx, account.UserID)
			if countErr != nil {
				return countErr
			}
			if active >= maxActive {
				return core.ErrLimitExceeded
			}
		}

		if record == nil {
			record = &connectedAccountRecord{
				ID:          uuid.NewString(),
				UserID:      account.UserID,
				Platform:    account.Platform,
				AccountID:   account.AccountID,
				IsActive:    true,
				ConnectedAt: now,
			}
			sealed.applyTo(record, account.AccountName, now)
			if _, createErr := s.repo.CreateTx(ctx, tx, record); createErr != nil {
				return createErr
			}
			out = core.UpsertResult{Account: recordWithTokens(record, account.Tokens)}
			return nil
		}

		wasActive := record.IsActive
		if !wasActive {
			record.IsActive = true
			record.DisconnectedAt = nil
		}
		sealed.applyTo(record, account.AccountName, now)
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		out = core.UpsertResult{
			Account:     recordWithTokens(record, account.Tokens),
			Existed:     wasActive,
			Reactivated: !wasActive,
		}
		return nil
	})
	if err != nil {
		return core.UpsertResult{}, err
	}
	return out, nil
}

func (s *CredentialStore) Deactivate(ctx context.Context, key core.AccountKey) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: credential store is not configured")
	}
	key = normalizeKey(key)
	if err := key.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findAccountTx(ctx, tx, key)
		if err != nil {
			return err
		}
		if record == nil {
			return core.ErrAccountNotFound
		}
		if !record.IsActive {
			return nil
		}
		_, err = tx.NewUpdate().
			Model((*connectedAccountRecord)(nil)).
			Set("is_active = ?", false).
			Set("updated_at = ?", now).
			Set("disconnected_at = ?", now).
			Where("id = ?", record.ID).
			Exec(ctx)
		return err
	})
}

func (s *CredentialStore) Get(ctx context.Context, key core.AccountKey) (core.ConnectedAccount, error) {
	if s == nil || s.repo == nil {
		return core.ConnectedAccount{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	key = normalizeKey(key)
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", key.UserID),
		repository.SelectBy("platform", "=", key.Platform),
		repository.SelectBy("account_id", "=", key.AccountID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.ConnectedAccount{}, err
	}
	if len(records) == 0 {
		return core.ConnectedAccount{}, core.ErrAccountNotFound
	}
	return s.toDomain(ctx, records[0])
}

func (s *CredentialStore) ListActive(ctx context.Context, userID string) ([]core.ConnectedAccount, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("user_id", "=", strings.TrimSpace(userID)),
		repository.SelectBy("is_active", "=", true),
		repository.OrderBy("connected_at ASC"),
		repository.OrderBy("platform ASC"),
		repository.OrderBy("account_id ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]core.ConnectedAccount, 0, len(records))
	for _, record := range records {
		account, err := s.toDomain(ctx, record)
		if err != nil {
			return nil, err
		}
		out = append(out, account)
	}
	return out, nil
}

func (s *CredentialStore) CountActive(ctx context.Context, userID string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: credential store is not configured")
	}
	return countActive(ctx, s.db, strings.TrimSpace(userID))
}

// lockUser serializes writers of one user for the rest of the transaction.
// Postgres takes a transaction-scoped advisory lock; sqlite upgrades to its
// single writer lock with a no-op write.
func (s *CredentialStore) lockUser(ctx context.Context, tx bun.Tx, userID string) error {
	switch s.db.Dialect().Name() {
	case dialect.PG:
		_, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", "adconnect:"+userID)
		return err
	case dialect.SQLite:
		_, err := tx.ExecContext(ctx, "UPDATE adconnect_connected_accounts SET updated_at = updated_at WHERE 1 = 0")
		return err
	default:
		return nil
	}
}

func findAccountTx(ctx context.Context, tx bun.Tx, key core.AccountKey) (*connectedAccountRecord, error) {
	record := &connectedAccountRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", key.UserID).
		Where("?TableAlias.platform = ?", key.Platform).
		Where("?TableAlias.account_id = ?", key.AccountID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func countActive(ctx context.Context, db bun.IDB, userID string) (int, error) {
	return db.NewSelect().
		Model((*connectedAccountRecord)(nil)).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.is_active = ?", true).
		Count(ctx)
}

type sealedTokens struct {
	access            []byte
	refresh           []byte
	tokenType         string
	scopes            []string
	expiresAt         *time.Time
	encryptionKeyID   string
	encryptionVersion int
}

func (t sealedTokens) applyTo(record *connectedAccountRecord, accountName string, now time.Time) {
	record.AccountName = accountName
	record.AccessToken = t.access
	record.RefreshToken = t.refresh
	record.TokenType = t.tokenType
	record.Scopes = t.scopes
	record.TokenExpiresAt = t.expiresAt
	record.EncryptionKeyID = t.encryptionKeyID
	record.EncryptionVersion = t.encryptionVersion
	record.UpdatedAt = now
}

func (s *CredentialStore) seal(ctx context.Context, tokens core.TokenSet) (sealedTokens, error) {
	access, err := s.secrets.Encrypt(ctx, []byte(tokens.AccessToken))
	if err != nil {
		return sealedTokens{}, fmt.Errorf("sqlstore: seal access token: %w", err)
	}
	out := sealedTokens{
		access:    access,
		tokenType: strings.TrimSpace(tokens.TokenType),
		scopes:    append([]string{}, tokens.Scopes...),
	}
	if out.tokenType == "" {
		out.tokenType = "bearer"
	}
	if tokens.HasRefreshToken() {
		refresh, err := s.secrets.Encrypt(ctx, []byte(tokens.RefreshToken))
		if err != nil {
			return sealedTokens{}, fmt.Errorf("sqlstore: seal refresh token: %w", err)
		}
		out.refresh = refresh
	}
	if tokens.ExpiresAt != nil {
		expiresAt := tokens.ExpiresAt.UTC()
		out.expiresAt = &expiresAt
	}
	if meta, ok := s.secrets.(keyMetadata); ok {
		out.encryptionKeyID = meta.KeyID()
		out.encryptionVersion = meta.Version()
	}
	return out, nil
}

func (s *CredentialStore) toDomain(ctx context.Context, record *connectedAccountRecord) (core.ConnectedAccount, error) {
	access, err := s.secrets.Decrypt(ctx, record.AccessToken)
	if err != nil {
		return core.ConnectedAccount{}, fmt.Errorf("sqlstore: open access token of account %s: %w", record.ID, err)
	}
	tokens := core.TokenSet{
		AccessToken: string(access),
		TokenType:   record.TokenType,
		Scopes:      append([]string(nil), record.Scopes...),
	}
	if len(record.RefreshToken) > 0 {
		refresh, err := s.secrets.Decrypt(ctx, record.RefreshToken)
		if err != nil {
			return core.ConnectedAccount{}, fmt.Errorf("sqlstore: open refresh token of account %s: %w", record.ID, err)
		}
		tokens.RefreshToken = string(refresh)
	}
	if record.TokenExpiresAt != nil {
		expiresAt := record.TokenExpiresAt.UTC()
		tokens.ExpiresAt = &expiresAt
	}
	return recordWithTokens(record, tokens), nil
}

func recordWithTokens(record *connectedAccountRecord, tokens core.TokenSet) core.ConnectedAccount {
	account := core.ConnectedAccount{
		ID:          record.ID,
		UserID:      record.UserID,
		Platform:    record.Platform,
		AccountID:   record.AccountID,
		AccountName: record.AccountName,
		Tokens:      tokens,
		IsActive:    record.IsActive,
		ConnectedAt: record.ConnectedAt.UTC(),
		UpdatedAt:   record.UpdatedAt.UTC(),
	}
	if record.DisconnectedAt != nil {
		disconnectedAt := record.DisconnectedAt.UTC()
		account.DisconnectedAt = &disconnectedAt
	}
	return account
}

func normalizeAccount(account core.ConnectedAccount) core.ConnectedAccount {
	account.UserID = strings.TrimSpace(account.UserID)
	account.Platform = strings.TrimSpace(account.Platform)
	account.AccountID = strings.TrimSpace(account.AccountID)
	account.AccountName = strings.TrimSpace(account.AccountName)
	return account
}

func normalizeKey(key core.AccountKey) core.AccountKey {
	return core.AccountKey{
		UserID:    strings.TrimSpace(key.UserID),
		Platform:  strings.TrimSpace(key.Platform),
		AccountID: strings.TrimSpace(key.AccountID),
	}
}
