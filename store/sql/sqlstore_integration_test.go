package sqlstore_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-adconnect/core"
	adconnectmigrations "github.com/goliatone/go-adconnect/migrations"
	"github.com/goliatone/go-adconnect/security"
	sqlstore "github.com/goliatone/go-adconnect/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-adconnect-tests"
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, table := range []string{"adconnect_connected_accounts", "adconnect_oauth_states"} {
		var tableName string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(context.Background(), &tableName); err != nil {
			t.Fatalf("query sqlite master: %v", err)
		}
		if tableName != table {
			t.Fatalf("expected %s table, got %q", table, tableName)
		}
	}
}

func TestCredentialStore_UpsertEncryptsTokensAtRest(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory, _ := newFactory(t, client)
	store := factory.CredentialStore()

	expiresAt := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	stored, err := store.Upsert(ctx, testAccount("user-1", core.PlatformGoogleAds, "1234567890", core.TokenSet{
		AccessToken:  "ya29.plain-access",
		RefreshToken: "1//plain-refresh",
		TokenType:    "bearer",
		ExpiresAt:    &expiresAt,
		Scopes:       []string{"https://www.googleapis.com/auth/adwords"},
	}))
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if stored.ID == "" || !stored.IsActive {
		t.Fatalf("expected active account with id, got %+v", stored)
	}

	var rawAccess, rawRefresh []byte
	if err := client.DB().NewRaw(
		"SELECT access_token, refresh_token FROM adconnect_connected_accounts WHERE id = ?",
		stored.ID,
	).Scan(ctx, &rawAccess, &rawRefresh); err != nil {
		t.Fatalf("select raw tokens: %v", err)
	}
	if bytes.Contains(rawAccess, []byte("plain-access")) || bytes.Contains(rawRefresh, []byte("plain-refresh")) {
		t.Fatalf("tokens must be encrypted at rest")
	}
	if !security.IsEnvelope(rawAccess) {
		t.Fatalf("expected sealed access token envelope")
	}

	loaded, err := store.Get(ctx, stored.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Tokens.AccessToken != "ya29.plain-access" || loaded.Tokens.RefreshToken != "1//plain-refresh" {
		t.Fatalf("expected decrypted tokens, got %s", loaded.Tokens)
	}
	if loaded.Tokens.ExpiresAt == nil || !loaded.Tokens.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expected expiry to survive, got %v", loaded.Tokens.ExpiresAt)
	}
	if len(loaded.Tokens.Scopes) != 1 {
		t.Fatalf("expected scopes to survive, got %v", loaded.Tokens.Scopes)
	}
}

func TestCredentialStore_UpsertWithinLimit(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory, clock := newFactory(t, client)
	store := factory.CredentialStore()

	first, err := store.UpsertWithinLimit(ctx, testAccount("user-1", core.PlatformMetaAds, "111", core.TokenSet{AccessToken: "meta-1"}), 1)
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if first.Existed || first.Reactivated {
		t.Fatalf("expected a fresh insert, got %+v", first)
	}

	if _, err := store.UpsertWithinLimit(ctx, testAccount("user-1", core.PlatformGoogleAds, "222", core.TokenSet{AccessToken: "g-1"}), 1); !errors.Is(err, core.ErrLimitExceeded) {
		t.Fatalf("expected limit exceeded, got %v", err)
	}

	clock.Advance(time.Minute)
	again, err := store.UpsertWithinLimit(ctx, testAccount("user-1", core.PlatformMetaAds, "111", core.TokenSet{AccessToken: "meta-2"}), 1)
	if err != nil {
		t.Fatalf("reconnect same account: %v", err)
	}
	if !again.Existed || again.Account.ID != first.Account.ID {
		t.Fatalf("expected update in place, got %+v", again)
	}
	if !again.Account.ConnectedAt.Equal(first.Account.ConnectedAt) {
		t.Fatalf("connected_at must not move on token refresh")
	}

	if err := store.Deactivate(ctx, first.Account.Key()); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	count, err := store.CountActive(ctx, "user-1")
	if err != nil || count != 0 {
		t.Fatalf("expected no active accounts, got %d err=%v", count, err)
	}

	other, err := store.UpsertWithinLimit(ctx, testAccount("user-1", core.PlatformMetaAds, "222", core.TokenSet{AccessToken: "meta-other"}), 1)
	if err != nil {
		t.Fatalf("connect second account: %v", err)
	}
	if _, err := store.UpsertWithinLimit(ctx, testAccount("user-1", core.PlatformMetaAds, "111", core.TokenSet{AccessToken: "meta-3"}), 1); !errors.Is(err, core.ErrLimitExceeded) {
		t.Fatalf("expected an inactive account to count against the limit, got %v", err)
	}
	if err := store.Deactivate(ctx, other.Account.Key()); err != nil {
		t.Fatalf("deactivate second account: %v", err)
	}

	clock.Advance(time.Minute)
	reactivated, err := store.UpsertWithinLimit(ctx, testAccount("user-1", core.PlatformMetaAds, "111", core.TokenSet{AccessToken: "meta-3"}), 1)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if !reactivated.Reactivated || reactivated.Account.ID != first.Account.ID {
		t.Fatalf("expected reactivation of the same row, got %+v", reactivated)
	}
	if reactivated.Account.DisconnectedAt != nil || !reactivated.Account.ConnectedAt.Equal(first.Account.ConnectedAt) {
		t.Fatalf("expected reactivation to keep connected_at and clear disconnected_at")
	}

	if _, err := store.UpsertWithinLimit(ctx, testAccount("user-2", core.PlatformMetaAds, "111", core.TokenSet{AccessToken: "other"}), 1); err != nil {
		t.Fatalf("limits are per user: %v", err)
	}
}

func TestCredentialStore_ConcurrentConnectsRespectLimit(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory, _ := newFactory(t, client)
	store := factory.CredentialStore()

	const attempts = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		limited   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.UpsertWithinLimit(ctx, testAccount("user-race", core.PlatformTikTokAds, fmt.Sprintf("adv-%d", i), core.TokenSet{AccessToken: "tt"}), 2)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, core.ErrLimitExceeded):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 2 || limited != attempts-2 {
		t.Fatalf("expected 2 successes and %d limited, got %d/%d", attempts-2, successes, limited)
	}
	count, err := store.CountActive(ctx, "user-race")
	if err != nil || count != 2 {
		t.Fatalf("expected 2 active accounts, got %d err=%v", count, err)
	}
}

func TestCredentialStore_DeactivateAndList(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory, clock := newFactory(t, client)
	store := factory.CredentialStore()

	if err := store.Deactivate(ctx, core.AccountKey{UserID: "user-1", Platform: core.PlatformMetaAds, AccountID: "missing"}); !errors.Is(err, core.ErrAccountNotFound) {
		t.Fatalf("expected account not found, got %v", err)
	}

	for i, platform := range []string{core.PlatformLinkedInAds, core.PlatformGoogleAds} {
		clock.Advance(time.Duration(i+1) * time.Second)
		if _, err := store.Upsert(ctx, testAccount("user-1", platform, "acct", core.TokenSet{AccessToken: "token"})); err != nil {
			t.Fatalf("upsert %s: %v", platform, err)
		}
	}

	listed, err := store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(listed) != 2 || listed[0].Platform != core.PlatformLinkedInAds {
		t.Fatalf("expected two accounts ordered by connection time, got %+v", listed)
	}
	firstConnectedAt := listed[0].ConnectedAt

	key := core.AccountKey{UserID: "user-1", Platform: core.PlatformLinkedInAds, AccountID: "acct"}
	if err := store.Deactivate(ctx, key); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := store.Deactivate(ctx, key); err != nil {
		t.Fatalf("second deactivate must be a no-op: %v", err)
	}

	listed, err = store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("list active after deactivate: %v", err)
	}
	if len(listed) != 1 || listed[0].Platform != core.PlatformGoogleAds {
		t.Fatalf("expected only google account to remain active, got %+v", listed)
	}

	inactive, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get inactive: %v", err)
	}
	if inactive.IsActive || inactive.DisconnectedAt == nil {
		t.Fatalf("expected soft-deleted row, got %+v", inactive)
	}

	clock.Advance(24 * time.Hour)
	result, err := store.UpsertWithinLimit(ctx, testAccount("user-1", core.PlatformLinkedInAds, "acct", core.TokenSet{AccessToken: "token-2"}), 5)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if !result.Reactivated || result.Account.ID != inactive.ID {
		t.Fatalf("expected in-place reactivation, got %+v", result)
	}
	if !result.Account.ConnectedAt.Equal(firstConnectedAt) {
		t.Fatalf("expected original connected_at %v, got %v", firstConnectedAt, result.Account.ConnectedAt)
	}
	listed, err = store.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("list active after reactivation: %v", err)
	}
	if len(listed) != 2 || listed[0].Platform != core.PlatformLinkedInAds || listed[0].DisconnectedAt != nil {
		t.Fatalf("expected reactivated account to keep its position, got %+v", listed)
	}
}

func TestStateStore_SaveConsumeAndPurge(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory, clock := newFactory(t, client)
	store := factory.StateStore()

	issued := clock.Now()
	save := func(value string, ttl time.Duration) {
		t.Helper()
		if err := store.Save(ctx, core.OAuthState{
			Value:     value,
			Platform:  core.PlatformGoogleAds,
			UserID:    "user-1",
			OwnerHash: "owner",
			IssuedAt:  issued,
			ExpiresAt: issued.Add(ttl),
		}); err != nil {
			t.Fatalf("save %s: %v", value, err)
		}
	}

	save("state-a", 10*time.Minute)
	save("state-b", 10*time.Minute)

	consumed, err := store.Consume(ctx, "user-1", core.PlatformGoogleAds)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if consumed.Value != "state-b" {
		t.Fatalf("expected newest state to supersede, got %q", consumed.Value)
	}
	if _, err := store.Consume(ctx, "user-1", core.PlatformGoogleAds); !errors.Is(err, core.ErrStateNotFound) {
		t.Fatalf("expected single use, got %v", err)
	}

	save("state-c", time.Minute)
	clock.Advance(2 * time.Minute)
	if _, err := store.Consume(ctx, "user-1", core.PlatformGoogleAds); !errors.Is(err, core.ErrStateNotFound) {
		t.Fatalf("expected expired state to be rejected, got %v", err)
	}

	save("state-d", time.Minute)
	purged, err := store.PurgeExpired(ctx, issued.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected one purged state, got %d", purged)
	}
}

func newFactory(t *testing.T, client *persistence.Client) (*sqlstore.RepositoryFactory, *testClock) {
	t.Helper()
	cipher, err := security.NewTokenCipher([]byte("sqlstore-test-encryption-key-material-32b"))
	if err != nil {
		t.Fatalf("new token cipher: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, cipher, sqlstore.WithClock(clock.Now))
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	return factory, clock
}

func testAccount(userID string, platform string, accountID string, tokens core.TokenSet) core.ConnectedAccount {
	return core.ConnectedAccount{
		UserID:      userID,
		Platform:    platform,
		AccountID:   accountID,
		AccountName: "Account " + accountID,
		Tokens:      tokens,
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:adconnect-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	migrationsFS, err := adconnectmigrations.ForDialect(adconnectmigrations.DialectSQLite)
	if err != nil {
		_ = client.Close()
		t.Fatalf("load migrations: %v", err)
	}
	client.RegisterSQLMigrations(migrationsFS)
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
