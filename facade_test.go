package adconnect

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-adconnect/core"
)

const testStateSecret = "0123456789abcdef0123456789abcdef"

type stubAdapter struct {
	platform string
	accounts []core.AccountIdentity
}

func (a *stubAdapter) Platform() string { return a.platform }
func (a *stubAdapter) AuthorizationParams() url.Values { return url.Values{} }
func (a *stubAdapter) ExpectsRefreshToken() bool { return false }

func (a *stubAdapter) Exchange(context.Context, string, string) (core.TokenSet, error) {
	return core.TokenSet{AccessToken: "access", TokenType: "Bearer"}, nil
}

func (a *stubAdapter) ResolveAccounts(context.Context, string) ([]core.AccountIdentity, error) {
	return append([]core.AccountIdentity(nil), a.accounts...), nil
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := level + " " + msg
	for index := 0; index+1 < len(args); index += 2 {
		if key, ok := args[index].(string); ok && key == "error_code" {
			entry += fmt.Sprintf(" error_code=%v", args[index+1])
		}
	}
	l.entries = append(l.entries, entry)
}

func (l *recordingLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.entries {
		if got == entry {
			return true
		}
	}
	return false
}

func (l *recordingLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *recordingLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *recordingLogger) WithContext(context.Context) core.Logger { return l }

func newFacadeService(t *testing.T, maxConnections int, opts ...Option) *Service {
	t.Helper()
	cfg := WithPlatformDefaults(core.Config{
		ServiceName: "adconnect",
		Platforms: []core.PlatformSettings{
			{Key: core.PlatformMetaAds, ClientID: "meta-app", RedirectURI: "https://app.example.test/oauth/callback", Enabled: true},
			{Key: core.PlatformTikTokAds, ClientID: "tt-app", RedirectURI: "https://app.example.test/oauth/callback", Enabled: false},
		},
	})
	svcOpts := append([]Option{
		WithPlatformAdapters(&stubAdapter{
			platform: core.PlatformMetaAds,
			accounts: []core.AccountIdentity{{AccountID: "act_1", AccountName: "Main"}, {AccountID: "act_2"}},
		}),
		WithStateSecret([]byte(testStateSecret)),
		WithConnectionLimitPolicy(core.FixedConnectionLimit(maxConnections)),
	}, opts...)
	svc, err := NewService(cfg, svcOpts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestFacade_ConnectListAndDisconnect(t *testing.T) {
	facade, err := NewFacade(newFacadeService(t, 3))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	defer facade.Close()

	ctx := context.Background()
	target, err := facade.Initiate(ctx, core.InitiateRequest{UserID: "user-1", Platform: core.PlatformMetaAds})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !strings.Contains(target.URL, url.QueryEscape(target.State)) {
		t.Fatalf("expected state in consent url %q", target.URL)
	}

	result, err := facade.HandleCallback(ctx, core.CallbackRequest{UserID: "user-1", Code: "code", State: target.State})
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.Account.AccountID != "act_1" || len(result.Accounts) != 2 {
		t.Fatalf("unexpected callback result %+v", result)
	}

	accounts, err := facade.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(accounts) != 1 || accounts[0].AccountID != "act_1" {
		t.Fatalf("unexpected accounts %+v", accounts)
	}

	usage, err := facade.Usage(ctx, "user-1")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Active != 1 || usage.Max != 3 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	if err := facade.Disconnect(ctx, core.DisconnectRequest{UserID: "user-1", Platform: core.PlatformMetaAds, AccountID: "act_1"}); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	accounts, err = facade.ListActive(ctx, "user-1")
	if err != nil {
		t.Fatalf("list after disconnect: %v", err)
	}
	if len(accounts) != 0 {
		t.Fatalf("expected no active accounts, got %d", len(accounts))
	}
}

func TestFacade_ValidatesBeforeDispatch(t *testing.T) {
	facade, err := NewFacade(newFacadeService(t, 1))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	defer facade.Close()

	if _, err := facade.Initiate(context.Background(), core.InitiateRequest{Platform: core.PlatformMetaAds}); err == nil {
		t.Fatalf("expected missing user to fail validation")
	}
}

func TestFacade_ReturnsServiceFailures(t *testing.T) {
	facade, err := NewFacade(newFacadeService(t, 0))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	defer facade.Close()

	ctx := context.Background()
	_, err = facade.HandleCallback(ctx, core.CallbackRequest{UserID: "user-1", State: "s", Error: "access_denied"})
	if got := core.ReasonOf(err); got != core.ReasonProviderDenied {
		t.Fatalf("expected provider denied, got %q (%v)", got, err)
	}
	if status := core.HTTPStatus(err); status != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", status)
	}

	target, err := facade.Initiate(ctx, core.InitiateRequest{UserID: "user-1", Platform: core.PlatformMetaAds})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	_, err = facade.HandleCallback(ctx, core.CallbackRequest{UserID: "user-1", Code: "code", State: target.State})
	if got := core.ReasonOf(err); got != core.ReasonConnectionLimitExceeded {
		t.Fatalf("expected connection limit reason, got %q (%v)", got, err)
	}
	if status := core.HTTPStatus(err); status != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", status)
	}
}

func TestFacade_LogsHandlerFailuresThroughServiceLogger(t *testing.T) {
	logger := &recordingLogger{}
	facade, err := NewFacade(newFacadeService(t, 1, WithLogger(logger)))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	defer facade.Close()

	if _, err := facade.HandleCallback(context.Background(), core.CallbackRequest{UserID: "user-1", State: "s", Error: "access_denied"}); err == nil {
		t.Fatalf("expected provider denial")
	}
	if !logger.has("debug command handler failed error_code=provider_denied") {
		t.Fatalf("expected runner failure in service logger, got %v", logger.entries)
	}
}

func TestFacade_PlatformsAndPurge(t *testing.T) {
	facade, err := NewFacade(newFacadeService(t, 1))
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	defer facade.Close()

	ctx := context.Background()
	enabled, err := facade.Platforms(ctx, true)
	if err != nil {
		t.Fatalf("platforms: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Key != core.PlatformMetaAds {
		t.Fatalf("expected only meta ads enabled, got %+v", enabled)
	}

	if _, err := facade.Initiate(ctx, core.InitiateRequest{UserID: "user-1", Platform: core.PlatformMetaAds}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := facade.PurgeExpiredStates(ctx); err != nil {
		t.Fatalf("purge: %v", err)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	if _, err := NewFacade(nil); err == nil {
		t.Fatalf("expected nil service to fail")
	}
}

func TestSetup_RequiresStateSecret(t *testing.T) {
	_, err := Setup(DefaultConfig(), Dependencies{Secrets: core.MapSecretSource{}})
	if !core.IsReason(err, core.ReasonConfigurationError) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSetup_BuildsServiceWithBuiltinAdapters(t *testing.T) {
	cfg := core.Config{
		ServiceName: "adconnect",
		Platforms: []core.PlatformSettings{
			{Key: core.PlatformGoogleAds, ClientID: "g-client", RedirectURI: "https://app.example.test/oauth/callback", Enabled: true},
		},
	}
	svc, err := Setup(cfg, Dependencies{Secrets: core.MapSecretSource{core.StateSecretName: testStateSecret}})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	target, err := svc.Initiate(context.Background(), core.InitiateRequest{UserID: "user-1", Platform: core.PlatformGoogleAds})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	parsed, err := url.Parse(target.URL)
	if err != nil {
		t.Fatalf("parse consent url: %v", err)
	}
	if parsed.Query().Get("access_type") != "offline" || parsed.Query().Get("client_id") != "g-client" {
		t.Fatalf("expected google offline consent url, got %s", target.URL)
	}
}
