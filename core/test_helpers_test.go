package core

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"
)

var testStateSecret = []byte("0123456789abcdef0123456789abcdef")

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu       sync.Mutex
	counters []capturedCounter
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
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

type exchangeCall struct {
	code        string
	redirectURI string
}

type fakeAdapter struct {
	platform       string
	params         url.Values
	expectsRefresh bool
	tokens         TokenSet
	exchangeErr    error
	accounts       []AccountIdentity
	resolveErr     error

	mu            sync.Mutex
	exchangeCalls []exchangeCall
	resolveCalls  []string
}

func newFakeAdapter(platform string) *fakeAdapter {
	return &fakeAdapter{
		platform: platform,
		tokens: TokenSet{
			AccessToken:  "access-" + platform,
			RefreshToken: "refresh-" + platform,
			TokenType:    "Bearer",
		},
		accounts: []AccountIdentity{{AccountID: "acct-1", AccountName: "Primary"}},
	}
}

func (a *fakeAdapter) Platform() string { return a.platform }

func (a *fakeAdapter) AuthorizationParams() url.Values {
	out := url.Values{}
	for key, values := range a.params {
		out[key] = append([]string(nil), values...)
	}
	return out
}

func (a *fakeAdapter) ExpectsRefreshToken() bool { return a.expectsRefresh }

func (a *fakeAdapter) Exchange(_ context.Context, code string, redirectURI string) (TokenSet, error) {
	a.mu.Lock()
	a.exchangeCalls = append(a.exchangeCalls, exchangeCall{code: code, redirectURI: redirectURI})
	a.mu.Unlock()
	if a.exchangeErr != nil {
		return TokenSet{}, a.exchangeErr
	}
	return a.tokens, nil
}

func (a *fakeAdapter) ResolveAccounts(_ context.Context, accessToken string) ([]AccountIdentity, error) {
	a.mu.Lock()
	a.resolveCalls = append(a.resolveCalls, accessToken)
	a.mu.Unlock()
	if a.resolveErr != nil {
		return nil, a.resolveErr
	}
	return append([]AccountIdentity(nil), a.accounts...), nil
}

func (a *fakeAdapter) exchangeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.exchangeCalls)
}

func (a *fakeAdapter) resolveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.resolveCalls)
}

type recordingStateStore struct {
	inner    *MemoryStateStore
	mu       sync.Mutex
	saves    int
	consumes int
}

func (s *recordingStateStore) Save(ctx context.Context, state OAuthState) error {
	s.mu.Lock()
	s.saves++
	s.mu.Unlock()
	return s.inner.Save(ctx, state)
}

func (s *recordingStateStore) Consume(ctx context.Context, userID string, platform string) (OAuthState, error) {
	s.mu.Lock()
	s.consumes++
	s.mu.Unlock()
	return s.inner.Consume(ctx, userID, platform)
}

func (s *recordingStateStore) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	return s.inner.PurgeExpired(ctx, now)
}

func (s *recordingStateStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves, s.consumes
}

type recordingCredentialStore struct {
	*MemoryCredentialStore
	mu     sync.Mutex
	writes int
}

func (s *recordingCredentialStore) UpsertWithinLimit(ctx context.Context, account ConnectedAccount, maxActive int) (UpsertResult, error) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.MemoryCredentialStore.UpsertWithinLimit(ctx, account, maxActive)
}

func (s *recordingCredentialStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func testPlatformConfigs() []PlatformConfig {
	return []PlatformConfig{
		{
			Key:                   PlatformGoogleAds,
			ClientID:              "google-client",
			Scopes:                []string{"https://www.googleapis.com/auth/adwords"},
			AuthorizationEndpoint: "https://accounts.example.test/o/oauth2/auth",
			TokenEndpoint:         "https://accounts.example.test/token",
			RedirectURI:           "https://app.example.test/oauth/callback",
			Enabled:               true,
		},
		{
			Key:                   PlatformMetaAds,
			ClientID:              "meta-client",
			Scopes:                []string{"ads_read", "business_management"},
			AuthorizationEndpoint: "https://meta.example.test/dialog/oauth",
			TokenEndpoint:         "https://meta.example.test/oauth/access_token",
			RedirectURI:           "https://app.example.test/oauth/callback",
			Enabled:               true,
		},
		{
			Key:                   PlatformLinkedInAds,
			ClientID:              "linkedin-client",
			Scopes:                []string{"r_ads"},
			AuthorizationEndpoint: "https://linkedin.example.test/oauth/v2/authorization",
			TokenEndpoint:         "https://linkedin.example.test/oauth/v2/accessToken",
			RedirectURI:           "https://app.example.test/oauth/callback",
			Enabled:               false,
		},
	}
}

type serviceFixture struct {
	svc      *Service
	clock    *testClock
	states   *recordingStateStore
	creds    *recordingCredentialStore
	adapters map[string]*fakeAdapter
	logger   *captureLogger
}

func newServiceFixture(t *testing.T, maxConnections int, opts ...Option) *serviceFixture {
	t.Helper()
	clock := newTestClock()
	registry, err := NewPlatformRegistry(testPlatformConfigs()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	stateInner := NewMemoryStateStore()
	stateInner.now = clock.Now
	credInner := NewMemoryCredentialStore()
	credInner.now = clock.Now

	fixture := &serviceFixture{
		clock:  clock,
		states: &recordingStateStore{inner: stateInner},
		creds:  &recordingCredentialStore{MemoryCredentialStore: credInner},
		adapters: map[string]*fakeAdapter{
			PlatformGoogleAds:   newFakeAdapter(PlatformGoogleAds),
			PlatformMetaAds:     newFakeAdapter(PlatformMetaAds),
			PlatformLinkedInAds: newFakeAdapter(PlatformLinkedInAds),
		},
		logger: newCaptureLogger(),
	}
	fixture.adapters[PlatformGoogleAds].expectsRefresh = true
	fixture.adapters[PlatformGoogleAds].params = url.Values{
		"access_type": {"offline"},
		"prompt":      {"consent"},
	}

	base := []Option{
		WithLogger(fixture.logger),
		WithPlatformRegistry(registry),
		WithPlatformAdapters(
			fixture.adapters[PlatformGoogleAds],
			fixture.adapters[PlatformMetaAds],
			fixture.adapters[PlatformLinkedInAds],
		),
		WithStateStore(fixture.states),
		WithCredentialStore(fixture.creds),
		WithStateSecret(testStateSecret),
		WithConnectionLimitPolicy(FixedConnectionLimit(maxConnections)),
		WithClock(clock.Now),
	}
	svc, err := NewService(Config{}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func (f *serviceFixture) connect(t *testing.T, userID string, platform string, code string) CallbackResult {
	t.Helper()
	ctx := context.Background()
	target, err := f.svc.Initiate(ctx, InitiateRequest{UserID: userID, Platform: platform})
	if err != nil {
		t.Fatalf("initiate %s: %v", platform, err)
	}
	result, err := f.svc.HandleCallback(ctx, CallbackRequest{UserID: userID, Code: code, State: target.State})
	if err != nil {
		t.Fatalf("callback %s: %v", platform, err)
	}
	return result
}

func expectReason(t *testing.T, err error, reason FailureReason) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", reason)
	}
	if got := ReasonOf(err); got != reason {
		t.Fatalf("expected reason %s, got %s (%v)", reason, got, err)
	}
}
