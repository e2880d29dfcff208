package core

import (
	"context"
	"net/url"
	"testing"
	"time"
)

func TestInitiate_BuildsAuthorizationURL(t *testing.T) {
	fixture := newServiceFixture(t, 1)

	target, err := fixture.svc.Initiate(context.Background(), InitiateRequest{UserID: "u1", Platform: PlatformGoogleAds})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	parsed, err := url.Parse(target.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if parsed.Host != "accounts.example.test" || parsed.Path != "/o/oauth2/auth" {
		t.Fatalf("unexpected endpoint %s", target.URL)
	}
	query := parsed.Query()
	expected := map[string]string{
		"client_id":     "google-client",
		"redirect_uri":  "https://app.example.test/oauth/callback",
		"response_type": "code",
		"scope":         "https://www.googleapis.com/auth/adwords",
		"state":         target.State,
		"access_type":   "offline",
		"prompt":        "consent",
	}
	for key, value := range expected {
		if got := query.Get(key); got != value {
			t.Fatalf("expected %s=%q, got %q", key, value, got)
		}
	}
	if !target.ExpiresAt.Equal(fixture.clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", target.ExpiresAt)
	}
	if saves, _ := fixture.states.counts(); saves != 1 {
		t.Fatalf("expected one state write, got %d", saves)
	}
	if fixture.adapters[PlatformGoogleAds].exchangeCount() != 0 {
		t.Fatalf("initiate must not contact the platform")
	}
}

func TestInitiate_DisabledPlatformWritesNothing(t *testing.T) {
	fixture := newServiceFixture(t, 1)

	target, err := fixture.svc.Initiate(context.Background(), InitiateRequest{UserID: "u1", Platform: PlatformLinkedInAds})
	expectReason(t, err, ReasonPlatformDisabled)
	if target.URL != "" {
		t.Fatalf("expected no url, got %q", target.URL)
	}
	if saves, _ := fixture.states.counts(); saves != 0 {
		t.Fatalf("expected no state write, got %d", saves)
	}
}

func TestInitiate_Failures(t *testing.T) {
	fixture := newServiceFixture(t, 1)
	ctx := context.Background()

	_, err := fixture.svc.Initiate(ctx, InitiateRequest{UserID: "u1", Platform: "myspace_ads"})
	expectReason(t, err, ReasonUnsupportedPlatform)

	_, err = fixture.svc.Initiate(ctx, InitiateRequest{Platform: PlatformMetaAds})
	expectReason(t, err, ReasonUnauthenticated)

	if saves, _ := fixture.states.counts(); saves != 0 {
		t.Fatalf("expected no state write, got %d", saves)
	}
}

func TestInitiate_MissingAdapterIsConfigurationError(t *testing.T) {
	registry, err := NewPlatformRegistry(testPlatformConfigs()...)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	logger := newCaptureLogger()
	svc, err := NewService(Config{},
		WithLogger(logger),
		WithPlatformRegistry(registry),
		WithStateSecret(testStateSecret),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.Initiate(context.Background(), InitiateRequest{UserID: "u1", Platform: PlatformMetaAds})
	expectReason(t, err, ReasonConfigurationError)
	if UserMessage(err) == err.Error() {
		t.Fatalf("configuration details must not reach the user message")
	}

	foundError := false
	for _, record := range logger.snapshot() {
		if record.level == "error" && record.fields["platform"] == PlatformMetaAds {
			foundError = true
		}
	}
	if !foundError {
		t.Fatalf("expected configuration error to be logged at error level")
	}
}

func TestBuildAuthorizationURL_PreservesEndpointQuery(t *testing.T) {
	cfg := testPlatformConfigs()[1]
	cfg.AuthorizationEndpoint = "https://meta.example.test/dialog/oauth?display=page"
	raw, err := BuildAuthorizationURL(cfg, "state-1", url.Values{"config_id": {"42"}})
	if err != nil {
		t.Fatalf("build url: %v", err)
	}
	parsed, _ := url.Parse(raw)
	query := parsed.Query()
	if query.Get("display") != "page" || query.Get("config_id") != "42" || query.Get("scope") != "ads_read business_management" {
		t.Fatalf("unexpected query %v", query)
	}
}
