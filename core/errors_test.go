package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestNewFailure_CarriesEnvelope(t *testing.T) {
	err := NewFailure(ReasonConnectionLimitExceeded, "limit reached", map[string]any{
		"user_id":      "u1",
		"access_token": "should-not-survive",
	})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope")
	}
	if rich.TextCode != ErrorConnectionLimitExceeded {
		t.Fatalf("unexpected text code %s", rich.TextCode)
	}
	if rich.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", rich.Code)
	}
	if rich.Metadata["access_token"] != RedactedValue {
		t.Fatalf("expected token metadata to be redacted, got %v", rich.Metadata["access_token"])
	}
	if rich.Metadata["user_id"] != "u1" {
		t.Fatalf("expected user id to be kept")
	}
}

func TestReasonOf_WrappedErrors(t *testing.T) {
	base := NewFailure(ReasonStateMismatch, "mismatch", nil)
	wrapped := fmt.Errorf("handler: %w", base)
	if ReasonOf(wrapped) != ReasonStateMismatch {
		t.Fatalf("expected reason through wrapping, got %s", ReasonOf(wrapped))
	}
	if ReasonOf(errors.New("boom")) != ReasonInternal {
		t.Fatalf("plain errors are internal")
	}
	if ReasonOf(nil) != "" {
		t.Fatalf("nil has no reason")
	}
}

func TestUserMessage_HidesDetail(t *testing.T) {
	err := WrapFailure(errors.New("invalid_client: secret abc123 rejected"), ReasonTokenExchangeFailed, "exchange failed", nil)
	msg := UserMessage(err)
	if strings.Contains(msg, "abc123") || strings.Contains(msg, "invalid_client") {
		t.Fatalf("user message leaked provider detail: %q", msg)
	}
	mismatch := NewFailure(ReasonStateMismatch, "", nil)
	denied := NewFailure(ReasonProviderDenied, "", nil)
	if UserMessage(mismatch) != UserMessage(denied) {
		t.Fatalf("state mismatch and provider denial must look the same to users")
	}
	if PublicCode(mismatch) != PublicCode(denied) || PublicCode(denied) != PublicCodeConnectionNotVerified {
		t.Fatalf("expected one public code, got %q and %q", PublicCode(mismatch), PublicCode(denied))
	}
	if HTTPStatus(mismatch) != HTTPStatus(denied) {
		t.Fatalf("expected one status, got %d and %d", HTTPStatus(mismatch), HTTPStatus(denied))
	}
	if PublicCode(NewFailure(ReasonMissingCode, "", nil)) != string(ReasonMissingCode) {
		t.Fatalf("other reasons keep their own code")
	}
	if HTTPStatus(NewFailure(ReasonConfigurationError, "", nil)) != http.StatusInternalServerError {
		t.Fatalf("configuration errors are server faults")
	}
}

func TestFailure_RecoversReasonFromDispatcherEnvelopes(t *testing.T) {
	source := NewFailure(ReasonConnectionLimitExceeded, "limit reached", nil)
	handlerErr := goerrors.Wrap(source, goerrors.CategoryHandler, "handler failed for type adconnect.command.callback").
		WithTextCode("HANDLER_EXECUTION_FAILED").
		WithMetadata(map[string]any{"message_type": "adconnect.command.callback"})
	retryErr := goerrors.Wrap(handlerErr, goerrors.CategoryInternal, "handler failed after 1 attempts").
		WithTextCode("HANDLER_MAX_RETRIES_EXCEEDED")

	failure, ok := Failure(retryErr)
	if !ok {
		t.Fatalf("expected a service failure in %v", retryErr)
	}
	if failure.TextCode != ErrorConnectionLimitExceeded {
		t.Fatalf("expected restored text code, got %q", failure.TextCode)
	}
	if retryErr.TextCode != "HANDLER_MAX_RETRIES_EXCEEDED" {
		t.Fatalf("restoring the text code must not modify the input")
	}
	if got := ReasonOf(retryErr); got != ReasonConnectionLimitExceeded {
		t.Fatalf("expected connection limit reason, got %s", got)
	}
	if got := HTTPStatus(retryErr); got != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", got)
	}

	sentinel := goerrors.Wrap(serviceErrorMapper(fmt.Errorf("store: %w", ErrStateNotFound)), goerrors.CategoryHandler, "handler failed").
		WithTextCode("HANDLER_EXECUTION_FAILED")
	if got := ReasonOf(sentinel); got != ReasonStateNotFound {
		t.Fatalf("expected state not found, got %s", got)
	}

	if _, ok := Failure(goerrors.New("boom", goerrors.CategoryHandler).WithTextCode("HANDLER_EXECUTION_FAILED")); ok {
		t.Fatalf("plain handler errors carry no service failure")
	}
}

func TestServiceErrorMapper_Sentinels(t *testing.T) {
	cases := map[error]FailureReason{
		fmt.Errorf("store: %w", ErrStateNotFound):   ReasonStateNotFound,
		fmt.Errorf("store: %w", ErrAccountNotFound): ReasonAccountNotFound,
		fmt.Errorf("store: %w", ErrLimitExceeded):   ReasonConnectionLimitExceeded,
		errors.New("core: user id is required"):     ReasonBadInput,
	}
	for source, reason := range cases {
		if got := ReasonOf(serviceErrorMapper(source)); got != reason {
			t.Fatalf("%v: expected %s, got %s", source, reason, got)
		}
	}
}
