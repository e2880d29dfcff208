package command

import (
	"context"
	"testing"

	"github.com/goliatone/go-adconnect/core"
	goerrors "github.com/goliatone/go-errors"
)

func TestDisconnectMessage_ValidateReturnsRichError(t *testing.T) {
	err := (DisconnectMessage{Request: core.DisconnectRequest{UserID: "u"}}).Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.ErrorBadInput, rich.TextCode)
	}
}

func TestInitiateMessage_MissingUserIsUnauthenticated(t *testing.T) {
	err := (InitiateMessage{Request: core.InitiateRequest{Platform: core.PlatformGoogleAds}}).Validate()
	if !core.IsReason(err, core.ReasonUnauthenticated) {
		t.Fatalf("expected unauthenticated reason, got %v", err)
	}
}

func TestInitiateCommand_NilServiceReturnsRichError(t *testing.T) {
	var cmd *InitiateCommand
	err := cmd.Execute(context.Background(), InitiateMessage{})
	if err == nil {
		t.Fatalf("expected command dependency error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
}
