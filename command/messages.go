package command

import (
	"strings"

	"github.com/goliatone/go-adconnect/core"
)

const (
	TypeInitiate           = "adconnect.command.connection.initiate"
	TypeCompleteCallback   = "adconnect.command.callback.complete"
	TypeDisconnect         = "adconnect.command.connection.disconnect"
	TypePurgeExpiredStates = "adconnect.command.oauth_state.purge_expired"
)

type InitiateMessage struct {
	Request core.InitiateRequest
}

func (InitiateMessage) Type() string { return TypeInitiate }

func (m InitiateMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandUnauthenticatedError()
	}
	if strings.TrimSpace(m.Request.Platform) == "" {
		return commandValidationError("platform", "platform is required")
	}
	return nil
}

// CompleteCallbackMessage carries the provider redirect. Missing code or
// state are reported by the service so the failure reason stays stable.
type CompleteCallbackMessage struct {
	Request core.CallbackRequest
}

func (CompleteCallbackMessage) Type() string { return TypeCompleteCallback }

func (m CompleteCallbackMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandUnauthenticatedError()
	}
	return nil
}

type DisconnectMessage struct {
	Request core.DisconnectRequest
}

func (DisconnectMessage) Type() string { return TypeDisconnect }

func (m DisconnectMessage) Validate() error {
	if strings.TrimSpace(m.Request.UserID) == "" {
		return commandUnauthenticatedError()
	}
	if strings.TrimSpace(m.Request.Platform) == "" {
		return commandValidationError("platform", "platform is required")
	}
	if strings.TrimSpace(m.Request.AccountID) == "" {
		return commandValidationError("account_id", "account id is required")
	}
	return nil
}

type PurgeExpiredStatesMessage struct{}

func (PurgeExpiredStatesMessage) Type() string { return TypePurgeExpiredStates }

func (PurgeExpiredStatesMessage) Validate() error { return nil }
