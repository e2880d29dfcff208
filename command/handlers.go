package command

import (
	"context"

	"github.com/goliatone/go-adconnect/core"
	gocmd "github.com/goliatone/go-command"
)

type MutatingService interface {
	Initiate(ctx context.Context, req core.InitiateRequest) (core.RedirectTarget, error)
	HandleCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error)
	Disconnect(ctx context.Context, req core.DisconnectRequest) error
}

type StateMaintenanceService interface {
	PurgeExpiredStates(ctx context.Context) (int, error)
}

type InitiateCommand struct {
	service MutatingService
}

func NewInitiateCommand(service MutatingService) *InitiateCommand {
	return &InitiateCommand{service: service}
}

func (c *InitiateCommand) Execute(ctx context.Context, msg InitiateMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: initiate service is required")
	}
	out, err := c.service.Initiate(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteCallbackCommand struct {
	service MutatingService
}

func NewCompleteCallbackCommand(service MutatingService) *CompleteCallbackCommand {
	return &CompleteCallbackCommand{service: service}
}

func (c *CompleteCallbackCommand) Execute(ctx context.Context, msg CompleteCallbackMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: callback service is required")
	}
	out, err := c.service.HandleCallback(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DisconnectCommand struct {
	service MutatingService
}

func NewDisconnectCommand(service MutatingService) *DisconnectCommand {
	return &DisconnectCommand{service: service}
}

func (c *DisconnectCommand) Execute(ctx context.Context, msg DisconnectMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: disconnect service is required")
	}
	return c.service.Disconnect(ctx, msg.Request)
}

type PurgeExpiredStatesCommand struct {
	service StateMaintenanceService
}

func NewPurgeExpiredStatesCommand(service StateMaintenanceService) *PurgeExpiredStatesCommand {
	return &PurgeExpiredStatesCommand{service: service}
}

func (c *PurgeExpiredStatesCommand) Execute(ctx context.Context, _ PurgeExpiredStatesMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: state maintenance service is required")
	}
	purged, err := c.service.PurgeExpiredStates(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, purged)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
