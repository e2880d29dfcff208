package adconnect

import (
	"context"
	"fmt"

	"github.com/goliatone/go-adconnect/adapters/gocommand"
	"github.com/goliatone/go-adconnect/command"
	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/query"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-command/runner"
)

type CommandQueryService interface {
	gocommand.ServiceSurface
	Registry() *core.PlatformRegistry
	Logger() core.Logger
}

// Facade routes every operation through the go-command dispatcher so
// runner options (retries, timeouts, hooks) apply uniformly. Subscriptions
// are process wide; Close a facade before building another one.
type Facade struct {
	service  CommandQueryService
	adapter  *gocommand.RegistryAdapter
	bindings *gocommand.Bindings
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("adconnect: command/query service is required")
	}
	adapter := gocommand.NewRegistryAdapter(gocmd.NewRegistry())
	bindings, err := gocommand.Register(adapter, service, service.Registry(), runnerOptions(service.Logger())...)
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(); err != nil {
		bindings.Unsubscribe()
		return nil, err
	}
	return &Facade{service: service, adapter: adapter, bindings: bindings}, nil
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// Registry exposes the go-command registry, e.g. to add a queue resolver.
func (f *Facade) Registry() *gocommand.RegistryAdapter {
	if f == nil {
		return nil
	}
	return f.adapter
}

func (f *Facade) Close() {
	if f == nil {
		return
	}
	f.bindings.Unsubscribe()
}

func (f *Facade) Initiate(ctx context.Context, req core.InitiateRequest) (core.RedirectTarget, error) {
	return gocommand.Execute[command.InitiateMessage, core.RedirectTarget](ctx, command.InitiateMessage{Request: req})
}

func (f *Facade) HandleCallback(ctx context.Context, req core.CallbackRequest) (core.CallbackResult, error) {
	return gocommand.Execute[command.CompleteCallbackMessage, core.CallbackResult](ctx, command.CompleteCallbackMessage{Request: req})
}

func (f *Facade) Disconnect(ctx context.Context, req core.DisconnectRequest) error {
	return gocommand.Dispatch(ctx, command.DisconnectMessage{Request: req})
}

func (f *Facade) PurgeExpiredStates(ctx context.Context) (int, error) {
	return gocommand.Execute[command.PurgeExpiredStatesMessage, int](ctx, command.PurgeExpiredStatesMessage{})
}

func (f *Facade) ListActive(ctx context.Context, userID string) ([]core.ConnectedAccount, error) {
	return gocommand.Query[query.ListActiveAccountsMessage, []core.ConnectedAccount](ctx, query.ListActiveAccountsMessage{UserID: userID})
}

func (f *Facade) Usage(ctx context.Context, userID string) (core.ConnectionUsage, error) {
	return gocommand.Query[query.ConnectionUsageMessage, core.ConnectionUsage](ctx, query.ConnectionUsageMessage{UserID: userID})
}

func (f *Facade) Platforms(ctx context.Context, enabledOnly bool) ([]core.PlatformConfig, error) {
	return gocommand.Query[query.ListPlatformsMessage, []core.PlatformConfig](ctx, query.ListPlatformsMessage{EnabledOnly: enabledOnly})
}

// runnerOptions replaces the runner's stdlib log handlers. The service logs
// each failure with its context, so the runner only records the reason code.
func runnerOptions(logger core.Logger) []runner.Option {
	return []runner.Option{
		runner.WithErrorHandler(func(err error) {
			if logger == nil {
				return
			}
			logger.Debug("command handler failed", "error_code", string(core.ReasonOf(err)))
		}),
		runner.WithDoneHandler(func(*runner.Handler) {}),
	}
}
