package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-adconnect/command"
	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/query"
	gocmd "github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := gocmd.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(gocmd.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *gocmd.Registry
}

func NewRegistryAdapter(registry *gocmd.Registry) *RegistryAdapter {
	if registry == nil {
		registry = gocmd.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *gocmd.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry
// so they can also run as background jobs.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// ServiceSurface is everything the command and query handlers delegate to.
type ServiceSurface interface {
	command.MutatingService
	command.StateMaintenanceService
	query.AccountReader
}

// Bindings holds the dispatcher subscriptions created by Register.
type Bindings struct {
	subscriptions []commanddispatcher.Subscription
}

func (b *Bindings) Unsubscribe() {
	if b == nil {
		return
	}
	for _, sub := range b.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

// Register subscribes every command and query handler against svc and
// registers the commands with the adapter registry.
func Register(
	adapter *RegistryAdapter,
	svc ServiceSurface,
	platforms query.PlatformLister,
	runnerOpts ...runner.Option,
) (*Bindings, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if svc == nil {
		return nil, fmt.Errorf("gocommand: service is required")
	}
	bindings := &Bindings{}
	fail := func(err error) (*Bindings, error) {
		bindings.Unsubscribe()
		return nil, err
	}

	for _, bind := range []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, command.NewInitiateCommand(svc), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, command.NewCompleteCallbackCommand(svc), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, command.NewDisconnectCommand(svc), runnerOpts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return registerCommand(adapter, command.NewPurgeExpiredStatesCommand(svc), runnerOpts...)
		},
	} {
		sub, err := bind()
		if err != nil {
			return fail(err)
		}
		bindings.subscriptions = append(bindings.subscriptions, sub)
	}

	bindings.subscriptions = append(bindings.subscriptions,
		commanddispatcher.SubscribeQuery[query.ListActiveAccountsMessage, []core.ConnectedAccount](query.NewListActiveAccountsQuery(svc), runnerOpts...),
		commanddispatcher.SubscribeQuery[query.ConnectionUsageMessage, core.ConnectionUsage](query.NewConnectionUsageQuery(svc), runnerOpts...),
	)
	if platforms != nil {
		bindings.subscriptions = append(bindings.subscriptions,
			commanddispatcher.SubscribeQuery[query.ListPlatformsMessage, []core.PlatformConfig](query.NewListPlatformsQuery(platforms), runnerOpts...),
		)
	}
	return bindings, nil
}

func registerCommand[T any](
	adapter *RegistryAdapter,
	cmd gocmd.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Execute validates msg, dispatches it and returns the result the handler
// stored in the context.
func Execute[T any, R any](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	ctx = gocmd.ContextWithResult(ctx, collector)
	if err := commanddispatcher.Dispatch(ctx, msg); err != nil {
		return zero, serviceError(err)
	}
	out, ok := collector.Load()
	if !ok {
		return zero, fmt.Errorf("gocommand: command %T stored no result", msg)
	}
	return out, nil
}

// Dispatch validates and dispatches a command without a result.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return serviceError(commanddispatcher.Dispatch(ctx, msg))
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	out, err := commanddispatcher.Query[T, R](ctx, msg)
	if err != nil {
		var zero R
		return zero, serviceError(err)
	}
	return out, nil
}

// serviceError drops the dispatcher and runner envelopes when err carries a
// connection-flow failure.
func serviceError(err error) error {
	if err == nil {
		return nil
	}
	if failure, ok := core.Failure(err); ok {
		return failure
	}
	return err
}
