package gologger

import (
	"context"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

// Resolve uses deterministic precedence provider > logger > nop.
func Resolve(name string, provider glog.LoggerProvider, logger glog.Logger) (glog.LoggerProvider, glog.Logger) {
	return glog.Resolve(name, provider, logger)
}

// ToJobProvider maps a glog provider to the go-job logger provider contract.
func ToJobProvider(provider glog.LoggerProvider) job.LoggerProvider {
	if provider == nil {
		return nil
	}
	return job.GoLoggerProvider(provider)
}

// ToJobLogger maps a glog logger to the go-job logger contract.
func ToJobLogger(logger glog.Logger) job.Logger {
	if logger == nil {
		return nil
	}
	return job.GoLogger(logger)
}

// ResolveForJob resolves glog logger/provider then returns equivalent go-job adapters.
func ResolveForJob(
	name string,
	provider glog.LoggerProvider,
	logger glog.Logger,
) (glog.LoggerProvider, glog.Logger, job.LoggerProvider, job.Logger) {
	resolvedProvider, resolvedLogger := Resolve(name, provider, logger)
	return resolvedProvider, resolvedLogger, ToJobProvider(resolvedProvider), ToJobLogger(resolvedLogger)
}

// JobHook logs background job lifecycle events.
type JobHook struct {
	logger glog.Logger
}

func NewJobHook(logger glog.Logger) *JobHook {
	return &JobHook{logger: glog.Ensure(logger)}
}

func (h *JobHook) OnStart(ctx context.Context, event worker.Event) {
	h.log(ctx).Debug("job started", eventArgs(event)...)
}

func (h *JobHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.log(ctx).Info("job succeeded", eventArgs(event)...)
}

func (h *JobHook) OnFailure(ctx context.Context, event worker.Event) {
	h.log(ctx).Error("job failed", eventArgs(event)...)
}

func (h *JobHook) OnRetry(ctx context.Context, event worker.Event) {
	h.log(ctx).Warn("job retry scheduled", eventArgs(event)...)
}

func (h *JobHook) log(ctx context.Context) glog.Logger {
	if h == nil || h.logger == nil {
		return glog.Nop()
	}
	return h.logger.WithContext(ctx)
}

func eventArgs(event worker.Event) []any {
	args := []any{"attempt", event.Attempt, "duration_ms", event.Duration.Milliseconds()}
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	if message != nil {
		args = append(args, "job_id", message.JobID, "idempotency_key", message.IdempotencyKey)
	}
	if event.Delay > 0 {
		args = append(args, "retry_delay_ms", event.Delay.Milliseconds())
	}
	if event.Err != nil {
		args = append(args, "error", event.Err.Error())
	}
	return args
}

var _ worker.Hook = (*JobHook)(nil)
