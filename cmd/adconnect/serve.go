package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	adconnect "github.com/goliatone/go-adconnect"
	"github.com/goliatone/go-adconnect/adapters/gojob"
	"github.com/goliatone/go-adconnect/adapters/gologger"
	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/httpapi"
	"github.com/goliatone/go-adconnect/limits"
	"github.com/goliatone/go-adconnect/security"
	redisstore "github.com/goliatone/go-adconnect/store/redis"
	sqlstore "github.com/goliatone/go-adconnect/store/sql"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	storageMemory = "memory"
	storageSQL    = "sql"
	storageRedis  = "redis"
)

type serveOptions struct {
	listen        string
	storage       string
	stateStorage  string
	redisAddr     string
	autoMigrate   bool
	purgeInterval time.Duration
	shutdown      time.Duration
	db            databaseConfig
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connection HTTP API and the state purge worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, global, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.listen, "listen", envOr("ADCONNECT_LISTEN", ":8080"), "HTTP listen address")
	flags.StringVar(&opts.storage, "storage", envOr("ADCONNECT_STORAGE", storageSQL), "credential storage (sql, memory)")
	flags.StringVar(&opts.stateStorage, "state-storage", envOr("ADCONNECT_STATE_STORAGE", ""), "oauth state storage (sql, redis, memory); defaults to --storage")
	flags.StringVar(&opts.redisAddr, "redis-addr", envOr("ADCONNECT_REDIS_ADDR", "localhost:6379"), "redis address for --state-storage=redis")
	flags.BoolVar(&opts.autoMigrate, "migrate", false, "apply migrations before serving")
	flags.DurationVar(&opts.purgeInterval, "purge-interval", 5*time.Minute, "how often expired oauth states are purged")
	flags.DurationVar(&opts.shutdown, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
	bindDatabaseFlags(cmd, &opts.db)
	return cmd
}

func runServe(ctx context.Context, global *globalOptions, opts *serveOptions) error {
	root := global.logger()
	logger := root.GetLogger("adconnect.serve")

	cfg, err := global.loadConfig(ctx)
	if err != nil {
		return err
	}
	secrets := core.EnvSecretSource{}

	deps := adconnect.Dependencies{
		Secrets: secrets,
		Options: []adconnect.Option{adconnect.WithLoggerProvider(root)},
	}
	closeStores, err := opts.configureStores(ctx, secrets, &deps)
	if err != nil {
		return err
	}
	defer closeStores()

	policy, err := newLimitPolicy(cfg.Limits)
	if err != nil {
		return err
	}
	deps.LimitPolicy = policy

	svc, err := adconnect.Setup(cfg, deps)
	if err != nil {
		logConfigurationError(logger, err)
		return err
	}
	facade, err := adconnect.NewFacade(svc)
	if err != nil {
		return err
	}
	defer facade.Close()

	auth, err := httpapi.NewSessionAuthenticatorFromSource(secrets, httpapi.WithIssuer(cfg.ServiceName))
	if err != nil {
		logConfigurationError(logger, err)
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              opts.listen,
		Handler:           httpapi.NewRouter(facade, auth, httpapi.WithLogger(root.GetLogger("adconnect.http"))),
		ReadHeaderTimeout: 10 * time.Second,
	}

	jobs := gojob.NewMemoryQueue(8)
	scheduler, err := gojob.NewPurgeScheduler(jobs, opts.purgeInterval)
	if err != nil {
		return err
	}
	purger, err := gojob.NewPurgeWorker(jobs, facade, gojob.WithHook(gologger.NewJobHook(root.GetLogger("adconnect.jobs"))))
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("http server listening", "addr", opts.listen, "storage", opts.storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.shutdown)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error { return scheduler.Run(groupCtx) })
	group.Go(func() error { return purger.Run(groupCtx) })

	err = group.Wait()
	logger.Info("server stopped")
	return err
}

// configureStores fills the store dependencies and returns a cleanup func.
func (o *serveOptions) configureStores(ctx context.Context, secrets core.SecretSource, deps *adconnect.Dependencies) (func(), error) {
	storage := strings.ToLower(strings.TrimSpace(o.storage))
	stateStorage := strings.ToLower(strings.TrimSpace(o.stateStorage))
	if stateStorage == "" {
		stateStorage = storage
	}
	closers := []func(){}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch storage {
	case storageMemory:
	case storageSQL:
		client, err := openPersistence(o.db)
		if err != nil {
			return cleanup, err
		}
		closers = append(closers, func() { _ = client.Close() })
		if o.autoMigrate {
			if err := migrate(ctx, client, o.db.Driver); err != nil {
				return cleanup, err
			}
		}
		cipher, err := security.NewTokenCipherFromSource(secrets)
		if err != nil {
			return cleanup, err
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, cipher)
		if err != nil {
			return cleanup, err
		}
		deps.CredentialStore = factory.CredentialStore()
		if stateStorage == storageSQL {
			deps.StateStore = factory.StateStore()
		}
	default:
		return cleanup, fmt.Errorf("unsupported storage %q", o.storage)
	}

	switch stateStorage {
	case storageMemory, storageSQL:
		if stateStorage == storageSQL && storage != storageSQL {
			return cleanup, fmt.Errorf("sql state storage requires --storage=sql")
		}
	case storageRedis:
		client := redis.NewClient(&redis.Options{Addr: o.redisAddr})
		closers = append(closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return cleanup, fmt.Errorf("connect redis: %w", err)
		}
		store, err := redisstore.NewStateStore(client)
		if err != nil {
			return cleanup, err
		}
		deps.StateStore = store
	default:
		return cleanup, fmt.Errorf("unsupported state storage %q", o.stateStorage)
	}
	return cleanup, nil
}

// newLimitPolicy reads the plan from the session token and caches the
// resolved limit per user.
func newLimitPolicy(cfg core.LimitsConfig) (core.ConnectionLimitPolicy, error) {
	var base core.ConnectionLimitPolicy = limits.StaticPolicy{Max: cfg.DefaultMaxConnections}
	if len(cfg.Plans) > 0 {
		planPolicy, err := limits.NewPlanPolicyFromConfig(limits.PlanReaderFunc(func(ctx context.Context, _ string) (string, error) {
			return httpapi.PlanFromContext(ctx), nil
		}), cfg)
		if err != nil {
			return nil, err
		}
		base = planPolicy
	}
	if cfg.CacheTTLSeconds <= 0 {
		return base, nil
	}
	cache, err := limits.NewCacheService(cfg)
	if err != nil {
		return nil, err
	}
	return limits.NewCachedPolicy(base, cache)
}

func logConfigurationError(logger glog.Logger, err error) {
	if !core.IsReason(err, core.ReasonConfigurationError) {
		return
	}
	logger.Error("configuration error", "error", err)
}
