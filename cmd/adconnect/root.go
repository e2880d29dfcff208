package main

import (
	"context"
	"os"
	"strings"

	"github.com/goliatone/go-adconnect/adapters/gologger"
	"github.com/goliatone/go-adconnect/config"
	"github.com/goliatone/go-adconnect/core"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configPath string
	logLevel   string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "adconnect",
		Short: "Connect advertising platform accounts over OAuth",
		Long: `adconnect runs the OAuth connection flow for Google Ads, LinkedIn Ads,
Meta Ads and TikTok Ads, and keeps the resulting credentials encrypted at rest.`,
		SilenceUsage: true,
	}
	cmd.SetVersionTemplate(`{{printf "adconnect version %s\n" .Version}}`)

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", envOr("ADCONNECT_CONFIG", ""), "path to the YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", envOr("ADCONNECT_LOG_LEVEL", "info"), "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newPlatformsCommand(opts),
		newTokenCommand(opts),
	)
	return cmd
}

func (o *globalOptions) loadConfig(ctx context.Context) (core.Config, error) {
	return config.Load(ctx, o.configPath, core.Config{})
}

func (o *globalOptions) logger() *gologger.ZerologLogger {
	return gologger.NewJSONLogger(os.Stderr, o.logLevel)
}

func envOr(name string, fallback string) string {
	if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}
