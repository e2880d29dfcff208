package main

import (
	"fmt"
	"time"

	"github.com/goliatone/go-adconnect/core"
	"github.com/goliatone/go-adconnect/httpapi"
	"github.com/spf13/cobra"
)

// newTokenCommand issues a session token accepted by serve, for local use of
// the HTTP API.
func newTokenCommand(global *globalOptions) *cobra.Command {
	var (
		ttl  time.Duration
		plan string
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a session token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			auth, err := httpapi.NewSessionAuthenticatorFromSource(core.EnvSecretSource{}, httpapi.WithIssuer(cfg.ServiceName))
			if err != nil {
				return err
			}
			token, err := auth.IssueSession(httpapi.Session{UserID: args[0], Plan: plan}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().StringVar(&plan, "plan", "", "subscription plan claim")
	return cmd
}
