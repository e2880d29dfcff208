package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCommand(global *globalOptions) *cobra.Command {
	db := databaseConfig{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the credential and oauth state migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := global.logger().GetLogger("adconnect.migrate")
			client, err := openPersistence(db)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := migrate(cmd.Context(), client, db.Driver); err != nil {
				logger.Error("migrations failed", "driver", db.Driver, "error", err)
				return err
			}
			logger.Info("migrations applied", "driver", db.Driver)
			return nil
		},
	}
	bindDatabaseFlags(cmd, &db)
	return cmd
}

func bindDatabaseFlags(cmd *cobra.Command, db *databaseConfig) {
	flags := cmd.Flags()
	flags.StringVar(&db.Driver, "db-driver", envOr("ADCONNECT_DB_DRIVER", "sqlite3"), "database driver (postgres, sqlite3)")
	flags.StringVar(&db.DSN, "db-dsn", envOr("ADCONNECT_DB_DSN", "file:adconnect.db?_foreign_keys=on"), "database connection string")
	flags.BoolVar(&db.Debug, "db-debug", false, "log SQL queries")
}
