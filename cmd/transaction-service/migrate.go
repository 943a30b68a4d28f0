// cmd/transaction-service/migrate.go
package main

import (
	"github.com/spf13/cobra"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/database"
	"fraudguard/internal/pkg/logger"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations to MySQL",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(serviceName, configPath, nil)
			if err != nil {
				return err
			}
			logger.Init(logger.Options{ServiceName: serviceName, Level: cfg.Service.LogLevel, Pretty: cfg.Service.LogPretty})

			before, after, err := database.Migrate(cmd.Context(), cfg.MySQL)
			if err != nil {
				return err
			}
			logger.Ctx(cmd.Context()).Info().Uint("from", before).Uint("to", after).Msg("✅ Schema migrated")
			return nil
		},
	}
}
