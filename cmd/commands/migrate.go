package commands

import (
	"fmt"

	"cryptobotics/internal/infra/config"
	logging "cryptobotics/internal/infra/log"
	"cryptobotics/internal/storage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig(cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn (DATABASE_URL) is required")
		}
		if err := storage.Migrate(cfg.Storage.PostgresDSN); err != nil {
			logging.LogError("Migration failed", zap.Error(err))
			return err
		}
		logging.LogSuccess("Database schema is up to date")
		return nil
	},
}

func init() {
	migrateCmd.Flags().String("storage.postgres_dsn", "", "PostgreSQL connection string")
}
