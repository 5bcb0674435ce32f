package cmd

import (
	"fmt"

	"github.com/quillvault/quill/internal/postgres"
)

// executeMigrate applies pending schema migrations and exits.
func executeMigrate() error {
	logger := initLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger.Info("applying migrations", "host", cfg.Postgres.Host, "dbname", cfg.Postgres.DBName)
	if err := postgres.Migrate(cfg.PostgresDSN()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("migrations applied")
	return nil
}
