package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/comptrack/internal/config"
	"github.com/rpattn/comptrack/internal/db"
	"github.com/rpattn/comptrack/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the postgres schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{string(db.MigrateUp), string(db.MigrateDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrations apply to the postgres driver only; configured driver is %q", cfg.Database.Driver)
			}
			direction := db.MigrateUp
			if len(args) == 1 {
				direction = db.MigrationDirection(args[0])
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)
			log.Info("running migrations", "direction", direction, "host", cfg.Database.Postgres.Host, "dbname", cfg.Database.Postgres.DBName)
			return db.RunMigrations(cfg.Database.Postgres, direction, log)
		},
	}
}
