package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rpattn/comptrack/internal/config"
	"github.com/rpattn/comptrack/internal/db"
	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/inventory"
	"github.com/rpattn/comptrack/internal/logger"
	"github.com/rpattn/comptrack/internal/metrics"
	"github.com/rpattn/comptrack/internal/repository"
	"github.com/rpattn/comptrack/internal/repository/memory"
	"github.com/rpattn/comptrack/internal/repository/sqlite"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "comptrack",
		Short:        "Versioned component tracking service",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "directory containing config.yaml")
	root.AddCommand(newServeCmd(), newMigrateCmd(), newBackupCmd())
	return root
}

// app holds the runtime shared by every subcommand.
type app struct {
	cfg       config.Config
	log       *slog.Logger
	loc       *time.Location
	metrics   *metrics.Recorder
	conn      *db.Connection
	store     repository.ComponentStore
	inventory *inventory.Service
	closers   []func()
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	loc, err := cfg.Inventory.Location()
	if err != nil {
		return nil, err
	}
	if cfg.Source != "" {
		log.Info("configuration loaded", "file", cfg.Source)
	}

	a := &app{cfg: cfg, log: log, loc: loc, metrics: metrics.New()}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.inventory = inventory.NewService(a.store,
		domain.FieldRules{Types: cfg.Inventory.ComponentTypes, Location: loc},
		inventory.WithSystemActor(cfg.Inventory.SystemActor),
		inventory.WithLogger(log),
		inventory.WithMetrics(a.metrics),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	lockTimeout := a.cfg.Inventory.LockTimeout
	switch a.cfg.Database.Driver {
	case config.DriverPostgres:
		conn, err := db.NewConnection(ctx, a.cfg.Database.Postgres, a.log)
		if err != nil {
			return err
		}
		a.conn = conn
		a.closers = append(a.closers, conn.Close)
		a.store = repository.NewComponentRepository(conn, lockTimeout)
	case config.DriverSQLite:
		store, err := sqlite.NewStore(a.cfg.Database.SQLitePath, lockTimeout)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.log.Warn("failed to close sqlite store", "error", err)
			}
		})
		a.store = store
		a.log.Info("opened sqlite store", "path", store.Path())
	case config.DriverMemory:
		a.store = memory.NewStore(memory.WithLockTimeout(lockTimeout))
		a.log.Warn("using in-memory store; data is lost on exit")
	default:
		return fmt.Errorf("unsupported database driver %q", a.cfg.Database.Driver)
	}
	return nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
