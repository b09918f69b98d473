package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"

	"github.com/rpattn/comptrack/internal/config"
	"github.com/rpattn/comptrack/internal/db"
	"github.com/rpattn/comptrack/internal/export"
	"github.com/rpattn/comptrack/internal/httpapi"
	"github.com/rpattn/comptrack/internal/ingestion"
	"github.com/rpattn/comptrack/internal/logger"
)

const poolStatsInterval = 15 * time.Second

func newServeCmd() *cobra.Command {
	var migrateFirst bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if migrateFirst && cfg.Database.Driver == config.DriverPostgres {
				log := logger.New(cfg.Log.Level, cfg.Log.Format)
				if err := db.RunMigrations(cfg.Database.Postgres, db.MigrateUp, log); err != nil {
					return err
				}
			}

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", true, "apply pending postgres migrations before serving")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	api := httpapi.NewHandler(httpapi.Config{
		Inventory: a.inventory,
		Exporter:  export.NewService(a.inventory, export.WithLocation(a.loc)),
		Importer:  ingestion.NewService(a.inventory, a.log),
		Metrics:   a.metrics,
		Logger:    a.log,
		Location:  a.loc,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After", "X-Request-ID"},
	})

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      corsHandler.Handler(api),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	if a.conn != nil {
		go a.reportPoolStats(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info("starting API server", "addr", server.Addr, "driver", a.cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info("server exited")
	return nil
}

func (a *app) reportPoolStats(ctx context.Context) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		stat := a.conn.Pool.Stat()
		a.metrics.PoolStats(stat.AcquiredConns(), stat.IdleConns(), stat.MaxConns())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
