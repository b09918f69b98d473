package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationDirection selects which way RunMigrations moves the schema.
type MigrationDirection string

const (
	MigrateUp   MigrationDirection = "up"
	MigrateDown MigrationDirection = "down"
)

// RunMigrations applies the embedded SQL migrations against the configured database.
func RunMigrations(config Config, direction MigrationDirection, log *slog.Logger) error {
	return MigrateURL(config.URL("pgx5"), direction, log)
}

// MigrateURL applies the embedded migrations against databaseURL. Both postgres:// and
// pgx5:// schemes are accepted.
func MigrateURL(databaseURL string, direction MigrationDirection, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(databaseURL, prefix) {
			databaseURL = "pgx5://" + strings.TrimPrefix(databaseURL, prefix)
		}
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialise migrator: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn("failed to close migrator", "source_error", srcErr, "database_error", dbErr)
		}
	}()

	switch direction {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Down()
	default:
		return fmt.Errorf("unknown migration direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("database schema already up to date", "direction", direction)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations %s: %w", direction, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	log.Info("migrations applied", "direction", direction, "version", version, "dirty", dirty)
	return nil
}
