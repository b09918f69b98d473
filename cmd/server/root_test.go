package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/comptrack/internal/backup"
	"github.com/rpattn/comptrack/internal/config"
)

func testConfig(t *testing.T, driver string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Driver = driver
	cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "comptrack.db")
	cfg.Backup.Dir = t.TempDir()
	cfg.Inventory.Timezone = "UTC"
	cfg.Log.Level = "error"
	return cfg
}

func TestNewAppOpensConfiguredStore(t *testing.T) {
	for _, driver := range []string{config.DriverMemory, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			a, err := newApp(context.Background(), testConfig(t, driver))
			require.NoError(t, err)
			defer a.Close()

			created, err := a.inventory.Create(context.Background(), map[string]any{"serialNumber": "cli-1"})
			require.NoError(t, err)
			got, err := a.inventory.Get(context.Background(), created.ID)
			require.NoError(t, err)
			assert.Equal(t, "CLI-1", got.SerialNumber)
		})
	}
}

func TestOpenSink(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t, config.DriverMemory))
	require.NoError(t, err)
	defer a.Close()

	sink, err := a.openSink(context.Background(), sinkFile)
	require.NoError(t, err)
	assert.IsType(t, &backup.FileSink{}, sink)

	_, err = a.openSink(context.Background(), "ftp")
	assert.ErrorContains(t, err, "unknown backup sink")
}

func TestBackupExportThenRestoreThroughCLI(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "cli.db")
	backupDir := filepath.Join(dir, "backups")
	t.Setenv("COMPTRACK_DATABASE_DRIVER", config.DriverSQLite)
	t.Setenv("COMPTRACK_DATABASE_SQLITE_PATH", dbPath)
	t.Setenv("COMPTRACK_BACKUP_DIR", backupDir)
	t.Setenv("COMPTRACK_INVENTORY_TIMEZONE", "UTC")
	t.Setenv("COMPTRACK_LOG_LEVEL", "error")

	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	created, err := a.inventory.Create(context.Background(), map[string]any{"serialNumber": "bk-1"})
	require.NoError(t, err)
	a.Close()

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"backup", "export", "--dest", "file"})
	require.NoError(t, root.Execute())
	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, out.String(), entries[0].Name())

	// restore into a fresh database
	t.Setenv("COMPTRACK_DATABASE_SQLITE_PATH", filepath.Join(dir, "restored.db"))
	cfg, err = config.Load("")
	require.NoError(t, err)

	root = newRootCmd()
	root.SetArgs([]string{"backup", "restore", "--src", "file"})
	require.NoError(t, root.Execute())

	a, err = newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	got, err := a.inventory.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "BK-1", got.SerialNumber)
	assert.Len(t, got.History, 1)
}

func TestMigrateRejectsNonPostgresDriver(t *testing.T) {
	t.Setenv("COMPTRACK_DATABASE_DRIVER", config.DriverMemory)
	root := newRootCmd()
	root.SetArgs([]string{"migrate", "up"})
	root.SetErr(&bytes.Buffer{})
	assert.ErrorContains(t, root.Execute(), "postgres driver only")
}
