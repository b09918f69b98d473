package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rpattn/comptrack/internal/db"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Inventory InventoryConfig
	Log       LogConfig
	Backup    BackupConfig

	// Source is the config file that was read, empty when only defaults and env applied.
	Source string
}

type ServerConfig struct {
	Addr            string
	AllowedOrigins  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Driver     string
	Postgres   db.Config
	SQLitePath string
}

type InventoryConfig struct {
	ComponentTypes []string
	SystemActor    string
	LockTimeout    time.Duration
	Timezone       string
}

// Location resolves Timezone; "Local" and "" mean the process location.
func (c InventoryConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("inventory.timezone: %w", err)
	}
	return loc, nil
}

type LogConfig struct {
	Level  string
	Format string
}

type BackupConfig struct {
	Dir         string
	S3Bucket    string
	S3Prefix    string
	S3Region    string
	S3Endpoint  string
	S3PathStyle bool
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			AllowedOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:     DriverPostgres,
			Postgres:   db.DefaultConfig(),
			SQLitePath: "comptrack.db",
		},
		Inventory: InventoryConfig{
			ComponentTypes: []string{"Day", "Thermal", "Gimbal", "FCB"},
			SystemActor:    "system",
			LockTimeout:    5 * time.Second,
			Timezone:       "Local",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backup: BackupConfig{
			Dir:      "backups",
			S3Prefix: "comptrack/",
		},
	}
}

// Load reads config.yaml from configPath (optional) and applies COMPTRACK_* environment
// overrides, e.g. COMPTRACK_DATABASE_HOST or COMPTRACK_INVENTORY_LOCK_TIMEOUT.
func Load(configPath string) (Config, error) {
	// Start with default
	cfg := Default()

	if err := loadDotEnv(configPath); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("COMPTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		cfg.Source = v.ConfigFileUsed()
	}

	apply(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv exports the variables of configPath/.env, if present. Variables already set in
// the environment win.
func loadDotEnv(configPath string) error {
	if configPath == "" {
		return nil
	}
	envFile := filepath.Join(configPath, ".env")
	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", envFile, err)
	}
	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	return nil
}

var keys = []string{
	"server.addr", "server.allowed_origins", "server.read_timeout", "server.write_timeout",
	"server.idle_timeout", "server.shutdown_timeout",
	"database.driver", "database.host", "database.port", "database.user", "database.password",
	"database.dbname", "database.sslmode", "database.max_conns", "database.min_conns", "database.sqlite_path",
	"inventory.component_types", "inventory.system_actor", "inventory.lock_timeout", "inventory.timezone",
	"log.level", "log.format",
	"backup.dir", "backup.s3_bucket", "backup.s3_prefix", "backup.s3_region", "backup.s3_endpoint", "backup.s3_path_style",
}

// Override defaults if values exist
func apply(v *viper.Viper, cfg *Config) {
	setString(v, "server.addr", &cfg.Server.Addr)
	setList(v, "server.allowed_origins", &cfg.Server.AllowedOrigins)
	setDuration(v, "server.read_timeout", &cfg.Server.ReadTimeout)
	setDuration(v, "server.write_timeout", &cfg.Server.WriteTimeout)
	setDuration(v, "server.idle_timeout", &cfg.Server.IdleTimeout)
	setDuration(v, "server.shutdown_timeout", &cfg.Server.ShutdownTimeout)

	setString(v, "database.driver", &cfg.Database.Driver)
	setString(v, "database.host", &cfg.Database.Postgres.Host)
	if v.IsSet("database.port") {
		cfg.Database.Postgres.Port = v.GetInt("database.port")
	}
	setString(v, "database.user", &cfg.Database.Postgres.User)
	setString(v, "database.password", &cfg.Database.Postgres.Password)
	setString(v, "database.dbname", &cfg.Database.Postgres.DBName)
	setString(v, "database.sslmode", &cfg.Database.Postgres.SSLMode)
	if v.IsSet("database.max_conns") {
		cfg.Database.Postgres.MaxConns = v.GetInt32("database.max_conns")
	}
	if v.IsSet("database.min_conns") {
		cfg.Database.Postgres.MinConns = v.GetInt32("database.min_conns")
	}
	setString(v, "database.sqlite_path", &cfg.Database.SQLitePath)

	setList(v, "inventory.component_types", &cfg.Inventory.ComponentTypes)
	setString(v, "inventory.system_actor", &cfg.Inventory.SystemActor)
	setDuration(v, "inventory.lock_timeout", &cfg.Inventory.LockTimeout)
	setString(v, "inventory.timezone", &cfg.Inventory.Timezone)

	setString(v, "log.level", &cfg.Log.Level)
	setString(v, "log.format", &cfg.Log.Format)

	setString(v, "backup.dir", &cfg.Backup.Dir)
	setString(v, "backup.s3_bucket", &cfg.Backup.S3Bucket)
	setString(v, "backup.s3_prefix", &cfg.Backup.S3Prefix)
	setString(v, "backup.s3_region", &cfg.Backup.S3Region)
	setString(v, "backup.s3_endpoint", &cfg.Backup.S3Endpoint)
	if v.IsSet("backup.s3_path_style") {
		cfg.Backup.S3PathStyle = v.GetBool("backup.s3_path_style")
	}
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		*dst = v.GetString(key)
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		*dst = v.GetDuration(key)
	}
}

// setList accepts YAML lists as well as comma- or space-separated env values.
func setList(v *viper.Viper, key string, dst *[]string) {
	if !v.IsSet(key) {
		return
	}
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	*dst = out
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of %s, %s, %s; got %q", DriverPostgres, DriverSQLite, DriverMemory, c.Database.Driver)
	}
	if len(c.Inventory.ComponentTypes) == 0 {
		return fmt.Errorf("inventory.component_types must not be empty")
	}
	if strings.TrimSpace(c.Inventory.SystemActor) == "" {
		return fmt.Errorf("inventory.system_actor must not be empty")
	}
	if c.Inventory.LockTimeout <= 0 {
		return fmt.Errorf("inventory.lock_timeout must be positive")
	}
	if _, err := c.Inventory.Location(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json; got %q", c.Log.Format)
	}
	return nil
}
