// Package config loads catalog settings and builds the configured store
// backend.
//
// Settings come from an optional YAML file and CATALOG_* environment
// variables, environment winning. Nested keys map to variables by joining
// the path with underscores: store.dynamodb.table is read from
// CATALOG_STORE_DYNAMODB_TABLE.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment variable the loader reads.
	EnvPrefix = "CATALOG"

	configFileName = "catalog"
	configFileType = "yaml"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
)

// Config is the complete catalog configuration.
type Config struct {
	// Schema is the path of a declaration document. Empty selects the
	// embedded experiment schema.
	Schema string `mapstructure:"schema"`

	// MaxAttempts bounds how often a write is retried after a store
	// conflict. Default: 3
	MaxAttempts int `mapstructure:"max_attempts"`

	Log   LogConfig   `mapstructure:"log"`
	Store StoreConfig `mapstructure:"store"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `mapstructure:"level"`

	// Format is text or json. Default: text
	Format string `mapstructure:"format"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	// Backend is memory, sqlite, postgres or dynamodb. Default: sqlite
	Backend string `mapstructure:"backend"`

	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	DynamoDB DynamoDBConfig `mapstructure:"dynamodb"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	// Path is the database file. Default: catalog.db
	Path string `mapstructure:"path"`

	// BusyTimeoutMillis is how long writers wait for the file lock.
	BusyTimeoutMillis int `mapstructure:"busy_timeout_ms"`
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// DynamoDBConfig configures the dynamodb backend.
type DynamoDBConfig struct {
	// Table is the row table. Default: catalog_rows
	Table string `mapstructure:"table"`

	// Region overrides the region of the default AWS configuration.
	Region string `mapstructure:"region"`

	// Profile selects a shared configuration profile.
	Profile string `mapstructure:"profile"`

	// Endpoint points the client at DynamoDB Local or another compatible
	// endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// AccessKeyID and SecretAccessKey set static credentials. Both empty
	// falls back to the default credential chain.
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// NumShards spreads each entity type over this many partitions.
	// Default: 1
	NumShards int `mapstructure:"num_shards"`

	// CreateTable creates the row table on open when it does not exist.
	CreateTable bool `mapstructure:"create_table"`
}

// DefaultConfig returns a configuration for a local sqlite catalog.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{
			Backend: BackendSQLite,
			SQLite: SQLiteConfig{
				Path:              "catalog.db",
				BusyTimeoutMillis: 5000,
			},
			DynamoDB: DynamoDBConfig{
				Table:     "catalog_rows",
				NumShards: 1,
			},
		},
	}
}

// Load reads the configuration. With an empty path, catalog.yaml is looked
// up in the working directory and its absence is not an error; an explicit
// path must exist.
func Load(path string) (Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// newViper returns a viper instance carrying every default, so that each
// key can also be set from the environment.
func newViper() *viper.Viper {
	d := DefaultConfig()
	v := viper.New()
	v.SetDefault("schema", d.Schema)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.sqlite.path", d.Store.SQLite.Path)
	v.SetDefault("store.sqlite.busy_timeout_ms", d.Store.SQLite.BusyTimeoutMillis)
	v.SetDefault("store.postgres.dsn", d.Store.Postgres.DSN)
	v.SetDefault("store.postgres.max_open_conns", d.Store.Postgres.MaxOpenConns)
	v.SetDefault("store.dynamodb.table", d.Store.DynamoDB.Table)
	v.SetDefault("store.dynamodb.region", d.Store.DynamoDB.Region)
	v.SetDefault("store.dynamodb.profile", d.Store.DynamoDB.Profile)
	v.SetDefault("store.dynamodb.endpoint", d.Store.DynamoDB.Endpoint)
	v.SetDefault("store.dynamodb.access_key_id", d.Store.DynamoDB.AccessKeyID)
	v.SetDefault("store.dynamodb.secret_access_key", d.Store.DynamoDB.SecretAccessKey)
	v.SetDefault("store.dynamodb.num_shards", d.Store.DynamoDB.NumShards)
	v.SetDefault("store.dynamodb.create_table", d.Store.DynamoDB.CreateTable)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// validate rejects unknown choices and clamps numeric settings.
func (c *Config) validate() error {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Store.SQLite.Path == "" {
			return errors.New("config: store.sqlite.path is required")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return errors.New("config: store.postgres.dsn is required")
		}
	case BackendDynamoDB:
		if c.Store.DynamoDB.Table == "" {
			return errors.New("config: store.dynamodb.table is required")
		}
		if (c.Store.DynamoDB.AccessKeyID == "") != (c.Store.DynamoDB.SecretAccessKey == "") {
			return errors.New("config: store.dynamodb access key id and secret must be set together")
		}
		if c.Store.DynamoDB.NumShards < 1 {
			c.Store.DynamoDB.NumShards = 1
		}
		if c.Store.DynamoDB.NumShards > 256 {
			c.Store.DynamoDB.NumShards = 256
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", s)
	}
	return level, nil
}

// NewLogger builds the configured log handler writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
