package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/repo-metadata/pkg/metastore"
	"github.com/tendant/repo-metadata/pkg/metastore/repo/memory"
	repopg "github.com/tendant/repo-metadata/pkg/metastore/repo/postgres"
)

// Option applies configuration to a StoreConfig instance.
type Option func(*StoreConfig) error

// Load constructs a StoreConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*StoreConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() StoreConfig {
	return StoreConfig{
		DatabaseType: "memory",
		DBSchema:     "metastore",
	}
}

// StoreConfig represents configuration for the metadata store
type StoreConfig struct {
	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"
	DBSchema     string // Postgres schema to use (default: metastore)

	// Store options
	EnableEntityVersioning bool
	Migrate                bool

	EventSink metastore.EventSink
	Logger    *slog.Logger
}

// WithDatabaseURL selects a postgres backend at the given connection string.
func WithDatabaseURL(url string) Option {
	return func(c *StoreConfig) error {
		c.DatabaseURL = url
		c.DatabaseType = "postgres"
		return nil
	}
}

// WithEntityVersioning enables component entity-version tracking.
func WithEntityVersioning() Option {
	return func(c *StoreConfig) error {
		c.EnableEntityVersioning = true
		return nil
	}
}

// WithMigration applies the embedded schema when building a postgres store.
func WithMigration() Option {
	return func(c *StoreConfig) error {
		c.Migrate = true
		return nil
	}
}

// WithEventSink sets the sink receiving purge lifecycle notifications.
func WithEventSink(sink metastore.EventSink) Option {
	return func(c *StoreConfig) error {
		c.EventSink = sink
		return nil
	}
}

// WithLogger sets the logger handed to the built store.
func WithLogger(log *slog.Logger) Option {
	return func(c *StoreConfig) error {
		c.Logger = log
		return nil
	}
}

// Validate validates the store configuration
func (c *StoreConfig) Validate() error {
	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}
	return nil
}

// BuildRepository creates a Repository based on the configuration. The
// returned close function releases the underlying pool, if any.
func (c *StoreConfig) BuildRepository(ctx context.Context) (metastore.Repository, func(), error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(c.memoryOptions()...), func() {}, nil

	case "postgres":
		pool, err := c.connect(ctx)
		if err != nil {
			return nil, nil, err
		}
		if c.Migrate {
			if err := repopg.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return repopg.NewWithPool(pool, c.postgresOptions()...), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

func (c *StoreConfig) memoryOptions() []memory.Option {
	var opts []memory.Option
	if c.EnableEntityVersioning {
		opts = append(opts, memory.WithEntityVersioning())
	}
	if c.EventSink != nil {
		opts = append(opts, memory.WithEventSink(c.EventSink))
	}
	if c.Logger != nil {
		opts = append(opts, memory.WithLogger(c.Logger))
	}
	return opts
}

func (c *StoreConfig) postgresOptions() []repopg.Option {
	var opts []repopg.Option
	if c.EnableEntityVersioning {
		opts = append(opts, repopg.WithEntityVersioning())
	}
	if c.EventSink != nil {
		opts = append(opts, repopg.WithEventSink(c.EventSink))
	}
	if c.Logger != nil {
		opts = append(opts, repopg.WithLogger(c.Logger))
	}
	return opts
}

func (c *StoreConfig) connect(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	schema := c.DBSchema
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if schema == "" {
			return nil
		}
		// set search_path for this session
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema))
		return err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
// It fails if the schema (when provided) does not exist.
func PingPostgres(databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", schema))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create pgx pool: %w", err)
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}
