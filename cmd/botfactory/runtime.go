package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	botfactory "github.com/goliatone/go-botfactory"
	"github.com/goliatone/go-botfactory/adapters/gologger"
	"github.com/goliatone/go-botfactory/core"
	botmigrations "github.com/goliatone/go-botfactory/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	"go.uber.org/zap"
)

type persistenceConfig struct {
	driver  string
	dsn     string
	debug   bool
	service string
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return c.service }

// runtime is a factory over a migrated database.
type runtime struct {
	factory *botfactory.Factory
	client  *persistence.Client
	logger  *zap.Logger
}

func (r *runtime) Close() {
	if r.factory != nil {
		r.factory.Close()
	}
	if r.client != nil {
		_ = r.client.Close()
	}
	if r.logger != nil {
		_ = r.logger.Sync()
	}
}

func openRuntime(ctx context.Context, flags *rootFlags) (*runtime, error) {
	logger, err := gologger.NewZap(flags.env)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	rt := &runtime{logger: logger}
	provider := core.NewCfgxConfigProvider(core.YAMLFileLoader{
		Path:     flags.configPath,
		Required: flags.configRequired,
	})

	cfg, err := core.ResolveConfig(ctx, provider, nil, core.Config{})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.client, err = openPersistence(ctx, cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}

	loggers := gologger.NewZapProvider(logger)
	rt.factory, err = botfactory.New(ctx, core.Config{},
		botfactory.WithConfigProvider(provider),
		botfactory.WithLoggerProvider(loggers),
		botfactory.WithLogger(loggers.GetLogger("botfactory")),
		botfactory.WithPersistenceClient(rt.client),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func openPersistence(ctx context.Context, cfg core.Config) (*persistence.Client, error) {
	driver, dialect, migrationDialect, err := resolveDriver(cfg.Persistence.Driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(driver, cfg.Persistence.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{
		driver:  driver,
		dsn:     cfg.Persistence.DSN,
		debug:   cfg.Persistence.Debug,
		service: cfg.ServiceName,
	}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}

	_, err = botmigrations.Register(ctx, func(_ context.Context, set botmigrations.Set) error {
		client.RegisterSQLMigrations(set.FS)
		return nil
	}, migrationDialect)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("register migrations: %w", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}

func resolveDriver(name string) (driver string, dialect schema.Dialect, migrationDialect botmigrations.Dialect, err error) {
	migrationDialect, err = botmigrations.ParseDialect(name)
	if err != nil {
		return "", nil, "", fmt.Errorf("unsupported persistence driver %q", name)
	}
	if migrationDialect == botmigrations.DialectPostgres {
		return "postgres", pgdialect.New(), migrationDialect, nil
	}
	return "sqlite3", sqlitedialect.New(), migrationDialect, nil
}
