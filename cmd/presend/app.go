package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/renvik/presend/internal/bus"
	"github.com/renvik/presend/internal/contextbuild"
	"github.com/renvik/presend/internal/expressions"
	"github.com/renvik/presend/internal/hook"
	"github.com/renvik/presend/internal/logging"
	"github.com/renvik/presend/internal/secrets"
	"github.com/renvik/presend/internal/sender"
	"github.com/renvik/presend/internal/validation"
	"github.com/renvik/presend/internal/variables"
)

// app holds the wired components behind every subcommand.
type app struct {
	cfg        Config
	logger     *slog.Logger
	dispatcher *bus.Dispatcher
	hook       *hook.Hook
	sender     *sender.Sender
	validator  *validation.JSONSchemaValidator
	refresher  *variables.Refresher
	store      variables.Store

	closers []func() error
}

// buildApp wires stores, vault, engines, and the pre-send hook from config.
func buildApp(ctx context.Context, cfg Config) (*app, error) {
	a := &app{cfg: cfg, logger: newLogger(cfg.LogLevel)}

	// Variable stores, lowest precedence first.
	var stores []variables.Store
	var secretStore secrets.SecretStore

	if cfg.DBPath != "" {
		libsql, err := variables.NewLibSQLStore("file:" + cfg.DBPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open variable store: %w", err)
		}
		a.closers = append(a.closers, libsql.Close)
		if err := libsql.Migrate(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate variable store: %w", err)
		}
		stores = append(stores, libsql)
		secretStore = libsql
	} else {
		mem := variables.NewMemoryStore()
		stores = append(stores, mem)
		secretStore = mem
	}

	if cfg.RedisAddr != "" {
		redis, err := variables.NewRedisStore(ctx, variables.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis store: %w", err)
		}
		a.closers = append(a.closers, redis.Close)
		stores = append(stores, redis)
	}

	var vault secrets.Vault
	if cfg.VaultPassphrase != "" {
		v, err := secrets.NewAESVault(secretStore, secrets.VaultConfig{
			Passphrase: cfg.VaultPassphrase,
			Salt:       []byte(cfg.VaultSalt),
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("open vault: %w", err)
		}
		vault = v
	}

	a.store = stores[0]

	builder := contextbuild.New(contextbuild.Config{
		Stores:      stores,
		Environment: map[string]any{"name": cfg.Environment},
		Vault:       vault,
	}, a.logger)

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init cel engine: %w", err)
	}
	renderer := expressions.NewRenderer(
		expressions.NewExprEngine(),
		celEngine,
		expressions.NewGoJQEngine(),
	)

	a.dispatcher = bus.NewDispatcher()
	a.hook = hook.New(renderer, builder, hook.Config{PassThrough: cfg.PassThrough}, a.logger)
	a.hook.Attach(a.dispatcher)

	a.sender = sender.New(sender.Config{
		MaxResponseBody: cfg.MaxResponseBody,
		Timeout:         cfg.SendTimeout,
		FollowRedirects: cfg.FollowRedirects,
		MaxRedirects:    cfg.MaxRedirects,
		TLSSkipVerify:   cfg.TLSSkipVerify,
	}, a.logger)

	a.validator, err = validation.NewJSONSchemaValidator()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("compile request schema: %w", err)
	}

	if cfg.RefreshInterval > 0 {
		a.refresher = variables.NewRefresher(stores[0], cfg.RefreshInterval, a.logger)
		registerDynamicSources(a.refresher)
		if err := a.refresher.Start(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("start refresher: %w", err)
		}
	}

	return a, nil
}

// registerDynamicSources installs the built-in minute-resolution sources.
func registerDynamicSources(r *variables.Refresher) {
	for name, src := range map[string]variables.Source{
		"timestamp":  variables.TimestampSource,
		"unix":       variables.UnixSource,
		"request_id": variables.UUIDSource,
	} {
		// Every-minute spec; Register only fails on a bad cron expression.
		if err := r.Register(name, "* * * * *", src); err != nil {
			panic(err)
		}
	}
}

// primaryStore returns the lowest-precedence store, the one dynamic
// sources refresh into.
func (a *app) primaryStore() variables.Store {
	return a.store
}

func (a *app) close() {
	if a.refresher != nil {
		a.refresher.Stop()
	}
	if a.hook != nil {
		a.hook.Detach()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close failed", "error", err)
		}
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// awaitTimeout bounds promise waits in the CLI so a wedged evaluation
// cannot hang the process forever.
const awaitTimeout = 2 * time.Minute
