package main

import (
	"context"
	"fmt"
	"log/slog"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	backend "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	espalier "github.com/seragusa/espalier"
	"github.com/seragusa/espalier/internal/config"
	"github.com/seragusa/espalier/internal/logging"
	badgeradapter "github.com/seragusa/espalier/pkg/adapters/badger"
	"github.com/seragusa/espalier/pkg/adapters/memory"
	natsadapter "github.com/seragusa/espalier/pkg/adapters/nats"
	openaiadapter "github.com/seragusa/espalier/pkg/adapters/openai"
	postgresadapter "github.com/seragusa/espalier/pkg/adapters/postgres"
	redisadapter "github.com/seragusa/espalier/pkg/adapters/redis"
	"github.com/seragusa/espalier/pkg/observability"
	"github.com/seragusa/espalier/pkg/persistence/middleware"
	"github.com/seragusa/espalier/pkg/ports"
	"github.com/seragusa/espalier/pkg/stages"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// buildEngine assembles an Engine from deployment configuration. The
// returned cleanup closes every connection the wiring opened.
func buildEngine(cfg config.Config, logger *slog.Logger, withMetrics bool) (*espalier.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*espalier.Engine, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if cfg.Model.APIKey == "" {
		return fail(fmt.Errorf("a model API key is required (set OPENAI_API_KEY or model.api_key)"))
	}
	model := openaiadapter.New(cfg.Model.APIKey,
		openaiadapter.WithModel(cfg.Model.Model),
		openaiadapter.WithBaseURL(cfg.Model.BaseURL),
		openaiadapter.WithTemperature(cfg.Model.Temperature),
	)

	opts := []espalier.Option{
		espalier.WithModel(model),
		espalier.WithLogger(logger),
		espalier.WithCheckpointExpiry(cfg.Checkpoint.Expiry.Std()),
		espalier.WithCompressor(stages.CompressorConfig{
			Threshold: cfg.Compressor.Threshold,
			Tail:      cfg.Compressor.Tail,
		}),
	}

	var states ports.StateStore
	switch cfg.Store.Backend {
	case "redis":
		client := backend.NewClient(&backend.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		closers = append(closers, func() { client.Close() })

		states = redisadapter.NewFromClient(client, redisadapter.WithTTL(cfg.Store.Redis.TTL.Std()))
		opts = append(opts,
			espalier.WithCheckpointStore(redisadapter.NewCheckpointStore(client, "")),
			espalier.WithLocker(redisadapter.NewLocker(client, "")),
			espalier.WithLockTTL(cfg.Store.LockTTL.Std()),
		)

	case "badger":
		db, err := badgerdb.Open(badgerdb.DefaultOptions(cfg.Store.BadgerPath).WithLogger(nil))
		if err != nil {
			return fail(fmt.Errorf("open badger at %s: %w", cfg.Store.BadgerPath, err))
		}
		closers = append(closers, func() { db.Close() })
		states = badgeradapter.NewFromDB(db)
		opts = append(opts, espalier.WithCheckpointStore(badgeradapter.NewCheckpointStore(db)))

	default:
		states = memory.NewStore()
	}

	middlewares, err := persistenceMiddlewares(cfg)
	if err != nil {
		return fail(err)
	}
	opts = append(opts, espalier.WithStateStore(middleware.Chain(states, middlewares...)))

	if cfg.Postgres.DatabaseURL != "" {
		store, err := postgresadapter.New(context.Background(), cfg.Postgres.DatabaseURL)
		if err != nil {
			return fail(fmt.Errorf("postgres: %w", err))
		}
		closers = append(closers, store.Close)
		opts = append(opts,
			espalier.WithCatalog(store),
			espalier.WithProfiles(store),
		)
	}

	if cfg.NATS.URL != "" {
		notifierOpts := []natsadapter.Option{natsadapter.WithLogger(logger)}
		if cfg.NATS.Subject != "" {
			notifierOpts = append(notifierOpts, natsadapter.WithSubject(cfg.NATS.Subject))
		}
		notifier, err := natsadapter.Connect(cfg.NATS.URL, cfg.NATS.Token, notifierOpts...)
		if err != nil {
			return fail(fmt.Errorf("nats: %w", err))
		}
		closers = append(closers, notifier.Close)
		opts = append(opts, espalier.WithNotifier(notifier))
	}

	if withMetrics {
		metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
		opts = append(opts, espalier.WithLifecycleHooks(observability.Hooks(metrics, logger)))
	} else {
		opts = append(opts, espalier.WithLifecycleHooks(observability.Hooks(nil, logger)))
	}

	engine, err := espalier.New(opts...)
	if err != nil {
		return fail(err)
	}
	return engine, cleanup, nil
}

// persistenceMiddlewares builds the at-rest protections from configuration.
// Masking runs before encryption so the stored plaintext never exists.
func persistenceMiddlewares(cfg config.Config) ([]middleware.Middleware, error) {
	var middlewares []middleware.Middleware

	if len(cfg.Persistence.PIIPatterns) > 0 {
		middlewares = append(middlewares, middleware.NewPIIMasker(cfg.Persistence.PIIPatterns))
	}

	active, fallbacks, err := cfg.Persistence.Keys()
	if err != nil {
		return nil, err
	}
	if active != nil {
		middlewares = append(middlewares, middleware.NewEncryption(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallbacks,
		}))
	}
	return middlewares, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.New(logging.ParseLevel(cfg.LogLevel))
}
