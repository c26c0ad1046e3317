package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JonMunkholm/ledgersync/internal/config"
	"github.com/JonMunkholm/ledgersync/internal/core"
	_ "github.com/JonMunkholm/ledgersync/internal/core/doctypes" // Register document types
	"github.com/JonMunkholm/ledgersync/internal/lock"
	"github.com/JonMunkholm/ledgersync/internal/logging"
	"github.com/JonMunkholm/ledgersync/internal/notify"
	"github.com/JonMunkholm/ledgersync/internal/source"
	"github.com/JonMunkholm/ledgersync/internal/store"
	"github.com/JonMunkholm/ledgersync/internal/syncclient"
	"github.com/JonMunkholm/ledgersync/internal/tracing"
	"github.com/JonMunkholm/ledgersync/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Protocol:    cfg.Tracing.Protocol,
		Sampler:     cfg.Tracing.Sampler,
		SamplerArg:  cfg.Tracing.SamplerArg,
	})
	if err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	queue, pool, err := openQueue(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open pending-sync queue", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	sources, err := buildSources(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure document sources", "error", err)
		os.Exit(1)
	}

	client, err := syncclient.NewHTTP(syncclient.HTTPConfig{
		BaseURL:      cfg.Sync.BaseURL,
		APIKey:       cfg.Sync.APIKey,
		APIKeyHeader: cfg.Sync.APIKeyHeader,
		Company:      cfg.Sync.Company,
		Timeout:      cfg.Sync.Timeout,
		RatePerMin:   cfg.Sync.RatePerMin,
	})
	if err != nil {
		slog.Error("failed to create sync client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	cycleLock, closeLock, err := buildLock(ctx, cfg.Redis)
	if err != nil {
		slog.Error("failed to configure reconciliation lock", "error", err)
		os.Exit(1)
	}
	defer closeLock()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := core.NewEngine(cfg.EngineSettings(), core.Deps{
		Sources: sources,
		Client:  client,
		Queue:   queue,
		Lock:    cycleLock,
		Metrics: reg,
	})
	if err != nil {
		slog.Error("failed to create automation engine", "error", err)
		os.Exit(1)
	}

	var forwarder *notify.Forwarder
	if cfg.PubSub.Topic != "" {
		forwarder, err = notify.NewPubSub(ctx, notify.Config{
			ProjectID:       cfg.PubSub.ProjectID,
			Topic:           cfg.PubSub.Topic,
			CredentialsJSON: cfg.PubSub.CredentialsJSON,
			CreateTopic:     cfg.PubSub.CreateTopic,
			Events:          cfg.PubSub.Events,
		}, engine.Events())
		if err != nil {
			slog.Error("failed to configure pubsub forwarding", "error", err)
			os.Exit(1)
		}
	}

	if err := engine.Initialize(ctx); err != nil {
		slog.Error("failed to initialize automation engine", "error", err)
		os.Exit(1)
	}

	server, err := web.NewServer(engine, cfg, reg)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Background jobs stop first on shutdown.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go engine.StartRuleScheduler(jobCtx, cfg.Workflows.RuleCheckInterval)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if active := engine.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for workflows to complete", "active", active)
		}
		if err := engine.Shutdown(shutdownCtx); err != nil {
			slog.Warn("workflows did not complete in time", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if forwarder != nil {
			if err := forwarder.Close(); err != nil {
				slog.Warn("pubsub forwarder close", "error", err)
			}
		}

		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown", "error", err)
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		cancelJobs()
		return
	}
	<-stopped
	slog.Info("server stopped")
}

// openQueue connects to PostgreSQL when a URL is configured and falls back
// to the in-memory queue otherwise. The returned pool is nil in memory mode.
func openQueue(ctx context.Context, dbCfg config.DatabaseConfig) (store.Queue, *pgxpool.Pool, error) {
	if dbCfg.URL == "" {
		slog.Warn("DATABASE_URL not set, pending vouchers are kept in memory")
		return store.NewMemory(), nil, nil
	}

	poolConfig, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, nil, err
	}
	poolConfig.MaxConns = int32(dbCfg.MaxConns)
	poolConfig.MinConns = int32(dbCfg.MinConns)
	poolConfig.MaxConnLifetime = dbCfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dbCfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(dbCfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	pg := store.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool, nil
}

// buildSources registers a folder source per configured directory and the
// object store inbox when an endpoint is set.
func buildSources(ctx context.Context, cfg *config.Config) (*source.Registry, error) {
	registry := source.NewRegistry()

	folders := []struct{ typ, dir string }{
		{"email", cfg.Sources.EmailDir},
		{"folder", cfg.Sources.FolderDir},
		{"bank", cfg.Sources.BankDir},
	}
	for _, f := range folders {
		if f.dir == "" {
			continue
		}
		src, err := source.NewFolder(f.typ, f.dir)
		if err != nil {
			return nil, err
		}
		registry.Register(src)
	}

	if cfg.ObjectStore.Endpoint != "" {
		src, err := source.NewObjectStore(ctx, source.ObjectStoreConfig{
			SourceType: cfg.ObjectStore.SourceType,
			Endpoint:   cfg.ObjectStore.Endpoint,
			AccessKey:  cfg.ObjectStore.AccessKey,
			SecretKey:  cfg.ObjectStore.SecretKey,
			Bucket:     cfg.ObjectStore.Bucket,
			Prefix:     cfg.ObjectStore.Prefix,
			UseSSL:     cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		registry.Register(src)
	}

	slog.Info("document sources registered", "types", registry.Types())
	return registry, nil
}

// buildLock returns the Redis lock when an address is configured, otherwise
// an in-process lock.
func buildLock(ctx context.Context, rc config.RedisConfig) (core.CycleLock, func(), error) {
	if rc.Address == "" {
		return &lock.Local{}, func() {}, nil
	}
	rdb, err := lock.Connect(ctx, rc.Address, rc.Password, rc.DB)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("connected to redis", "addr", rc.Address, "lock_key", rc.LockKey)
	return lock.NewRedis(rdb, rc.LockKey, rc.LockTTL), func() { _ = rdb.Close() }, nil
}
