package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jacksonlee411/metaregistry/internal/config"
	"github.com/jacksonlee411/metaregistry/internal/engine"
	"github.com/jacksonlee411/metaregistry/internal/logging"
	"github.com/jacksonlee411/metaregistry/internal/metrics"
	"github.com/jacksonlee411/metaregistry/internal/routing"
	"github.com/jacksonlee411/metaregistry/internal/server"
	catalogpersistence "github.com/jacksonlee411/metaregistry/modules/catalog/infrastructure/persistence"
	"github.com/jacksonlee411/metaregistry/modules/governance/infrastructure/cache"
	governancepersistence "github.com/jacksonlee411/metaregistry/modules/governance/infrastructure/persistence"
	"github.com/jacksonlee411/metaregistry/modules/governance/infrastructure/seed"
	lineagepersistence "github.com/jacksonlee411/metaregistry/modules/lineage/infrastructure/persistence"
	"github.com/jacksonlee411/metaregistry/pkg/authz"
	"github.com/jacksonlee411/metaregistry/pkg/compat"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "metadatad:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".env")
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler, closeApp, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeApp()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("store_backend", cfg.StoreBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// newApp opens the stores, seeds governance and builds the HTTP handler. A
// blocked compatibility gate does not stop startup; the handler then answers
// every metadata call with version_mismatch and /health with degraded.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (http.Handler, func(), error) {
	stores, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	fail := func(err error) (http.Handler, func(), error) {
		closeStores()
		return nil, nil, err
	}

	gate := compat.NewContext(cfg.CallerVersion, cfg.EngineVersion)
	logger.Info("compatibility gate",
		zap.String("caller_version", cfg.CallerVersion),
		zap.String("engine_version", cfg.EngineVersion),
		zap.String("state", string(gate.State())),
	)
	if gate.Check() != nil {
		logger.Warn("engine is blocked; every metadata operation will be rejected")
	}

	m := metrics.New()
	eng := engine.New(gate, stores, engine.Options{
		Logger:         logger,
		FuzzyThreshold: cfg.FuzzyThreshold,
		NodeCap:        cfg.LineageNodeCap,
	})
	m.Subscribe(eng.Bus())

	s, err := seed.Load(cfg.SeedPath)
	if err != nil {
		return fail(fmt.Errorf("governance seed: %w", err))
	}
	if err := eng.ApplySeed(ctx, s); err != nil {
		return fail(fmt.Errorf("governance seed: %w", err))
	}

	authorizer, err := newAuthorizer(cfg)
	if err != nil {
		return fail(err)
	}
	tenants, err := server.LoadTenants(cfg.TenantsPath)
	if err != nil {
		return fail(err)
	}
	allowlist, err := routing.LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return fail(err)
	}
	handler, err := server.NewHandler(server.HandlerOptions{
		Engine:     eng,
		Tenants:    tenants,
		Authorizer: authorizer,
		Allowlist:  allowlist,
		Metrics:    m,
		Logger:     logger,
	})
	if err != nil {
		return fail(err)
	}
	return handler, closeStores, nil
}

func newAuthorizer(cfg config.Config) (*authz.Authorizer, error) {
	mode, err := authz.ModeFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.AuthzModelPath != "" {
		return authz.NewAuthorizer(cfg.AuthzModelPath, cfg.AuthzPolicyPath, mode)
	}
	return authz.NewEmbeddedAuthorizer(mode)
}

func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (engine.Stores, func(), error) {
	var stores engine.Stores
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return engine.Stores{}, nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return engine.Stores{}, nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		stores.Catalog = catalogpersistence.NewCatalogPGStore(pool)
		stores.Governance = governancepersistence.NewGovernancePGStore(pool)
		stores.Lineage = lineagepersistence.NewLineagePGStore(pool)
	default:
		logger.Warn("using in-memory stores; metadata is lost on restart")
		stores.Catalog = catalogpersistence.NewCatalogMemoryStore()
		stores.Governance = governancepersistence.NewGovernanceMemoryStore()
		stores.Lineage = lineagepersistence.NewLineageMemoryStore()
	}

	if cfg.RedisURL == "" {
		stores.Snapshots = cache.NewMemorySnapshotCache(cfg.SnapshotTTL)
		return stores, closeAll, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		closeAll()
		return engine.Stores{}, nil, fmt.Errorf("redis: %w", err)
	}
	client := redis.NewClient(opts)
	closers = append(closers, func() { _ = client.Close() })
	snapshots, err := cache.NewRedisSnapshotCache(client, cfg.SnapshotTTL)
	if err != nil {
		closeAll()
		return engine.Stores{}, nil, err
	}
	stores.Snapshots = snapshots
	return stores, closeAll, nil
}
