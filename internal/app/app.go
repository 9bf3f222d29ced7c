// Package app wires strata's configuration, infrastructure connections,
// and HTTP/worker surfaces together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/oauth2"

	"github.com/wisbric/strata/internal/audit"
	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/casapi"
	"github.com/wisbric/strata/internal/config"
	"github.com/wisbric/strata/internal/events"
	"github.com/wisbric/strata/internal/gc"
	"github.com/wisbric/strata/internal/httpserver"
	"github.com/wisbric/strata/internal/pendingauth"
	"github.com/wisbric/strata/internal/platform"
	"github.com/wisbric/strata/internal/telemetry"
	"github.com/wisbric/strata/pkg/blobstore"
	"github.com/wisbric/strata/pkg/commitstore"
	"github.com/wisbric/strata/pkg/depot"
	"github.com/wisbric/strata/pkg/ownership"
	"github.com/wisbric/strata/pkg/refcount"
	"github.com/wisbric/strata/pkg/token"
	"github.com/wisbric/strata/pkg/usage"

	bolt "go.etcd.io/bbolt"
)

// Run is the process entry point: it loads infrastructure per cfg's
// backend selectors and dispatches to the runtime mode (spec.md §2).
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting strata", "mode", cfg.Mode, "listen", cfg.ListenAddr())

	if cfg.Mode == "migrate" {
		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	var (
		pool   *pgxpool.Pool
		boltDB *bolt.DB
		err    error
	)
	if cfg.StorageBackend == "postgres" || cfg.DepotHistoryBackend == "postgres" {
		pool, err = platform.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()

		if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("migrations applied")
	}
	if cfg.StorageBackend == "embedded" {
		boltDB, err = platform.OpenBoltDB(cfg.BoltPath)
		if err != nil {
			return fmt.Errorf("opening embedded store: %w", err)
		}
		defer boltDB.Close()
	}

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.RabbitMQURL != "" {
		publisher = events.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		logger.Info("rabbitmq event publishing enabled")
	} else {
		logger.Info("rabbitmq URL not set; domain events are discarded")
	}
	defer func() {
		if closer, ok := publisher.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}()

	tokens, err := buildTokenStore(cfg, pool, boltDB)
	if err != nil {
		return fmt.Errorf("building token store: %w", err)
	}
	ownershipLedger, err := buildOwnership(cfg, pool, boltDB)
	if err != nil {
		return fmt.Errorf("building ownership ledger: %w", err)
	}
	refCounter, err := buildRefCount(cfg, pool, boltDB)
	if err != nil {
		return fmt.Errorf("building refcount store: %w", err)
	}
	usageMeter, err := buildUsage(cfg, pool, boltDB)
	if err != nil {
		return fmt.Errorf("building usage store: %w", err)
	}
	commits, err := buildCommits(cfg, pool, boltDB)
	if err != nil {
		return fmt.Errorf("building commit store: %w", err)
	}
	blobs, err := buildBlobStore(cfg)
	if err != nil {
		return fmt.Errorf("building blob store: %w", err)
	}
	depots, mongoClient, err := buildDepotStore(ctx, cfg, pool, boltDB, logger)
	if err != nil {
		return fmt.Errorf("building depot store: %w", err)
	}
	if mongoClient != nil {
		defer func() {
			if err := mongoClient.Disconnect(context.Background()); err != nil {
				logger.Error("disconnecting mongo", "error", err)
			}
		}()
	}

	auditLog, err := buildAuditStore(cfg, pool, boltDB)
	if err != nil {
		return fmt.Errorf("building audit log store: %w", err)
	}

	metricsReg := telemetry.NewMetricsRegistry()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, rdb, pool, metricsReg, apiDeps{
			Tokens:    tokens,
			Ownership: ownershipLedger,
			RefCount:  refCounter,
			Usage:     usageMeter,
			Commits:   commits,
			Blobs:     blobs,
			Depots:    depots,
			Events:    publisher,
			AuditLog:  auditLog,
		})
	case "worker":
		return runWorker(ctx, cfg, logger, publisher, blobs, ownershipLedger, refCounter, usageMeter)
	default:
		return fmt.Errorf("unknown mode: %s", cfg.Mode)
	}
}

type apiDeps struct {
	Tokens    token.Store
	Ownership ownership.Ledger
	RefCount  refcount.Counter
	Usage     usage.Meter
	Commits   commitstore.Store
	Blobs     blobstore.Store
	Depots    depot.Store
	Events    events.Publisher
	AuditLog  audit.Store
}

func runAPI(ctx context.Context, cfg *config.Config, logger *slog.Logger, rdb *redis.Client, pool *pgxpool.Pool, metricsReg *prometheus.Registry, d apiDeps) error {
	replayGuard := auth.NewRedisReplayGuard(rdb)

	var jwtAuth *auth.JWTAuthenticator
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		var err error
		jwtAuth, err = auth.NewJWTAuthenticator(ctx, cfg.OIDCIssuerURL, cfg.OIDCClientID)
		if err != nil {
			return fmt.Errorf("initializing JWT authenticator: %w", err)
		}
		logger.Info("OIDC JWT authentication enabled", "issuer", cfg.OIDCIssuerURL)
	} else {
		logger.Info("OIDC issuer not configured; JWT credential probe disabled")
	}

	resolver := &auth.Resolver{
		SignedRequest: &auth.SignedRequestAuthenticator{Pubkeys: d.Tokens, Replay: replayGuard},
		JWT:           jwtAuth,
		Token:         &auth.TokenAuthenticator{Store: d.Tokens},
	}

	pendingStore := pendingauth.NewRedisStore(rdb)
	rateLimiter := pendingauth.NewRateLimiter(rdb, 10, 15*time.Minute)
	pendingHandler := &pendingauth.Handler{
		Pending:     pendingStore,
		Tokens:      d.Tokens,
		RateLimiter: rateLimiter,
		Logger:      logger,
	}
	// Ticket issuance gets its own, more permissive budget than enrollment
	// code guesses: legitimate agents mint tickets routinely, so the limit
	// only needs to catch a credential gone runaway.
	ticketLimiter := pendingauth.NewRateLimiter(rdb, 60, time.Minute)

	var auditWriter *audit.Writer
	if d.AuditLog != nil {
		auditWriter = audit.NewWriter(d.AuditLog, logger)
		auditWriter.Start(ctx)
		defer auditWriter.Close()
	}

	var oauthCfg *oauth2.Config
	if cfg.OIDCIssuerURL != "" && cfg.OIDCClientID != "" {
		oauthCfg = &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OIDCIssuerURL + "/authorize",
				TokenURL: cfg.OIDCIssuerURL + "/oauth/token",
			},
		}
	}

	readyChecks := map[string]httpserver.Checker{
		"redis": httpserver.CheckerFunc(func(r *http.Request) error {
			return rdb.Ping(r.Context()).Err()
		}),
	}
	if pool != nil {
		readyChecks["postgres"] = httpserver.CheckerFunc(func(r *http.Request) error {
			return pool.Ping(r.Context())
		})
	}

	srv := httpserver.NewServer(cfg, logger, metricsReg, readyChecks)

	casapi.Mount(srv.Router, casapi.RouterConfig{
		Deps: &casapi.Deps{
			Blobs:         d.Blobs,
			Ownership:     d.Ownership,
			RefCount:      d.RefCount,
			Usage:         d.Usage,
			Commits:       d.Commits,
			Depots:        d.Depots,
			Tokens:        d.Tokens,
			Resolver:      resolver,
			Events:        d.Events,
			Audit:         auditWriter,
			AuditLog:      d.AuditLog,
			TicketLimiter: ticketLimiter,
			Logger:        logger,
			Limits: casapi.Limits{
				NodeSizeLimitBytes:     cfg.NodeSizeLimitBytes,
				CollectionMaxNameBytes: cfg.CollectionMaxNameBytes,
				TreeMaxNodes:           cfg.TreeMaxNodes,
				MaxTicketTTL:           int64(cfg.MaxTicketTTL.Seconds()),
				MaxAgentTokenTTL:       int64(cfg.MaxAgentTokenTTL.Seconds()),
			},
		},
		Resolver:       resolver,
		Pending:        pendingHandler,
		OAuthIssuer:    cfg.OIDCIssuerURL,
		OAuthClientID:  cfg.OIDCClientID,
		OAuthExchanger: oauthCfg,
		Logger:         logger,
	})

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, publisher events.Publisher, blobs blobstore.Store, ownershipLedger ownership.Ledger, refCounter refcount.Counter, usageMeter usage.Meter) error {
	logger.Info("worker started", "gc_interval", cfg.GCInterval)

	collector := &gc.Collector{
		Blobs:     blobs,
		Ownership: ownershipLedger,
		RefCount:  refCounter,
		Usage:     usageMeter,
		Events:    publisher,
		Logger:    logger,
		Config: gc.Config{
			ProtectionWindow: cfg.GCProtectionWindow,
			BatchSize:        cfg.GCBatchSize,
			MaxBatches:       cfg.GCMaxBatches,
		},
	}

	ticker := time.NewTicker(cfg.GCInterval)
	defer ticker.Stop()

	for {
		result, err := collector.Run(ctx)
		if err != nil {
			logger.Error("gc run failed", "error", err)
		} else {
			logger.Info("gc run complete",
				"scanned", result.Scanned,
				"reclaimed", result.Reclaimed,
				"blobs_erased", result.BlobsErased,
				"errors", result.Errors,
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func buildTokenStore(cfg *config.Config, pool *pgxpool.Pool, boltDB *bolt.DB) (token.Store, error) {
	if cfg.StorageBackend == "embedded" {
		return token.NewBoltStore(boltDB)
	}
	return token.NewPostgresStore(pool), nil
}

func buildOwnership(cfg *config.Config, pool *pgxpool.Pool, boltDB *bolt.DB) (ownership.Ledger, error) {
	if cfg.StorageBackend == "embedded" {
		return ownership.NewBoltLedger(boltDB)
	}
	return ownership.NewPostgresLedger(pool), nil
}

func buildRefCount(cfg *config.Config, pool *pgxpool.Pool, boltDB *bolt.DB) (refcount.Counter, error) {
	if cfg.StorageBackend == "embedded" {
		return refcount.NewBoltCounter(boltDB)
	}
	return refcount.NewPostgresCounter(pool), nil
}

func buildUsage(cfg *config.Config, pool *pgxpool.Pool, boltDB *bolt.DB) (usage.Meter, error) {
	if cfg.StorageBackend == "embedded" {
		return usage.NewBoltMeter(boltDB)
	}
	return usage.NewPostgresMeter(pool), nil
}

func buildCommits(cfg *config.Config, pool *pgxpool.Pool, boltDB *bolt.DB) (commitstore.Store, error) {
	if cfg.StorageBackend == "embedded" {
		return commitstore.NewBoltStore(boltDB)
	}
	return commitstore.NewPostgresStore(pool), nil
}

func buildAuditStore(cfg *config.Config, pool *pgxpool.Pool, boltDB *bolt.DB) (audit.Store, error) {
	if cfg.StorageBackend == "embedded" {
		return audit.NewBoltStore(boltDB)
	}
	return audit.NewPostgresStore(pool), nil
}

func buildBlobStore(cfg *config.Config) (blobstore.Store, error) {
	if cfg.BlobStoreBackend == "embedded" {
		return blobstore.NewMemoryStore(), nil
	}
	return blobstore.NewFSStore(cfg.BlobStoreDir, 1024)
}

// buildDepotStore returns the depot store plus, when the mongo history
// backend is selected, the mongo.Client the caller must disconnect on
// shutdown.
func buildDepotStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, boltDB *bolt.DB, logger *slog.Logger) (depot.Store, *mongo.Client, error) {
	var archiver depot.Archiver
	var mongoClient *mongo.Client

	if cfg.DepotHistoryBackend == "mongo" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURL))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, fmt.Errorf("pinging mongo: %w", err)
		}
		mongoClient = client
		collection := client.Database(cfg.MongoDatabase).Collection("depot_history")
		archiver = depot.NewMongoArchiver(collection, logger)
	}

	if cfg.StorageBackend == "embedded" {
		store, err := depot.NewBoltStore(boltDB, archiver)
		return store, mongoClient, err
	}
	return depot.NewPostgresStore(pool, archiver, logger), mongoClient, nil
}
