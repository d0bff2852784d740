package serve

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/events"
	"github.com/chirino/node-service/internal/plugin/repo/embeddings"
	repometrics "github.com/chirino/node-service/internal/plugin/repo/metrics"
	"github.com/chirino/node-service/internal/plugin/route/system"
	registryblob "github.com/chirino/node-service/internal/registry/blob"
	registrycache "github.com/chirino/node-service/internal/registry/cache"
	registrymigrate "github.com/chirino/node-service/internal/registry/migrate"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
	registryroute "github.com/chirino/node-service/internal/registry/route"
	registryvector "github.com/chirino/node-service/internal/registry/vector"
	"github.com/chirino/node-service/internal/security"
	"github.com/chirino/node-service/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/node-service/internal/plugin/blob/fsstore"
	_ "github.com/chirino/node-service/internal/plugin/blob/s3store"
	_ "github.com/chirino/node-service/internal/plugin/cache/noop"
	_ "github.com/chirino/node-service/internal/plugin/cache/redis"
	_ "github.com/chirino/node-service/internal/plugin/cache/ristretto"
	_ "github.com/chirino/node-service/internal/plugin/repo/flatfile"
	_ "github.com/chirino/node-service/internal/plugin/repo/inmem"
	_ "github.com/chirino/node-service/internal/plugin/repo/mongo"
	_ "github.com/chirino/node-service/internal/plugin/repo/postgres"
	_ "github.com/chirino/node-service/internal/plugin/repo/sqlite"
	_ "github.com/chirino/node-service/internal/plugin/route/system"
	_ "github.com/chirino/node-service/internal/plugin/vector/inprocess"
	_ "github.com/chirino/node-service/internal/plugin/vector/qdrant"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the node service",
		Flags: flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Repository ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "repo-kind",
			Category:    "Repository:",
			Sources:     cli.EnvVars("NODE_SERVICE_REPO_KIND"),
			Destination: &cfg.RepoType,
			Value:       cfg.RepoType,
			Usage:       "Repository backend (" + strings.Join(registryrepo.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Repository:",
			Sources:     cli.EnvVars("NODE_SERVICE_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (sqlite DSN, postgres URL, or mongo URI)",
		},
		&cli.StringFlag{
			Name:        "mongo-database",
			Category:    "Repository:",
			Sources:     cli.EnvVars("NODE_SERVICE_MONGO_DATABASE"),
			Destination: &cfg.MongoDatabase,
			Value:       cfg.MongoDatabase,
			Usage:       "Database name for the mongo backend",
		},
		&cli.StringFlag{
			Name:        "flatfile-root",
			Category:    "Repository:",
			Sources:     cli.EnvVars("NODE_SERVICE_FLATFILE_ROOT"),
			Destination: &cfg.FlatfileRoot,
			Usage:       "Data directory for the flatfile backend",
		},
		&cli.BoolFlag{
			Name:        "migrate-at-start",
			Category:    "Repository:",
			Sources:     cli.EnvVars("NODE_SERVICE_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run schema migrations on startup",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("NODE_SERVICE_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("NODE_SERVICE_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("NODE_SERVICE_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "Time-to-live for cached nodes",
		},

		// ── Vector Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "vector-kind",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("NODE_SERVICE_VECTOR_KIND"),
			Destination: &cfg.VectorType,
			Usage:       "External vector store for backends without a native index (" + strings.Join(registryvector.Names(), "|") + ")",
		},
		&cli.IntFlag{
			Name:        "vector-dimension",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("NODE_SERVICE_VECTOR_DIMENSION"),
			Destination: &cfg.VectorDimension,
			Value:       cfg.VectorDimension,
			Usage:       "Embedding width enforced at upsert",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("NODE_SERVICE_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantHost,
			Usage:       "Qdrant host",
		},
		&cli.IntFlag{
			Name:        "qdrant-port",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("NODE_SERVICE_QDRANT_PORT"),
			Destination: &cfg.QdrantPort,
			Value:       cfg.QdrantPort,
			Usage:       "Qdrant gRPC port",
		},
		&cli.StringFlag{
			Name:        "qdrant-collection",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("NODE_SERVICE_QDRANT_COLLECTION"),
			Destination: &cfg.QdrantCollectionName,
			Value:       cfg.QdrantCollectionName,
			Usage:       "Qdrant collection name",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("NODE_SERVICE_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-tls",
			Category:    "Vector Store:",
			Sources:     cli.EnvVars("NODE_SERVICE_QDRANT_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Use TLS for the qdrant connection",
		},

		// ── Blob Storage ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "blob-kind",
			Category:    "Blob Storage:",
			Sources:     cli.EnvVars("NODE_SERVICE_BLOB_KIND"),
			Destination: &cfg.BlobType,
			Value:       cfg.BlobType,
			Usage:       "Blob store (fs|s3)",
		},
		&cli.StringFlag{
			Name:        "blob-fs-root",
			Category:    "Blob Storage:",
			Sources:     cli.EnvVars("NODE_SERVICE_BLOB_FS_ROOT"),
			Destination: &cfg.BlobFSRoot,
			Usage:       "Data directory for the fs blob store",
		},
		&cli.StringFlag{
			Name:        "s3-bucket",
			Category:    "Blob Storage:",
			Sources:     cli.EnvVars("NODE_SERVICE_S3_BUCKET"),
			Destination: &cfg.S3Bucket,
			Usage:       "S3 bucket for node content",
		},
		&cli.StringFlag{
			Name:        "s3-prefix",
			Category:    "Blob Storage:",
			Sources:     cli.EnvVars("NODE_SERVICE_S3_PREFIX"),
			Destination: &cfg.S3Prefix,
			Usage:       "Key prefix inside the S3 bucket",
		},
		&cli.BoolFlag{
			Name:        "s3-use-path-style",
			Category:    "Blob Storage:",
			Sources:     cli.EnvVars("NODE_SERVICE_S3_USE_PATH_STYLE"),
			Destination: &cfg.S3UsePathStyle,
			Usage:       "Use path-style S3 addressing (required for LocalStack/MinIO)",
		},

		// ── Management ────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Management:",
			Sources:     cli.EnvVars("NODE_SERVICE_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementPort,
			Value:       cfg.ManagementPort,
			Usage:       "Port for health and metrics",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	security.InitMetrics()

	if err := registrymigrate.RunAll(ctx); err != nil {
		return err
	}

	svc, cleanup, err := buildService(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv, err := startManagementServer(cfg.ManagementPort)
	if err != nil {
		return err
	}

	// Startup probe: the backend must answer a query before we report ready.
	probeCtx := security.WithPrincipal(ctx, security.Root())
	if _, err := svc.Filter(probeCtx, nil, 1, 1); err != nil {
		return fmt.Errorf("repository startup probe failed: %w", err)
	}
	system.MarkReady()
	log.Info("Node service started", "repo", cfg.RepoType, "management-port", cfg.ManagementPort)

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

// buildService assembles the repository stack: backend plugin, embedding
// overlay when the backend has no native vector index, metrics decorator,
// then the permission-checked service with blob store, cache, and event bus.
func buildService(ctx context.Context, cfg config.Config) (*service.NodeService, func(), error) {
	loader, err := registryrepo.Select(cfg.RepoType)
	if err != nil {
		return nil, nil, err
	}
	repository, err := loader(ctx)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := repository.Close(context.Background()); err != nil {
			log.Error("repository close failed", "err", err)
		}
	}

	if !repository.SupportsEmbeddings() && cfg.VectorType != "" {
		vectorLoader, err := registryvector.Select(cfg.VectorType)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		vectorStore, err := vectorLoader(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		repository = embeddings.Wrap(repository, vectorStore, cfg.VectorDimension)
	}
	repository = repometrics.Wrap(repository)

	opts := []service.Option{service.WithEventBus(events.NewBus())}
	if cfg.CacheType != "" {
		cacheLoader, err := registrycache.Select(cfg.CacheType)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		nodeCache, err := cacheLoader(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, service.WithCache(nodeCache, cfg.CacheTTL))
	}
	if cfg.BlobType != "" {
		blobLoader, err := registryblob.Select(cfg.BlobType)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		blobStore, err := blobLoader(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, service.WithBlobStore(blobStore))
		log.Info("Blob store enabled", "kind", blobStore.Name())
	}
	return service.New(repository, opts...), cleanup, nil
}

func startManagementServer(port int) (*http.Server, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	for _, load := range registryroute.Loaders() {
		if err := load(engine); err != nil {
			return nil, err
		}
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("management server failed", "err", err)
		}
	}()
	return srv, nil
}
