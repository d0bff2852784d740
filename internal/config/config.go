package config

import (
	"context"
	"net"
	"strconv"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the node service.
type Config struct {
	// Repository backend type: "inmem", "flatfile", "sqlite", "postgres", or "mongo".
	RepoType string

	// Database connection URL (sqlite DSN, postgres URL, or mongo URI,
	// depending on RepoType).
	DBURL string

	// MongoDatabase is the database name for the mongo backend.
	MongoDatabase string

	// FlatfileRoot is the data directory for the flat-file backend.
	FlatfileRoot string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Cache backend type: "none", "ristretto", or "redis".
	CacheType string
	RedisURL  string
	CacheTTL  time.Duration

	// External vector store type for backends without a native vector
	// index: "", "inprocess", or "qdrant".
	VectorType string

	// VectorDimension is the embedding width enforced at upsert.
	VectorDimension int

	// Run vector store migrations on startup.
	VectorMigrateAtStart bool

	// Qdrant
	QdrantHost           string
	QdrantPort           int
	QdrantCollectionName string
	QdrantAPIKey         string
	QdrantUseTLS         bool
	QdrantStartupTimeout time.Duration

	// Blob store type: "fs" or "s3".
	BlobType   string
	BlobFSRoot string

	// S3 blob store
	S3Bucket       string
	S3Prefix       string
	S3UsePathStyle bool

	// Management listener (health, readiness, metrics).
	ManagementPort int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		RepoType:                "inmem",
		MongoDatabase:           "node_service",
		DatastoreMigrateAtStart: true,
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		VectorDimension:         384,
		VectorMigrateAtStart:    true,
		QdrantHost:              "localhost",
		QdrantPort:              6334,
		QdrantCollectionName:    "node_embeddings",
		QdrantStartupTimeout:    30 * time.Second,
		BlobType:                "fs",
		ManagementPort:          9090,
	}
}

// QdrantAddress returns the host:port gRPC target for qdrant.
func (c *Config) QdrantAddress() string {
	host := c.QdrantHost
	if host == "" {
		host = "localhost"
	}
	port := c.QdrantPort
	if port == 0 {
		port = 6334
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
