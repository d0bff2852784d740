// Package postgres is the PostgreSQL backend: one row per node with a JSONB
// body and generated, indexed columns for the promoted fields. Embeddings
// use the pgvector extension with cosine distance.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/charmbracelet/log"
	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/model"
	registrymigrate "github.com/chirino/node-service/internal/registry/migrate"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/vecmath"
	"github.com/jackc/pgx/v5/pgconn"
	pgvec "github.com/pgvector/pgvector-go"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

func init() {
	registryrepo.Register(registryrepo.Plugin{
		Name: "postgres",
		Loader: func(ctx context.Context) (registryrepo.NodeRepository, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("postgres: database URL is required")
			}
			return Open(cfg.DBURL, cfg.VectorDimension)
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &postgresMigrator{}})
}

type postgresMigrator struct{}

func (m *postgresMigrator) Name() string { return "postgres-schema" }
func (m *postgresMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.RepoType != "postgres" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	defer closeDB(db)
	return migrateSchema(ctx, db, cfg.VectorDimension)
}

func openDB(dbURL string) (*gorm.DB, error) {
	return gorm.Open(gormpostgres.Open(dbURL), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func migrateSchema(ctx context.Context, db *gorm.DB, dimension int) error {
	if err := db.WithContext(ctx).Exec(schemaSQL).Error; err != nil {
		return fmt.Errorf("postgres migrate: schema: %w", err)
	}
	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("postgres migrate: vector extension: %w", err)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS node_embeddings (
		node_uuid TEXT PRIMARY KEY REFERENCES nodes (uuid) ON DELETE CASCADE,
		embedding vector(%d) NOT NULL
	)`, dimension)
	if err := db.WithContext(ctx).Exec(ddl).Error; err != nil {
		return fmt.Errorf("postgres migrate: embeddings table: %w", err)
	}
	return nil
}

// Open connects to the database at the given URL.
func Open(dbURL string, dimension int) (*Repository, error) {
	db, err := openDB(dbURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Repository{db: db, dimension: dimension}, nil
}

// Repository is the PostgreSQL NodeRepository.
type Repository struct {
	db        *gorm.DB
	dimension int
}

func (r *Repository) Name() string             { return "postgres" }
func (r *Repository) SupportsEmbeddings() bool { return true }

func (r *Repository) Close(context.Context) error {
	closeDB(r.db)
	return nil
}

// Migrate applies the schema. Exposed for tests; the serve path runs it
// through the migrate registry.
func (r *Repository) Migrate(ctx context.Context) error {
	return migrateSchema(ctx, r.db, r.dimension)
}

func (r *Repository) Add(ctx context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	body, err := json.Marshal(node)
	if err != nil {
		return &registryrepo.UnknownError{Op: "postgres: marshal node", Err: err}
	}
	tx := r.db.WithContext(ctx).Exec("INSERT INTO nodes (uuid, body) VALUES (?, ?::jsonb)", node.UUID, string(body))
	if tx.Error != nil {
		return mapWriteError("postgres: add node", node.UUID, tx.Error)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	body, err := json.Marshal(node)
	if err != nil {
		return &registryrepo.UnknownError{Op: "postgres: marshal node", Err: err}
	}
	tx := r.db.WithContext(ctx).Exec("UPDATE nodes SET body = ?::jsonb WHERE uuid = ?", string(body), node.UUID)
	if tx.Error != nil {
		return mapWriteError("postgres: update node", node.UUID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return &registryrepo.NotFoundError{Resource: "node", ID: node.UUID}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	// The embeddings row goes with the node via ON DELETE CASCADE.
	tx := r.db.WithContext(ctx).Exec("DELETE FROM nodes WHERE uuid = ?", uuid)
	if tx.Error != nil {
		return &registryrepo.UnknownError{Op: "postgres: delete node", Err: tx.Error}
	}
	if tx.RowsAffected == 0 {
		return &registryrepo.NotFoundError{Resource: "node", ID: uuid}
	}
	return nil
}

func (r *Repository) GetByUUID(ctx context.Context, uuid string) (*model.Node, error) {
	var body string
	tx := r.db.WithContext(ctx).Raw("SELECT body FROM nodes WHERE uuid = ?", uuid).Scan(&body)
	if tx.Error != nil {
		return nil, &registryrepo.UnknownError{Op: "postgres: get node", Err: tx.Error}
	}
	if tx.RowsAffected == 0 {
		return nil, &registryrepo.NotFoundError{Resource: "node", ID: uuid}
	}
	return decodeNode(body)
}

func (r *Repository) GetByFid(ctx context.Context, fid string) (*model.Node, error) {
	page, err := r.Filter(ctx, model.And(model.F("fid", model.OpEqual, fid)), 1, 1)
	if err != nil {
		return nil, err
	}
	if len(page.Nodes) == 0 {
		return nil, &registryrepo.NotFoundError{Resource: "node", ID: fid}
	}
	return &page.Nodes[0], nil
}

func (r *Repository) Filter(ctx context.Context, filters model.NodeFilters2D, pageSize, pageToken int) (*registryrepo.NodePage, error) {
	if err := filters.Validate(); err != nil {
		return nil, &registryrepo.ValidationError{Field: "filters", Message: err.Error()}
	}
	if err := registryrepo.ValidatePageArgs(pageSize, pageToken); err != nil {
		return nil, err
	}
	where, args, err := compileFilters(filters)
	if err != nil {
		return nil, &registryrepo.ValidationError{Field: "filters", Message: err.Error()}
	}
	query := fmt.Sprintf(
		"SELECT n.body FROM nodes n WHERE %s ORDER BY lower(n.title) ASC, n.uuid ASC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, pageSize, (pageToken-1)*pageSize)

	rows, err := r.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "postgres: filter nodes", Err: err}
	}
	defer rows.Close()

	nodes := []model.Node{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, &registryrepo.UnknownError{Op: "postgres: scan node", Err: err}
		}
		node, err := decodeNode(body)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, &registryrepo.UnknownError{Op: "postgres: filter nodes", Err: err}
	}
	return &registryrepo.NodePage{Nodes: nodes, PageSize: pageSize, PageToken: pageToken}, nil
}

func (r *Repository) UpsertEmbedding(ctx context.Context, uuid string, embedding []float32) error {
	if len(embedding) != r.dimension {
		return &registryrepo.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match configured %d", len(embedding), r.dimension),
		}
	}
	err := r.db.WithContext(ctx).Exec(
		`INSERT INTO node_embeddings (node_uuid, embedding) VALUES (?, ?)
		 ON CONFLICT (node_uuid) DO UPDATE SET embedding = EXCLUDED.embedding`,
		uuid, pgvec.NewVector(embedding),
	).Error
	if err != nil {
		return &registryrepo.UnknownError{Op: "postgres: upsert embedding", Err: err}
	}
	return nil
}

func (r *Repository) DeleteEmbedding(ctx context.Context, uuid string) error {
	if err := r.db.WithContext(ctx).Exec("DELETE FROM node_embeddings WHERE node_uuid = ?", uuid).Error; err != nil {
		return &registryrepo.UnknownError{Op: "postgres: delete embedding", Err: err}
	}
	return nil
}

func (r *Repository) VectorSearch(ctx context.Context, query []float32, topK int) ([]registryrepo.NodeWithScore, error) {
	if topK <= 0 {
		return nil, &registryrepo.ValidationError{Field: "topK", Message: "must be positive"}
	}
	if len(query) != r.dimension || vecmath.IsZero(query) {
		return []registryrepo.NodeWithScore{}, nil
	}
	vec := pgvec.NewVector(query)
	rows, err := r.db.WithContext(ctx).Raw(
		`SELECT node_uuid, 1 - (embedding <=> ?::vector) AS score
		 FROM node_embeddings
		 ORDER BY embedding <=> ?::vector, node_uuid
		 LIMIT ?`,
		vec, vec, topK,
	).Rows()
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "postgres: vector search", Err: err}
	}
	defer rows.Close()

	results := []registryrepo.NodeWithScore{}
	for rows.Next() {
		var uuid string
		var score float64
		if err := rows.Scan(&uuid, &score); err != nil {
			return nil, &registryrepo.UnknownError{Op: "postgres: scan match", Err: err}
		}
		node, err := r.GetByUUID(ctx, uuid)
		if err != nil {
			if registryrepo.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if math.IsNaN(score) { // degenerate stored vector
			score = 0
		}
		results = append(results, registryrepo.NodeWithScore{Node: *node, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, &registryrepo.UnknownError{Op: "postgres: vector search", Err: err}
	}
	return results, nil
}

func decodeNode(body string) (*model.Node, error) {
	var node model.Node
	if err := json.Unmarshal([]byte(body), &node); err != nil {
		return nil, &registryrepo.UnknownError{Op: "postgres: unmarshal node", Err: err}
	}
	return &node, nil
}

// mapWriteError converts unique-constraint violations into DuplicatedError;
// everything else is wrapped as Unknown.
func mapWriteError(op, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &registryrepo.DuplicatedError{Resource: "node", ID: id}
	}
	return &registryrepo.UnknownError{Op: op, Err: err}
}
