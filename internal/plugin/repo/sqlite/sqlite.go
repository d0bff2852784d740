// Package sqlite is the embedded relational backend: one row per node with a
// JSON body column and generated, indexed columns for the promoted fields.
// Embeddings live in a sqlite-vec vec0 virtual table with cosine distance.
package sqlite

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/model"
	registrymigrate "github.com/chirino/node-service/internal/registry/migrate"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/vecmath"
	"github.com/mattn/go-sqlite3"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

// loadVecOnce registers the sqlite-vec extension for every new connection.
var loadVecOnce sync.Once

func init() {
	registryrepo.Register(registryrepo.Plugin{
		Name: "sqlite",
		Loader: func(ctx context.Context) (registryrepo.NodeRepository, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("sqlite: database path is required")
			}
			return Open(cfg.DBURL, cfg.VectorDimension)
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &sqliteMigrator{}})
}

type sqliteMigrator struct{}

func (m *sqliteMigrator) Name() string { return "sqlite-schema" }
func (m *sqliteMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.RepoType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	defer closeDB(db)
	return migrateSchema(db, cfg.VectorDimension)
}

func openDB(dsn string) (*gorm.DB, error) {
	loadVecOnce.Do(sqlite_vec.Auto)
	return gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func migrateSchema(db *gorm.DB, dimension int) error {
	if err := db.Exec(schemaSQL).Error; err != nil {
		return fmt.Errorf("sqlite migrate: schema: %w", err)
	}
	ddl := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS node_embeddings USING vec0(node_uuid TEXT PRIMARY KEY, embedding float[%d] distance_metric=cosine)",
		dimension,
	)
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("sqlite migrate: vec0 table: %w", err)
	}
	return nil
}

// Open connects to (or creates) the database at the given DSN.
func Open(dsn string, dimension int) (*Repository, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	return &Repository{db: db, dimension: dimension}, nil
}

// Repository is the SQLite NodeRepository.
type Repository struct {
	db        *gorm.DB
	dimension int
}

func (r *Repository) Name() string             { return "sqlite" }
func (r *Repository) SupportsEmbeddings() bool { return true }

func (r *Repository) Close(context.Context) error {
	closeDB(r.db)
	return nil
}

// Migrate applies the schema. Exposed for embedded use and tests; the serve
// path runs it through the migrate registry.
func (r *Repository) Migrate(context.Context) error {
	return migrateSchema(r.db, r.dimension)
}

func (r *Repository) Add(ctx context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	body, err := json.Marshal(node)
	if err != nil {
		return &registryrepo.UnknownError{Op: "sqlite: marshal node", Err: err}
	}
	tx := r.db.WithContext(ctx).Exec("INSERT INTO nodes (uuid, body) VALUES (?, ?)", node.UUID, string(body))
	if tx.Error != nil {
		return mapWriteError("sqlite: add node", node.UUID, tx.Error)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	body, err := json.Marshal(node)
	if err != nil {
		return &registryrepo.UnknownError{Op: "sqlite: marshal node", Err: err}
	}
	tx := r.db.WithContext(ctx).Exec("UPDATE nodes SET body = ? WHERE uuid = ?", string(body), node.UUID)
	if tx.Error != nil {
		return mapWriteError("sqlite: update node", node.UUID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return &registryrepo.NotFoundError{Resource: "node", ID: node.UUID}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec("DELETE FROM nodes WHERE uuid = ?", uuid)
		if res.Error != nil {
			return &registryrepo.UnknownError{Op: "sqlite: delete node", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return &registryrepo.NotFoundError{Resource: "node", ID: uuid}
		}
		if err := tx.Exec("DELETE FROM node_embeddings WHERE node_uuid = ?", uuid).Error; err != nil {
			return &registryrepo.UnknownError{Op: "sqlite: delete embedding", Err: err}
		}
		return nil
	})
}

func (r *Repository) GetByUUID(ctx context.Context, uuid string) (*model.Node, error) {
	var body string
	tx := r.db.WithContext(ctx).Raw("SELECT body FROM nodes WHERE uuid = ?", uuid).Scan(&body)
	if tx.Error != nil {
		return nil, &registryrepo.UnknownError{Op: "sqlite: get node", Err: tx.Error}
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
		"SELECT n.body FROM nodes n WHERE %s ORDER BY n.title COLLATE NOCASE ASC, n.uuid ASC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, pageSize, (pageToken-1)*pageSize)

	rows, err := r.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "sqlite: filter nodes", Err: err}
	}
	defer rows.Close()

	nodes := []model.Node{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, &registryrepo.UnknownError{Op: "sqlite: scan node", Err: err}
		}
		node, err := decodeNode(body)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *node)
	}
	if err := rows.Err(); err != nil {
		return nil, &registryrepo.UnknownError{Op: "sqlite: filter nodes", Err: err}
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
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return &registryrepo.UnknownError{Op: "sqlite: serialize embedding", Err: err}
	}
	// vec0 has no UPSERT; delete-then-insert in one transaction keeps the
	// replacement atomic.
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM node_embeddings WHERE node_uuid = ?", uuid).Error; err != nil {
			return &registryrepo.UnknownError{Op: "sqlite: replace embedding", Err: err}
		}
		if err := tx.Exec("INSERT INTO node_embeddings (node_uuid, embedding) VALUES (?, ?)", uuid, blob).Error; err != nil {
			return &registryrepo.UnknownError{Op: "sqlite: insert embedding", Err: err}
		}
		return nil
	})
}

func (r *Repository) DeleteEmbedding(ctx context.Context, uuid string) error {
	if err := r.db.WithContext(ctx).Exec("DELETE FROM node_embeddings WHERE node_uuid = ?", uuid).Error; err != nil {
		return &registryrepo.UnknownError{Op: "sqlite: delete embedding", Err: err}
	}
	return nil
}

func (r *Repository) VectorSearch(ctx context.Context, query []float32, topK int) ([]registryrepo.NodeWithScore, error) {
	if topK <= 0 {
		return nil, &registryrepo.ValidationError{Field: "topK", Message: "must be positive"}
	}
	// Degenerate query vectors score 0 against everything; skip the index.
	if len(query) != r.dimension || vecmath.IsZero(query) {
		return []registryrepo.NodeWithScore{}, nil
	}
	blob, err := sqlite_vec.SerializeFloat32(query)
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "sqlite: serialize query", Err: err}
	}
	rows, err := r.db.WithContext(ctx).Raw(
		"SELECT node_uuid, distance FROM node_embeddings WHERE embedding MATCH ? AND k = ? ORDER BY distance",
		blob, topK,
	).Rows()
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "sqlite: vector search", Err: err}
	}
	defer rows.Close()

	results := []registryrepo.NodeWithScore{}
	for rows.Next() {
		var uuid string
		var distance float64
		if err := rows.Scan(&uuid, &distance); err != nil {
			return nil, &registryrepo.UnknownError{Op: "sqlite: scan match", Err: err}
		}
		node, err := r.GetByUUID(ctx, uuid)
		if err != nil {
			if registryrepo.IsNotFound(err) {
				continue // embedding outlived its node
			}
			return nil, err
		}
		score := 1 - distance
		if math.IsNaN(score) { // degenerate stored vector
			score = 0
		}
		results = append(results, registryrepo.NodeWithScore{Node: *node, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, &registryrepo.UnknownError{Op: "sqlite: vector search", Err: err}
	}
	return results, nil
}

func decodeNode(body string) (*model.Node, error) {
	var node model.Node
	if err := json.Unmarshal([]byte(body), &node); err != nil {
		return nil, &registryrepo.UnknownError{Op: "sqlite: unmarshal node", Err: err}
	}
	return &node, nil
}

// mapWriteError converts driver constraint violations into the typed
// taxonomy; everything else is wrapped as Unknown.
func mapWriteError(op, id string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return &registryrepo.DuplicatedError{Resource: "node", ID: id}
	}
	return &registryrepo.UnknownError{Op: op, Err: err}
}
