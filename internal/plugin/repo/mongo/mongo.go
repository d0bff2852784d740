// Package mongo is the MongoDB backend. Nodes are stored one document per
// node keyed by uuid; embeddings live in a sibling collection and are ranked
// in process since the filter contract wants exact cosine scores.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/chirino/node-service/internal/config"
	"github.com/chirino/node-service/internal/model"
	registrymigrate "github.com/chirino/node-service/internal/registry/migrate"
	registryrepo "github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/vecmath"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func init() {
	registryrepo.Register(registryrepo.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registryrepo.NodeRepository, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("mongo: database URL is required")
			}
			client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
			if err != nil {
				return nil, fmt.Errorf("mongo: connect: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("mongo: ping: %w", err)
			}
			return New(client, cfg.MongoDatabase, cfg.VectorDimension), nil
		},
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart || cfg.RepoType != "mongo" {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: connect: %w", err)
	}
	defer client.Disconnect(ctx)
	return EnsureIndexes(ctx, client.Database(cfg.MongoDatabase))
}

// EnsureIndexes creates the node collections and their indexes.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	collections := map[string][]mongo.IndexModel{
		"nodes": {
			{
				Keys: bson.D{{Key: "fid", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(
					bson.M{"fid": bson.M{"$exists": true, "$type": "string"}},
				),
			},
			{Keys: bson.D{{Key: "title", Value: 1}}},
			{Keys: bson.D{{Key: "parent", Value: 1}}},
			{Keys: bson.D{{Key: "mimetype", Value: 1}}},
		},
		"node_embeddings": nil,
	}
	for name, indexes := range collections {
		db.CreateCollection(ctx, name)
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: indexes for %s: %w", name, err)
			}
		}
	}
	return nil
}

// New wraps an established client as a NodeRepository.
func New(client *mongo.Client, database string, dimension int) *Repository {
	return &Repository{client: client, db: client.Database(database), dimension: dimension}
}

// Repository is the MongoDB NodeRepository.
type Repository struct {
	client    *mongo.Client
	db        *mongo.Database
	dimension int
}

type embeddingDoc struct {
	NodeUUID  string    `bson:"_id"`
	Embedding []float32 `bson:"embedding"`
}

func (r *Repository) nodes() *mongo.Collection      { return r.db.Collection("nodes") }
func (r *Repository) embeddings() *mongo.Collection { return r.db.Collection("node_embeddings") }

func (r *Repository) Name() string             { return "mongo" }
func (r *Repository) SupportsEmbeddings() bool { return true }

func (r *Repository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *Repository) Add(ctx context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	if _, err := r.nodes().InsertOne(ctx, node); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &registryrepo.DuplicatedError{Resource: "node", ID: node.UUID}
		}
		return &registryrepo.UnknownError{Op: "mongo: add node", Err: err}
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, node *model.Node) error {
	if err := node.Validate(); err != nil {
		return &registryrepo.ValidationError{Field: "node", Message: err.Error()}
	}
	result, err := r.nodes().ReplaceOne(ctx, bson.M{"_id": node.UUID}, node)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return &registryrepo.DuplicatedError{Resource: "node", ID: node.UUID}
		}
		return &registryrepo.UnknownError{Op: "mongo: update node", Err: err}
	}
	if result.MatchedCount == 0 {
		return &registryrepo.NotFoundError{Resource: "node", ID: node.UUID}
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, uuid string) error {
	result, err := r.nodes().DeleteOne(ctx, bson.M{"_id": uuid})
	if err != nil {
		return &registryrepo.UnknownError{Op: "mongo: delete node", Err: err}
	}
	if result.DeletedCount == 0 {
		return &registryrepo.NotFoundError{Resource: "node", ID: uuid}
	}
	r.embeddings().DeleteOne(ctx, bson.M{"_id": uuid})
	return nil
}

func (r *Repository) GetByUUID(ctx context.Context, uuid string) (*model.Node, error) {
	var node model.Node
	err := r.nodes().FindOne(ctx, bson.M{"_id": uuid}).Decode(&node)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registryrepo.NotFoundError{Resource: "node", ID: uuid}
	}
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: get node", Err: err}
	}
	return &node, nil
}

func (r *Repository) GetByFid(ctx context.Context, fid string) (*model.Node, error) {
	var node model.Node
	err := r.nodes().FindOne(ctx, bson.M{"fid": fid}).Decode(&node)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &registryrepo.NotFoundError{Resource: "node", ID: fid}
	}
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: get node by fid", Err: err}
	}
	return &node, nil
}

func (r *Repository) Filter(ctx context.Context, filters model.NodeFilters2D, pageSize, pageToken int) (*registryrepo.NodePage, error) {
	if err := filters.Validate(); err != nil {
		return nil, &registryrepo.ValidationError{Field: "filters", Message: err.Error()}
	}
	if err := registryrepo.ValidatePageArgs(pageSize, pageToken); err != nil {
		return nil, err
	}
	if err := validateFields(filters); err != nil {
		return nil, &registryrepo.ValidationError{Field: "filters", Message: err.Error()}
	}
	plans, err := compilePlan(filters)
	if err != nil {
		return nil, &registryrepo.ValidationError{Field: "filters", Message: err.Error()}
	}

	query, err := r.resolvePlan(ctx, plans)
	if err != nil {
		return nil, err
	}

	cursor, err := r.nodes().Find(ctx, query)
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: filter nodes", Err: err}
	}
	var matched []model.Node
	if err := cursor.All(ctx, &matched); err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: decode nodes", Err: err}
	}

	// Ordering is done in process so that the collated title sort is exactly
	// the one the other backends produce.
	registryrepo.SortNodes(matched)
	return &registryrepo.NodePage{
		Nodes:     registryrepo.Page(matched, pageSize, pageToken),
		PageSize:  pageSize,
		PageToken: pageToken,
	}, nil
}

// resolvePlan turns the compiled row plans into a single find filter. Rows
// with parent conditions are resolved first: the parent conditions run as
// their own query for matching uuids, and the row becomes parent $in uuids.
func (r *Repository) resolvePlan(ctx context.Context, plans []rowPlan) (bson.M, error) {
	if len(plans) == 0 {
		return bson.M{}, nil
	}
	branches := make([]bson.M, 0, len(plans))
	for _, plan := range plans {
		conds := []bson.M{}
		if plan.direct != nil {
			conds = append(conds, plan.direct)
		}
		if plan.parent != nil {
			uuids, err := r.findUUIDs(ctx, plan.parent)
			if err != nil {
				return nil, err
			}
			if len(uuids) == 0 {
				conds = append(conds, matchNothing())
			} else {
				conds = append(conds, bson.M{"parent": bson.M{"$in": uuids}})
			}
		}
		branch := andAll(conds)
		if branch == nil {
			branch = bson.M{}
		}
		branches = append(branches, branch)
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	return bson.M{"$or": branches}, nil
}

func (r *Repository) findUUIDs(ctx context.Context, filter bson.M) ([]string, error) {
	cursor, err := r.nodes().Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: resolve parent filters", Err: err}
	}
	var docs []struct {
		UUID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: resolve parent filters", Err: err}
	}
	uuids := make([]string, len(docs))
	for i, d := range docs {
		uuids[i] = d.UUID
	}
	return uuids, nil
}

func (r *Repository) UpsertEmbedding(ctx context.Context, uuid string, embedding []float32) error {
	if len(embedding) != r.dimension {
		return &registryrepo.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match configured %d", len(embedding), r.dimension),
		}
	}
	_, err := r.embeddings().ReplaceOne(ctx,
		bson.M{"_id": uuid},
		embeddingDoc{NodeUUID: uuid, Embedding: embedding},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return &registryrepo.UnknownError{Op: "mongo: upsert embedding", Err: err}
	}
	return nil
}

func (r *Repository) DeleteEmbedding(ctx context.Context, uuid string) error {
	if _, err := r.embeddings().DeleteOne(ctx, bson.M{"_id": uuid}); err != nil {
		return &registryrepo.UnknownError{Op: "mongo: delete embedding", Err: err}
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
	cursor, err := r.embeddings().Find(ctx, bson.M{})
	if err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: vector search", Err: err}
	}
	var docs []embeddingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &registryrepo.UnknownError{Op: "mongo: decode embeddings", Err: err}
	}

	type scored struct {
		uuid  string
		score float64
	}
	ranked := make([]scored, len(docs))
	for i, d := range docs {
		ranked[i] = scored{uuid: d.NodeUUID, score: vecmath.Cosine(query, d.Embedding)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].uuid < ranked[j].uuid
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	results := make([]registryrepo.NodeWithScore, 0, len(ranked))
	for _, m := range ranked {
		node, err := r.GetByUUID(ctx, m.uuid)
		if err != nil {
			if registryrepo.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		results = append(results, registryrepo.NodeWithScore{Node: *node, Score: m.score})
	}
	return results, nil
}
