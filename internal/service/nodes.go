// Package service is the permission-checked surface over a NodeRepository.
// Every operation resolves the governing folder for the node it touches,
// asks authz for a decision, and only then talks to the repository. List
// queries never post-filter: the caller's filters are rewritten into a
// permission-safe query and handed to the backend as-is.
package service

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/node-service/internal/authz"
	"github.com/chirino/node-service/internal/events"
	"github.com/chirino/node-service/internal/model"
	registryblob "github.com/chirino/node-service/internal/registry/blob"
	registrycache "github.com/chirino/node-service/internal/registry/cache"
	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/security"
	"github.com/google/uuid"
)

// NodeService wires the repository, blob store, cache, and event bus together
// behind the authorization layer.
type NodeService struct {
	repo     repo.NodeRepository
	blobs    registryblob.BlobStore
	cache    registrycache.NodeCache
	bus      events.Bus
	cacheTTL time.Duration
}

// Option configures a NodeService.
type Option func(*NodeService)

// WithCache enables the node-by-uuid cache in front of GetByUUID.
func WithCache(c registrycache.NodeCache, ttl time.Duration) Option {
	return func(s *NodeService) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithBlobStore enables the node content operations.
func WithBlobStore(b registryblob.BlobStore) Option {
	return func(s *NodeService) { s.blobs = b }
}

// WithEventBus publishes a mutation event after every successful write.
func WithEventBus(b events.Bus) Option {
	return func(s *NodeService) { s.bus = b }
}

// New creates a NodeService over the given repository.
func New(r repo.NodeRepository, opts ...Option) *NodeService {
	s := &NodeService{repo: r}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// rootFolder is the synthetic admin-only folder governing top-level nodes.
// Its ACL block is empty and its owner is the root user, so only admins pass
// the decision ladder.
func rootFolder() *model.Node {
	return &model.Node{
		UUID:        model.RootFolderUUID,
		Title:       "/",
		Mimetype:    model.MimetypeFolder,
		Parent:      model.RootFolderUUID,
		Owner:       security.RootUser,
		Permissions: &model.Permissions{},
	}
}

// governingFolder returns the folder whose ACL block governs the node:
// the node itself for folders, its parent otherwise.
func (s *NodeService) governingFolder(ctx context.Context, node *model.Node) (*model.Node, error) {
	if node.IsFolder() {
		return node, nil
	}
	return s.folderByUUID(ctx, node.Parent)
}

func (s *NodeService) folderByUUID(ctx context.Context, uuid string) (*model.Node, error) {
	if uuid == model.RootFolderUUID {
		return rootFolder(), nil
	}
	folder, err := s.repo.GetByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !folder.IsFolder() {
		return nil, &repo.ValidationError{Field: "parent", Message: "parent must be a folder"}
	}
	return folder, nil
}

// Create stores a new node under its parent folder. The caller needs write
// permission on the parent; timestamps are server-assigned and a missing uuid
// is generated.
func (s *NodeService) Create(ctx context.Context, node *model.Node) (*model.Node, error) {
	if node.UUID == "" {
		node.UUID = uuid.NewString()
	}
	if node.Parent == "" {
		node.Parent = model.RootFolderUUID
	}
	if err := node.Validate(); err != nil {
		return nil, &repo.ValidationError{Field: "node", Message: err.Error()}
	}
	parent, err := s.folderByUUID(ctx, node.Parent)
	if err != nil {
		return nil, err
	}
	if err := authz.IsAllowed(ctx, parent, model.PermissionWrite); err != nil {
		return nil, err
	}

	now := model.Now()
	node.CreatedTime = now
	node.ModifiedTime = now
	if node.Owner == "" {
		node.Owner = security.PrincipalFromContext(ctx).ID
	}

	if err := s.repo.Add(ctx, node); err != nil {
		return nil, err
	}
	s.publish(ctx, events.NodeCreated, node)
	return node, nil
}

// Get returns the node if the caller holds read permission on its governing
// folder.
func (s *NodeService) Get(ctx context.Context, uuid string) (*model.Node, error) {
	node, err := s.getCached(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// GetByFid is the friendly-id lookup with the same visibility rule as Get.
func (s *NodeService) GetByFid(ctx context.Context, fid string) (*model.Node, error) {
	node, err := s.repo.GetByFid(ctx, fid)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, node); err != nil {
		return nil, err
	}
	return node, nil
}

// Update replaces a stored node. The caller needs write permission on the
// node's governing folder, and on the new parent folder when the node moves.
// CreatedTime is immutable; ModifiedTime is server-assigned.
func (s *NodeService) Update(ctx context.Context, node *model.Node) (*model.Node, error) {
	if err := node.Validate(); err != nil {
		return nil, &repo.ValidationError{Field: "node", Message: err.Error()}
	}
	existing, err := s.repo.GetByUUID(ctx, node.UUID)
	if err != nil {
		return nil, err
	}
	governing, err := s.governingFolder(ctx, existing)
	if err != nil {
		return nil, err
	}
	if err := authz.IsAllowed(ctx, governing, model.PermissionWrite); err != nil {
		return nil, err
	}
	if node.Parent != existing.Parent {
		newParent, err := s.folderByUUID(ctx, node.Parent)
		if err != nil {
			return nil, err
		}
		if err := authz.IsAllowed(ctx, newParent, model.PermissionWrite); err != nil {
			return nil, err
		}
	}

	node.CreatedTime = existing.CreatedTime
	node.ModifiedTime = existing.ModifiedTime
	node.Touch()

	if err := s.repo.Update(ctx, node); err != nil {
		return nil, err
	}
	s.evict(ctx, node.UUID)
	s.publish(ctx, events.NodeUpdated, node)
	return node, nil
}

// Delete removes a node. The caller needs delete permission on the node's
// governing folder. Deleting a folder cascades to its subtree; the folder
// permission covers the whole subtree, children are not re-checked.
func (s *NodeService) Delete(ctx context.Context, uuid string) error {
	node, err := s.repo.GetByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	governing, err := s.governingFolder(ctx, node)
	if err != nil {
		return err
	}
	if err := authz.IsAllowed(ctx, governing, model.PermissionDelete); err != nil {
		return err
	}
	return s.deleteTree(ctx, node)
}

func (s *NodeService) deleteTree(ctx context.Context, node *model.Node) error {
	if node.IsFolder() {
		for {
			page, err := s.repo.Filter(ctx,
				model.And(model.F("parent", model.OpEqual, node.UUID)), 100, 1)
			if err != nil {
				return err
			}
			if len(page.Nodes) == 0 {
				break
			}
			for i := range page.Nodes {
				if err := s.deleteTree(ctx, &page.Nodes[i]); err != nil {
					return err
				}
			}
		}
	}
	if err := s.repo.Delete(ctx, node.UUID); err != nil {
		return err
	}
	if s.blobs != nil && !node.IsFolder() {
		if err := s.blobs.Delete(ctx, node.UUID); err != nil && !repo.IsNotFound(err) {
			log.Warn("blob cleanup failed", "uuid", node.UUID, "error", err)
		}
	}
	s.evict(ctx, node.UUID)
	s.publish(ctx, events.NodeDeleted, node)
	return nil
}

// Filter answers the caller's query restricted to nodes they can read. The
// filters are rewritten before they reach the backend, so the repository
// result needs no post-filtering.
func (s *NodeService) Filter(ctx context.Context, filters model.NodeFilters2D, pageSize, pageToken int) (*repo.NodePage, error) {
	if err := filters.Validate(); err != nil {
		return nil, &repo.ValidationError{Field: "filters", Message: err.Error()}
	}
	rewritten := authz.RewriteFilters(ctx, model.PermissionRead, filters)
	return s.repo.Filter(ctx, rewritten, pageSize, pageToken)
}

// UpsertEmbedding stores the node's embedding. Requires write permission on
// the governing folder.
func (s *NodeService) UpsertEmbedding(ctx context.Context, uuid string, embedding []float32) error {
	if err := s.checkWrite(ctx, uuid); err != nil {
		return err
	}
	return s.repo.UpsertEmbedding(ctx, uuid, embedding)
}

// DeleteEmbedding removes the node's embeddings. Requires write permission
// on the governing folder.
func (s *NodeService) DeleteEmbedding(ctx context.Context, uuid string) error {
	if err := s.checkWrite(ctx, uuid); err != nil {
		return err
	}
	return s.repo.DeleteEmbedding(ctx, uuid)
}

// VectorSearch ranks nodes by cosine similarity to the query. Hits the
// caller cannot read are dropped after ranking; the ordering of the
// survivors is preserved.
func (s *NodeService) VectorSearch(ctx context.Context, query []float32, topK int) ([]repo.NodeWithScore, error) {
	results, err := s.repo.VectorSearch(ctx, query, topK)
	if err != nil {
		return nil, err
	}
	visible := results[:0]
	for _, r := range results {
		node := r.Node
		if err := s.checkRead(ctx, &node); err != nil {
			if _, unauthorized := err.(*repo.UnauthorizedError); unauthorized {
				continue
			}
			if _, forbidden := err.(*repo.ForbiddenError); forbidden {
				continue
			}
			if repo.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		visible = append(visible, r)
	}
	return visible, nil
}

// SetContent streams the node's content into the blob store and records the
// stored size on the node. Requires write permission on the governing folder.
func (s *NodeService) SetContent(ctx context.Context, uuid string, content io.Reader) (int64, error) {
	if s.blobs == nil {
		return 0, noBlobStore()
	}
	node, err := s.repo.GetByUUID(ctx, uuid)
	if err != nil {
		return 0, err
	}
	if node.IsFolder() {
		return 0, &repo.ValidationError{Field: "uuid", Message: "folders have no content"}
	}
	governing, err := s.governingFolder(ctx, node)
	if err != nil {
		return 0, err
	}
	if err := authz.IsAllowed(ctx, governing, model.PermissionWrite); err != nil {
		return 0, err
	}

	counted := &countingReader{r: content}
	if err := s.blobs.Put(ctx, uuid, counted); err != nil {
		return 0, err
	}
	node.Size = counted.n
	node.Touch()
	if err := s.repo.Update(ctx, node); err != nil {
		return 0, err
	}
	s.evict(ctx, uuid)
	s.publish(ctx, events.NodeUpdated, node)
	return counted.n, nil
}

// GetContent opens the node's content for reading. Requires read permission
// on the governing folder; the caller closes the returned reader.
func (s *NodeService) GetContent(ctx context.Context, uuid string) (io.ReadCloser, error) {
	if s.blobs == nil {
		return nil, noBlobStore()
	}
	node, err := s.getCached(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if err := s.checkRead(ctx, node); err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, uuid)
}

// DeleteContent removes the node's content and zeroes its recorded size.
// Requires write permission on the governing folder.
func (s *NodeService) DeleteContent(ctx context.Context, uuid string) error {
	if s.blobs == nil {
		return noBlobStore()
	}
	node, err := s.repo.GetByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	governing, err := s.governingFolder(ctx, node)
	if err != nil {
		return err
	}
	if err := authz.IsAllowed(ctx, governing, model.PermissionWrite); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, uuid); err != nil {
		return err
	}
	node.Size = 0
	node.Touch()
	if err := s.repo.Update(ctx, node); err != nil {
		return err
	}
	s.evict(ctx, uuid)
	s.publish(ctx, events.NodeUpdated, node)
	return nil
}

func noBlobStore() error {
	return &repo.ValidationError{Field: "content", Message: "no blob store is configured"}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (s *NodeService) checkRead(ctx context.Context, node *model.Node) error {
	governing, err := s.governingFolder(ctx, node)
	if err != nil {
		return err
	}
	return authz.IsAllowed(ctx, governing, model.PermissionRead)
}

func (s *NodeService) checkWrite(ctx context.Context, uuid string) error {
	node, err := s.repo.GetByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	governing, err := s.governingFolder(ctx, node)
	if err != nil {
		return err
	}
	return authz.IsAllowed(ctx, governing, model.PermissionWrite)
}

func (s *NodeService) getCached(ctx context.Context, uuid string) (*model.Node, error) {
	if s.cache != nil && s.cache.Available() {
		if node, err := s.cache.Get(ctx, uuid); err == nil && node != nil {
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			return node, nil
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
	}
	node, err := s.repo.GetByUUID(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.cache.Available() {
		if err := s.cache.Set(ctx, node, s.cacheTTL); err != nil {
			log.Warn("node cache set failed", "uuid", uuid, "error", err)
		}
	}
	return node, nil
}

func (s *NodeService) evict(ctx context.Context, uuid string) {
	if s.cache == nil || !s.cache.Available() {
		return
	}
	if err := s.cache.Remove(ctx, uuid); err != nil {
		log.Warn("node cache evict failed", "uuid", uuid, "error", err)
	}
}

func (s *NodeService) publish(ctx context.Context, eventType string, node *model.Node) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Type:     eventType,
		NodeUUID: node.UUID,
		Mimetype: node.Mimetype,
		At:       model.Now(),
	})
}
