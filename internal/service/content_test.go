package service

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/plugin/blob/fsstore"
	"github.com/chirino/node-service/internal/plugin/repo/inmem"
	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/security"
)

func newContentService(t *testing.T) (*NodeService, *fsstore.Store) {
	t.Helper()
	store, err := fsstore.Open(t.TempDir())
	require.NoError(t, err)
	return New(inmem.New(3), WithBlobStore(store)), store
}

func seedDoc(t *testing.T, s *NodeService, parent string) *model.Node {
	t.Helper()
	n := model.NewNode("text/plain", "doc", "alice")
	n.Parent = parent
	created, err := s.Create(ctxFor(security.Root()), n)
	require.NoError(t, err)
	return created
}

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestContentLifecycle(t *testing.T) {
	s, _ := newContentService(t)
	f := seedFolder(t, s, "shared", &model.Permissions{
		Anonymous:     []model.Permission{model.PermissionRead},
		Authenticated: []model.Permission{model.PermissionRead, model.PermissionWrite},
	})
	doc := seedDoc(t, s, f.UUID)
	bob := ctxFor(asUser("bob"))

	n, err := s.SetContent(bob, doc.UUID, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	stored, err := s.Get(bob, doc.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(11), stored.Size, "stored size follows the content")

	rc, err := s.GetContent(ctxFor(security.Anonymous()), doc.UUID)
	require.NoError(t, err)
	assert.Equal(t, "hello world", readAll(t, rc))

	// a second write replaces the content
	n, err = s.SetContent(bob, doc.UUID, strings.NewReader("bye"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	rc, err = s.GetContent(bob, doc.UUID)
	require.NoError(t, err)
	assert.Equal(t, "bye", readAll(t, rc))

	require.NoError(t, s.DeleteContent(bob, doc.UUID))
	stored, err = s.Get(bob, doc.UUID)
	require.NoError(t, err)
	assert.Zero(t, stored.Size)
	_, err = s.GetContent(bob, doc.UUID)
	assert.True(t, repo.IsNotFound(err))
}

func TestContentPermissions(t *testing.T) {
	s, _ := newContentService(t)
	f := seedFolder(t, s, "read only", &model.Permissions{
		Anonymous: []model.Permission{model.PermissionRead},
	})
	doc := seedDoc(t, s, f.UUID)
	_, err := s.SetContent(ctxFor(security.Root()), doc.UUID, strings.NewReader("payload"))
	require.NoError(t, err)

	// read permission does not grant content writes
	_, err = s.SetContent(ctxFor(asUser("carol")), doc.UUID, strings.NewReader("x"))
	var forbidden *repo.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	err = s.DeleteContent(ctxFor(asUser("carol")), doc.UUID)
	require.ErrorAs(t, err, &forbidden)

	_, err = s.SetContent(ctxFor(security.Anonymous()), doc.UUID, strings.NewReader("x"))
	var unauthorized *repo.UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)

	rc, err := s.GetContent(ctxFor(asUser("carol")), doc.UUID)
	require.NoError(t, err)
	assert.Equal(t, "payload", readAll(t, rc))
}

func TestContentOnFolderRejected(t *testing.T) {
	s, _ := newContentService(t)
	f := seedFolder(t, s, "folder", &model.Permissions{
		Authenticated: []model.Permission{model.PermissionRead, model.PermissionWrite},
	})
	_, err := s.SetContent(ctxFor(asUser("bob")), f.UUID, strings.NewReader("x"))
	var ve *repo.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestContentWithoutStore(t *testing.T) {
	s := New(inmem.New(3))
	f := seedFolder(t, s, "shared", &model.Permissions{
		Authenticated: []model.Permission{model.PermissionRead, model.PermissionWrite},
	})
	doc := seedDoc(t, s, f.UUID)

	var ve *repo.ValidationError
	_, err := s.SetContent(ctxFor(asUser("bob")), doc.UUID, strings.NewReader("x"))
	require.ErrorAs(t, err, &ve)
	_, err = s.GetContent(ctxFor(asUser("bob")), doc.UUID)
	require.ErrorAs(t, err, &ve)
	err = s.DeleteContent(ctxFor(asUser("bob")), doc.UUID)
	require.ErrorAs(t, err, &ve)
}

func TestDeleteNodeRemovesContent(t *testing.T) {
	s, store := newContentService(t)
	f := seedFolder(t, s, "shared", &model.Permissions{
		Authenticated: []model.Permission{model.PermissionRead, model.PermissionWrite, model.PermissionDelete},
	})
	doc := seedDoc(t, s, f.UUID)
	bob := ctxFor(asUser("bob"))
	_, err := s.SetContent(bob, doc.UUID, strings.NewReader("payload"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(bob, doc.UUID))
	_, err = store.Get(context.Background(), doc.UUID)
	assert.True(t, repo.IsNotFound(err), "blob goes with the node")
}
