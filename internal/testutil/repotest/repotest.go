// Package repotest is a conformance suite run against every repository
// backend. The in-memory filter evaluator is the ground truth: whatever it
// says about a node, the backend's query translation must say too.
package repotest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/nodefilter"
	"github.com/chirino/node-service/internal/registry/repo"
)

// Factory creates a fresh, empty repository for one test. Backends that
// support embeddings must be configured with vector dimension 3.
type Factory func(t *testing.T) repo.NodeRepository

// Run executes the full conformance suite against the backend.
func Run(t *testing.T, newRepo Factory) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, newRepo(t)) })
	t.Run("FilterEquivalence", func(t *testing.T) { testFilterEquivalence(t, newRepo(t)) })
	t.Run("OrderingAndPaging", func(t *testing.T) { testOrderingAndPaging(t, newRepo(t)) })
	t.Run("VectorSearch", func(t *testing.T) { testVectorSearch(t, newRepo(t)) })
}

func testCRUD(t *testing.T, r repo.NodeRepository) {
	ctx := context.Background()

	folder := model.NewFolder("Projects", "alice")
	folder.Fid = "projects"
	require.NoError(t, r.Add(ctx, folder))

	doc := model.NewNode("text/plain", "notes.txt", "alice")
	doc.Parent = folder.UUID
	doc.Properties = map[string]any{"draft": true}
	require.NoError(t, r.Add(ctx, doc))

	// duplicate uuid
	dup := model.NewNode("text/plain", "other", "alice")
	dup.UUID = doc.UUID
	err := r.Add(ctx, dup)
	require.True(t, repo.IsDuplicated(err), "expected DuplicatedError, got %v", err)

	// duplicate fid
	dup = model.NewFolder("Other", "alice")
	dup.Fid = "projects"
	err = r.Add(ctx, dup)
	require.True(t, repo.IsDuplicated(err), "expected DuplicatedError, got %v", err)

	got, err := r.GetByUUID(ctx, doc.UUID)
	require.NoError(t, err)
	require.Equal(t, doc.Title, got.Title)
	require.Equal(t, folder.UUID, got.Parent)

	got, err = r.GetByFid(ctx, "projects")
	require.NoError(t, err)
	require.Equal(t, folder.UUID, got.UUID)

	_, err = r.GetByUUID(ctx, "no-such-uuid")
	require.True(t, repo.IsNotFound(err))
	_, err = r.GetByFid(ctx, "no-such-fid")
	require.True(t, repo.IsNotFound(err))

	doc.Title = "notes-v2.txt"
	doc.Touch()
	require.NoError(t, r.Update(ctx, doc))
	got, err = r.GetByUUID(ctx, doc.UUID)
	require.NoError(t, err)
	require.Equal(t, "notes-v2.txt", got.Title)

	missing := model.NewNode("text/plain", "ghost", "alice")
	err = r.Update(ctx, missing)
	require.True(t, repo.IsNotFound(err))

	require.NoError(t, r.Delete(ctx, doc.UUID))
	_, err = r.GetByUUID(ctx, doc.UUID)
	require.True(t, repo.IsNotFound(err))
	err = r.Delete(ctx, doc.UUID)
	require.True(t, repo.IsNotFound(err))
}

// corpus seeds a small content tree that exercises every field kind the
// filter language can reach: promoted columns, aspect properties, tags, ACL
// blocks, and parent-resolved fields.
func corpus() []*model.Node {
	ts := func(d int) string { return fmt.Sprintf("2026-01-%02dT00:00:00Z", d) }

	public := model.NewFolder("Public Docs", "alice")
	public.UUID = "f-public"
	public.Permissions = &model.Permissions{
		Anonymous:     []model.Permission{model.PermissionRead},
		Authenticated: []model.Permission{model.PermissionRead, model.PermissionWrite},
	}

	team := model.NewFolder("Team Vault", "bob")
	team.UUID = "f-team"
	team.Group = "engineering"
	team.Permissions = &model.Permissions{
		Group: []model.Permission{model.PermissionRead, model.PermissionWrite},
		Advanced: map[string][]model.Permission{
			"auditors": {model.PermissionRead},
		},
	}

	nodes := []*model.Node{public, team}

	for i, spec := range []struct {
		title  string
		parent string
		owner  string
		tags   []string
		score  float64
		lang   string
		urgent bool
	}{
		{"alpha report", "f-public", "alice", []string{"report", "q1"}, 10, "en", false},
		{"Beta Report", "f-public", "bob", []string{"report", "q2"}, 25, "en", false},
		{"gamma notes", "f-team", "bob", []string{"notes"}, 40, "de", true},
		{"Delta Notes", "f-team", "carol", []string{"notes", "q1", "q2"}, 55, "fr", true},
		{"epsilon draft", "f-team", "alice", nil, 70, "en", false},
	} {
		n := model.NewNode("text/markdown", spec.title, spec.owner)
		n.UUID = fmt.Sprintf("n-%d", i)
		n.Parent = spec.parent
		n.Tags = spec.tags
		n.CreatedTime = ts(i + 1)
		n.ModifiedTime = ts(i + 1)
		n.Properties = map[string]any{
			"rating:score": spec.score,
			"flags:urgent": spec.urgent,
		}
		if spec.lang != "" {
			n.Properties["rating:lang"] = spec.lang
		}
		if spec.score > 50 {
			n.Size = int64(spec.score)
		}
		nodes = append(nodes, n)
	}
	return nodes
}

// oracleUUIDs evaluates the filter tree in memory over the corpus and
// returns the matching uuids in canonical order.
func oracleUUIDs(all []*model.Node, filters model.NodeFilters2D) []string {
	byUUID := map[string]*model.Node{}
	for _, n := range all {
		byUUID[n.UUID] = n
	}
	parents := func(uuid string) (*model.Node, bool) {
		n, ok := byUUID[uuid]
		return n, ok
	}
	var matched []model.Node
	for _, n := range all {
		if nodefilter.Matches(n, filters, parents) {
			matched = append(matched, *n)
		}
	}
	repo.SortNodes(matched)
	uuids := make([]string, len(matched))
	for i, n := range matched {
		uuids[i] = n.UUID
	}
	return uuids
}

func pageUUIDs(page *repo.NodePage) []string {
	uuids := make([]string, len(page.Nodes))
	for i, n := range page.Nodes {
		uuids[i] = n.UUID
	}
	return uuids
}

func testFilterEquivalence(t *testing.T, r repo.NodeRepository) {
	ctx := context.Background()
	all := corpus()
	for _, n := range all {
		require.NoError(t, r.Add(ctx, n))
	}

	cases := []struct {
		name    string
		filters model.NodeFilters2D
	}{
		{"empty matches everything", nil},
		{"equal promoted", model.And(model.F("parent", model.OpEqual, "f-team"))},
		{"equal title", model.And(model.F("title", model.OpEqual, "alpha report"))},
		{"equal is case sensitive", model.And(model.F("title", model.OpEqual, "ALPHA REPORT"))},
		{"not equal", model.And(model.F("owner", model.OpNotEqual, "alice"))},
		{"not equal absent field", model.And(model.F("group", model.OpNotEqual, "engineering"))},
		{"numeric less", model.And(model.F("rating:score", model.OpLess, 40))},
		{"numeric range", model.And(
			model.F("rating:score", model.OpGreaterEqual, 25),
			model.F("rating:score", model.OpLessEqual, 55),
		)},
		{"string order", model.And(model.F("createdTime", model.OpGreater, "2026-01-02T00:00:00Z"))},
		{"in", model.And(model.F("owner", model.OpIn, []any{"alice", "carol"}))},
		{"in empty set", model.And(model.F("owner", model.OpIn, []any{}))},
		{"not in", model.And(model.F("rating:lang", model.OpNotIn, []any{"en"}))},
		{"not in empty set", model.And(model.F("rating:lang", model.OpNotIn, []any{}))},
		{"boolean equal", model.And(model.F("flags:urgent", model.OpEqual, true))},
		{"boolean not equal", model.And(model.F("flags:urgent", model.OpNotEqual, true))},
		{"boolean against absent field", model.And(model.F("flags:hidden", model.OpEqual, true))},
		{"contains on scalar field", model.And(model.F("rating:lang", model.OpContains, "en"))},
		{"match substring", model.And(model.F("title", model.OpMatch, "report"))},
		{"match is case insensitive", model.And(model.F("title", model.OpMatch, "NOTES"))},
		{"match no hit", model.And(model.F("title", model.OpMatch, "zzz"))},
		{"contains", model.And(model.F("tags", model.OpContains, "q1"))},
		{"contains absent field", model.And(model.F("tags", model.OpContains, "draft"))},
		{"not contains", model.And(model.F("tags", model.OpNotContains, "report"))},
		{"contains all", model.And(model.F("tags", model.OpContainsAll, []any{"q1", "q2"}))},
		{"contains all empty set", model.And(model.F("tags", model.OpContainsAll, []any{}))},
		{"contains any", model.And(model.F("tags", model.OpContainsAny, []any{"q2", "notes"}))},
		{"contains any empty set", model.And(model.F("tags", model.OpContainsAny, []any{}))},
		{"contains none", model.And(model.F("tags", model.OpContainsNone, []any{"q1", "q2"}))},
		{"or of rows", model.NodeFilters2D{
			{model.F("owner", model.OpEqual, "carol")},
			{model.F("rating:lang", model.OpEqual, "de")},
		}},
		{"mimetype and tag", model.And(
			model.F("mimetype", model.OpEqual, "text/markdown"),
			model.F("tags", model.OpContains, "report"),
		)},
		{"parent resolved owner", model.And(model.F("@owner", model.OpEqual, "bob"))},
		{"parent resolved acl", model.And(
			model.F("@permissions.anonymous", model.OpContains, "read"),
		)},
		{"parent resolved advanced acl", model.And(
			model.F("@permissions.advanced.auditors", model.OpContains, "read"),
		)},
		{"own acl or parent acl", model.NodeFilters2D{
			{model.F("permissions.group", model.OpContains, "write")},
			{model.F("@permissions.group", model.OpContains, "write")},
		}},
		{"size on files only", model.And(model.F("size", model.OpGreaterEqual, 55))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want := oracleUUIDs(all, tc.filters)
			page, err := r.Filter(ctx, tc.filters, 100, 1)
			require.NoError(t, err)
			require.Equal(t, want, pageUUIDs(page), "filters: %+v", tc.filters)
		})
	}

	t.Run("rejects unknown operator", func(t *testing.T) {
		_, err := r.Filter(ctx, model.And(model.NodeFilter{Field: "title", Operator: "~="}), 10, 1)
		require.Error(t, err)
	})

	t.Run("rejects bad page args", func(t *testing.T) {
		_, err := r.Filter(ctx, nil, 0, 1)
		require.Error(t, err)
		_, err = r.Filter(ctx, nil, 10, 0)
		require.Error(t, err)
	})
}

func testOrderingAndPaging(t *testing.T, r repo.NodeRepository) {
	ctx := context.Background()

	// Mixed-case titles plus a title collision so both sort keys are in play.
	seed := []struct{ uuid, title string }{
		{"s-1", "banana"},
		{"s-2", "Apple"},
		{"s-3", "cherry"},
		{"s-4", "apple"},
		{"s-5", "Date"},
	}
	for _, s := range seed {
		n := model.NewNode("text/plain", s.title, "alice")
		n.UUID = s.uuid
		require.NoError(t, r.Add(ctx, n))
	}

	page, err := r.Filter(ctx, nil, 100, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"s-2", "s-4", "s-1", "s-3", "s-5"}, pageUUIDs(page))

	page, err = r.Filter(ctx, nil, 4, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"s-2", "s-4", "s-1", "s-3"}, pageUUIDs(page))
	require.Equal(t, 1, page.PageToken)

	page, err = r.Filter(ctx, nil, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"s-5"}, pageUUIDs(page))
	require.Equal(t, 2, page.PageToken)

	// windows past the end are empty, not an error
	page, err = r.Filter(ctx, nil, 4, 3)
	require.NoError(t, err)
	require.Empty(t, page.Nodes)
}

func testVectorSearch(t *testing.T, r repo.NodeRepository) {
	if !r.SupportsEmbeddings() {
		t.Skip("backend does not support embeddings")
	}
	ctx := context.Background()

	a := model.NewNode("text/plain", "first", "alice")
	a.UUID = "v-a"
	b := model.NewNode("text/plain", "second", "alice")
	b.UUID = "v-b"
	require.NoError(t, r.Add(ctx, a))
	require.NoError(t, r.Add(ctx, b))

	require.NoError(t, r.UpsertEmbedding(ctx, a.UUID, []float32{1, 0, 0}))
	require.NoError(t, r.UpsertEmbedding(ctx, b.UUID, []float32{0, 1, 0}))

	results, err := r.VectorSearch(ctx, []float32{0.9, 0.1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, a.UUID, results[0].Node.UUID)
	require.Equal(t, b.UUID, results[1].Node.UUID)
	require.Greater(t, results[0].Score, results[1].Score)
	require.InDelta(t, 1.0, results[0].Score, 0.02)

	// topK truncates
	results, err = r.VectorSearch(ctx, []float32{0.9, 0.1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, a.UUID, results[0].Node.UUID)

	// upsert replaces, it does not accumulate
	require.NoError(t, r.UpsertEmbedding(ctx, a.UUID, []float32{0, 0, 1}))
	results, err = r.VectorSearch(ctx, []float32{0, 0, 1}, 10)
	require.NoError(t, err)
	require.Equal(t, a.UUID, results[0].Node.UUID)

	// dimension mismatch is a validation failure
	err = r.UpsertEmbedding(ctx, a.UUID, []float32{1, 2})
	require.Error(t, err)

	// degenerate queries return empty rather than erroring
	results, err = r.VectorSearch(ctx, []float32{0, 0, 0}, 10)
	require.NoError(t, err)
	require.Empty(t, results)
	results, err = r.VectorSearch(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Empty(t, results)

	require.NoError(t, r.DeleteEmbedding(ctx, b.UUID))
	results, err = r.VectorSearch(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	for _, res := range results {
		require.NotEqual(t, b.UUID, res.Node.UUID)
	}

	// deleting the node removes its embedding too
	require.NoError(t, r.Delete(ctx, a.UUID))
	results, err = r.VectorSearch(ctx, []float32{0, 0, 1}, 10)
	require.NoError(t, err)
	for _, res := range results {
		require.NotEqual(t, a.UUID, res.Node.UUID)
	}
}
