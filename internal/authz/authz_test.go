package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/security"
)

func ctxFor(p security.Principal) context.Context {
	return security.WithPrincipal(context.Background(), p)
}

func user(id string, groups ...string) security.Principal {
	p := security.Principal{ID: id, Groups: groups}
	if len(groups) > 0 {
		p.Group = groups[0]
	}
	return p
}

func TestIsAllowed(t *testing.T) {
	folder := &model.Node{
		UUID:     "f-1",
		Title:    "Shared",
		Mimetype: model.MimetypeFolder,
		Parent:   model.RootFolderUUID,
		Owner:    "alice",
		Group:    "engineering",
		Permissions: &model.Permissions{
			Anonymous:     []model.Permission{model.PermissionRead},
			Authenticated: []model.Permission{model.PermissionRead, model.PermissionWrite},
			Group:         []model.Permission{model.PermissionDelete},
			Advanced: map[string][]model.Permission{
				"auditors": {model.PermissionExport},
			},
		},
	}

	cases := []struct {
		name       string
		principal  security.Principal
		permission model.Permission
		wantErr    any
	}{
		{"admin bypasses everything", security.Root(), model.PermissionDelete, nil},
		{"admins group member bypasses", user("dave", security.AdminsGroup), model.PermissionDelete, nil},
		{"anonymous granted read", security.Anonymous(), model.PermissionRead, nil},
		{"anonymous denied write", security.Anonymous(), model.PermissionWrite, &repo.UnauthorizedError{}},
		{"owner gets everything", user("alice"), model.PermissionDelete, nil},
		{"authenticated grant", user("bob"), model.PermissionWrite, nil},
		{"group grant needs membership", user("bob", "engineering"), model.PermissionDelete, nil},
		{"group grant denied outside group", user("bob"), model.PermissionDelete, &repo.ForbiddenError{}},
		{"advanced grant", user("carol", "auditors"), model.PermissionExport, nil},
		{"advanced grant wrong permission", user("carol", "auditors"), model.PermissionDelete, &repo.ForbiddenError{}},
		{"authenticated denied ungrantable", user("bob"), model.PermissionExport, &repo.ForbiddenError{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := IsAllowed(ctxFor(tc.principal), folder, tc.permission)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.IsType(t, tc.wantErr, err)
			}
		})
	}
}

func TestIsAllowedRequiresFolder(t *testing.T) {
	file := &model.Node{UUID: "n-1", Title: "file", Mimetype: "text/plain", Parent: "f-1", Owner: "alice"}
	err := IsAllowed(ctxFor(security.Root()), file, model.PermissionRead)
	var ve *repo.ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestRewriteFiltersAdminIdentity(t *testing.T) {
	original := model.And(model.F("title", model.OpMatch, "report"))
	got := RewriteFilters(ctxFor(security.Root()), model.PermissionRead, original)
	assert.Equal(t, original, got)
}

func TestPermissionRowsShape(t *testing.T) {
	// Anonymous callers can only be reached through the anonymous grant, in
	// its folder and parent-resolved forms.
	rows := PermissionRows(security.Anonymous(), model.PermissionRead)
	require.Len(t, rows, 2)
	assert.Equal(t, model.F("mimetype", model.OpEqual, model.MimetypeFolder), rows[0][0])
	assert.Equal(t, model.F("permissions.anonymous", model.OpContains, "read"), rows[0][1])
	assert.Equal(t, model.F("mimetype", model.OpNotEqual, model.MimetypeFolder), rows[1][0])
	assert.Equal(t, model.F("@permissions.anonymous", model.OpContains, "read"), rows[1][1])

	// Authenticated with a primary group and one extra group: anonymous,
	// owner, authenticated, group, and one advanced row per group membership,
	// each doubled into folder and parent-resolved forms.
	rows = PermissionRows(user("bob", "engineering", "auditors"), model.PermissionWrite)
	require.Len(t, rows, 12)
	assert.Contains(t, rows, model.NodeFilters{
		model.F("mimetype", model.OpEqual, model.MimetypeFolder),
		model.F("owner", model.OpEqual, "bob"),
	})
	assert.Contains(t, rows, model.NodeFilters{
		model.F("mimetype", model.OpNotEqual, model.MimetypeFolder),
		model.F("@group", model.OpEqual, "engineering"),
		model.F("@permissions.group", model.OpContains, "write"),
	})
	assert.Contains(t, rows, model.NodeFilters{
		model.F("mimetype", model.OpEqual, model.MimetypeFolder),
		model.F("permissions.advanced.auditors", model.OpContains, "write"),
	})
}

func TestCrossProduct(t *testing.T) {
	a := model.F("title", model.OpMatch, "x")
	b := model.F("owner", model.OpEqual, "bob")
	p1 := model.F("permissions.anonymous", model.OpContains, "read")
	p2 := model.F("owner", model.OpEqual, "me")

	got := CrossProduct(
		model.NodeFilters2D{{a}, {b}},
		model.NodeFilters2D{{p1}, {p2}},
	)
	want := model.NodeFilters2D{{a, p1}, {a, p2}, {b, p1}, {b, p2}}
	assert.Equal(t, want, got)

	// empty caller query degenerates to the permission rows alone
	got = CrossProduct(nil, model.NodeFilters2D{{p1}})
	assert.Equal(t, model.NodeFilters2D{{p1}}, got)

	// no permission rows leaves the query untouched
	got = CrossProduct(model.NodeFilters2D{{a}}, nil)
	assert.Equal(t, model.NodeFilters2D{{a}}, got)
}
