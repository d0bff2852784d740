package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeDefaults(t *testing.T) {
	n := NewNode("text/plain", "notes", "alice")
	assert.NotEmpty(t, n.UUID)
	assert.Equal(t, RootFolderUUID, n.Parent)
	assert.Equal(t, n.CreatedTime, n.ModifiedTime)
	assert.Nil(t, n.Permissions)
	require.NoError(t, n.Validate())

	f := NewFolder("stuff", "alice")
	assert.True(t, f.IsFolder())
	require.NotNil(t, f.Permissions)
	require.NoError(t, f.Validate())
}

func TestValidate(t *testing.T) {
	base := func() *Node { return NewNode("text/plain", "notes", "alice") }

	n := base()
	n.UUID = ""
	assert.Error(t, n.Validate())

	n = base()
	n.Title = "   "
	assert.Error(t, n.Validate())

	n = base()
	n.Mimetype = ""
	assert.Error(t, n.Validate())

	n = base()
	n.Parent = ""
	assert.Error(t, n.Validate())

	// the permission block belongs to folders and only folders
	n = base()
	n.Permissions = &Permissions{}
	assert.Error(t, n.Validate())

	f := NewFolder("stuff", "alice")
	f.Permissions = nil
	assert.Error(t, f.Validate())
}

func TestCloneIsDeep(t *testing.T) {
	f := NewFolder("stuff", "alice")
	f.Permissions.Anonymous = []Permission{PermissionRead}
	f.Permissions.Advanced = map[string][]Permission{"auditors": {PermissionRead}}
	f.Tags = []string{"a"}

	c := f.Clone()
	c.Permissions.Anonymous[0] = PermissionWrite
	c.Permissions.Advanced["auditors"][0] = PermissionWrite
	c.Tags[0] = "b"

	assert.Equal(t, Permission("read"), f.Permissions.Anonymous[0])
	assert.Equal(t, Permission("read"), f.Permissions.Advanced["auditors"][0])
	assert.Equal(t, "a", f.Tags[0])

	n := NewNode("text/plain", "notes", "alice")
	n.Properties = map[string]any{"k:v": 1}
	c2 := n.Clone()
	c2.Properties["k:v"] = 2
	assert.Equal(t, 1, n.Properties["k:v"])
}

func TestFiltersValidate(t *testing.T) {
	assert.NoError(t, NodeFilters2D(nil).Validate())
	assert.NoError(t, And(F("title", OpEqual, "x")).Validate())
	assert.Error(t, And(F("", OpEqual, "x")).Validate())
	assert.Error(t, And(NodeFilter{Field: "title", Operator: "~="}).Validate())
}
