package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Permission is a single capability granted by an ACL entry.
type Permission string

const (
	PermissionRead   Permission = "read"
	PermissionWrite  Permission = "write"
	PermissionDelete Permission = "delete"
	PermissionExport Permission = "export"
)

// Permissions is the ACL block held by Folder nodes. Non-folder nodes are
// governed by their parent folder's block and never carry their own.
type Permissions struct {
	Anonymous     []Permission            `json:"anonymous"           bson:"anonymous"`
	Authenticated []Permission            `json:"authenticated"       bson:"authenticated"`
	Group         []Permission            `json:"group"               bson:"group"`
	Advanced      map[string][]Permission `json:"advanced,omitempty"  bson:"advanced,omitempty"`
}

// Grants returns true if the permission list contains p.
func Grants(list []Permission, p Permission) bool {
	for _, granted := range list {
		if granted == p {
			return true
		}
	}
	return false
}

// Built-in node variant mimetypes. Any other mimetype is a File variant.
const (
	MimetypeFolder   = "application/vnd.nodesvc.folder"
	MimetypeMetanode = "application/vnd.nodesvc.metanode"
	MimetypeAspect   = "application/vnd.nodesvc.aspect"
	MimetypeAgent    = "application/vnd.nodesvc.agent"
	MimetypeAPIKey   = "application/vnd.nodesvc.apikey"
	MimetypeUser     = "application/vnd.nodesvc.user"
	MimetypeGroup    = "application/vnd.nodesvc.group"
)

// RootFolderUUID is the sentinel parent of top-level nodes. There is no stored
// node with this uuid; authorization treats it as an admin-only folder.
const RootFolderUUID = "--root--"

// TimeFormat is the canonical timestamp encoding. RFC 3339 in UTC compares
// lexicographically in chronological order, which keeps timestamp filters a
// plain string comparison on every backend.
const TimeFormat = time.RFC3339

// Now returns the current time in the canonical encoding.
func Now() string {
	return time.Now().UTC().Format(TimeFormat)
}

// Node is the uniform content entity. The variant is keyed by Mimetype; the
// built-in variants above are closed, everything else is a File.
type Node struct {
	UUID         string             `json:"uuid"                   bson:"_id"`
	Fid          string             `json:"fid,omitempty"          bson:"fid,omitempty"`
	Title        string             `json:"title"                  bson:"title"`
	Description  string             `json:"description,omitempty"  bson:"description,omitempty"`
	Mimetype     string             `json:"mimetype"               bson:"mimetype"`
	Parent       string             `json:"parent"                 bson:"parent"`
	Owner        string             `json:"owner"                  bson:"owner"`
	Group        string             `json:"group,omitempty"        bson:"group,omitempty"`
	Permissions  *Permissions       `json:"permissions,omitempty"  bson:"permissions,omitempty"`
	CreatedTime  string             `json:"createdTime"            bson:"createdTime"`
	ModifiedTime string             `json:"modifiedTime"           bson:"modifiedTime"`
	Size         int64              `json:"size,omitempty"         bson:"size,omitempty"`
	Fulltext     string             `json:"fulltext,omitempty"     bson:"fulltext,omitempty"`
	Properties   map[string]any     `json:"properties,omitempty"   bson:"properties,omitempty"`
	Tags         []string           `json:"tags,omitempty"         bson:"tags,omitempty"`
	Aspects      []string           `json:"aspects,omitempty"      bson:"aspects,omitempty"`
	Related      []string           `json:"related,omitempty"      bson:"related,omitempty"`
}

// NewNode creates a node of the given variant with a fresh uuid and
// server-assigned timestamps. The parent defaults to the root folder.
func NewNode(mimetype, title, owner string) *Node {
	now := Now()
	n := &Node{
		UUID:         uuid.NewString(),
		Title:        title,
		Mimetype:     mimetype,
		Parent:       RootFolderUUID,
		Owner:        owner,
		CreatedTime:  now,
		ModifiedTime: now,
	}
	if mimetype == MimetypeFolder {
		n.Permissions = &Permissions{}
	}
	return n
}

// NewFolder creates a Folder node with an empty (owner-only) ACL block.
func NewFolder(title, owner string) *Node {
	return NewNode(MimetypeFolder, title, owner)
}

// IsFolder returns true for the Folder variant.
func (n *Node) IsFolder() bool {
	return n.Mimetype == MimetypeFolder
}

// Touch advances ModifiedTime, keeping it monotonic non-decreasing.
func (n *Node) Touch() {
	now := Now()
	if now > n.ModifiedTime {
		n.ModifiedTime = now
	}
}

// Clone returns a deep copy so callers can't mutate stored state.
func (n *Node) Clone() *Node {
	out := *n
	if n.Permissions != nil {
		perms := Permissions{
			Anonymous:     append([]Permission(nil), n.Permissions.Anonymous...),
			Authenticated: append([]Permission(nil), n.Permissions.Authenticated...),
			Group:         append([]Permission(nil), n.Permissions.Group...),
		}
		if n.Permissions.Advanced != nil {
			perms.Advanced = make(map[string][]Permission, len(n.Permissions.Advanced))
			for k, v := range n.Permissions.Advanced {
				perms.Advanced[k] = append([]Permission(nil), v...)
			}
		}
		out.Permissions = &perms
	}
	if n.Properties != nil {
		out.Properties = make(map[string]any, len(n.Properties))
		for k, v := range n.Properties {
			out.Properties[k] = v
		}
	}
	out.Tags = append([]string(nil), n.Tags...)
	out.Aspects = append([]string(nil), n.Aspects...)
	out.Related = append([]string(nil), n.Related...)
	return &out
}

// Validate enforces the node invariants that hold across every backend.
func (n *Node) Validate() error {
	if n.UUID == "" {
		return fmt.Errorf("node uuid is required")
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("node title is required")
	}
	if n.Mimetype == "" {
		return fmt.Errorf("node mimetype is required")
	}
	if n.Parent == "" {
		return fmt.Errorf("node parent is required")
	}
	if n.IsFolder() && n.Permissions == nil {
		return fmt.Errorf("folder nodes must carry a permission block")
	}
	if !n.IsFolder() && n.Permissions != nil {
		return fmt.Errorf("only folder nodes may carry a permission block")
	}
	return nil
}
