package nodefilter

import (
	"strings"

	"github.com/chirino/node-service/internal/model"
)

// Resolve returns the value of a filter field on a node. The second return is
// false when the field is absent: empty optional scalars, empty collections,
// aspect properties that were never set, and permission paths on nodes that
// carry no ACL block. Absence rules line up with the JSON omitempty encoding
// of the node body, so json_extract / $exists behave the same way.
//
// Supported paths:
//   - promoted and plain fields by name (uuid, fid, title, ...)
//   - "aspectUuid:propertyName" for aspect-scoped properties
//   - "permissions.anonymous" / ".authenticated" / ".group"
//   - "permissions.advanced.<groupId>"
func Resolve(n *model.Node, field string) (any, bool) {
	if strings.Contains(field, ":") {
		if n.Properties == nil {
			return nil, false
		}
		v, ok := n.Properties[field]
		return v, ok && v != nil
	}
	if rest, ok := strings.CutPrefix(field, "permissions."); ok {
		return resolvePermissions(n, rest)
	}

	switch field {
	case "uuid":
		return n.UUID, true
	case "fid":
		return optional(n.Fid)
	case "title":
		return n.Title, true
	case "description":
		return optional(n.Description)
	case "mimetype":
		return n.Mimetype, true
	case "parent":
		return n.Parent, true
	case "owner":
		return n.Owner, true
	case "group":
		return optional(n.Group)
	case "createdTime":
		return n.CreatedTime, true
	case "modifiedTime":
		return n.ModifiedTime, true
	case "size":
		if n.Size == 0 {
			return nil, false
		}
		return n.Size, true
	case "fulltext":
		return optional(n.Fulltext)
	case "tags":
		return optionalList(n.Tags)
	case "aspects":
		return optionalList(n.Aspects)
	case "related":
		return optionalList(n.Related)
	}
	return nil, false
}

func resolvePermissions(n *model.Node, rest string) (any, bool) {
	if n.Permissions == nil {
		return nil, false
	}
	switch rest {
	case "anonymous":
		return n.Permissions.Anonymous, len(n.Permissions.Anonymous) > 0
	case "authenticated":
		return n.Permissions.Authenticated, len(n.Permissions.Authenticated) > 0
	case "group":
		return n.Permissions.Group, len(n.Permissions.Group) > 0
	}
	if group, ok := strings.CutPrefix(rest, "advanced."); ok {
		perms, found := n.Permissions.Advanced[group]
		return perms, found && len(perms) > 0
	}
	return nil, false
}

func optional(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}

func optionalList(list []string) (any, bool) {
	if len(list) == 0 {
		return nil, false
	}
	return list, true
}
