package authz

import (
	"context"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/security"
)

// RewriteFilters expands a caller's filter tree so the resulting query
// returns only nodes visible to the caller under the given permission:
//
//	results(rewritten) == results(original) ∩ permission-visible-set
//
// Admins short-circuit to the identity rewrite. For everyone else the
// caller's rows are cross-multiplied with the ACL predicate rows from
// PermissionRows: AND within each combined row, OR across combinations.
func RewriteFilters(ctx context.Context, permission model.Permission, filters model.NodeFilters2D) model.NodeFilters2D {
	p := security.PrincipalFromContext(ctx)
	if p.IsAdmin() {
		return filters
	}
	return CrossProduct(filters, PermissionRows(p, permission))
}

// PermissionRows builds the 2-D predicate set describing every way the
// caller can hold the permission. Each base predicate is emitted twice: once
// guarded mimetype == Folder so folders are judged on their own ACL, and
// once with every field "@"-prefixed plus a mimetype != Folder guard so
// non-folder nodes are judged on their parent's ACL.
func PermissionRows(p security.Principal, permission model.Permission) model.NodeFilters2D {
	base := []model.NodeFilters{
		{model.F("permissions.anonymous", model.OpContains, string(permission))},
	}
	if !p.IsAnonymous() {
		base = append(base,
			model.NodeFilters{model.F("owner", model.OpEqual, p.ID)},
			model.NodeFilters{model.F("permissions.authenticated", model.OpContains, string(permission))},
		)
		if p.Group != "" {
			base = append(base, model.NodeFilters{
				model.F("group", model.OpEqual, p.Group),
				model.F("permissions.group", model.OpContains, string(permission)),
			})
		}
		for _, group := range p.Groups {
			base = append(base, model.NodeFilters{
				model.F("permissions.advanced."+group, model.OpContains, string(permission)),
			})
		}
	}

	rows := make(model.NodeFilters2D, 0, 2*len(base))
	for _, row := range base {
		folderRow := make(model.NodeFilters, 0, len(row)+1)
		folderRow = append(folderRow, model.F("mimetype", model.OpEqual, model.MimetypeFolder))
		folderRow = append(folderRow, row...)
		rows = append(rows, folderRow)

		childRow := make(model.NodeFilters, 0, len(row)+1)
		childRow = append(childRow, model.F("mimetype", model.OpNotEqual, model.MimetypeFolder))
		for _, f := range row {
			childRow = append(childRow, model.F("@"+f.Field, f.Operator, f.Value))
		}
		rows = append(rows, childRow)
	}
	return rows
}

// CrossProduct combines a caller query with permission predicate rows. Every
// original row is AND-ed with every permission row; the combinations are
// OR-ed. An empty caller query acts as the single always-true row, so the
// result is exactly the permission rows.
func CrossProduct(filters, permissionRows model.NodeFilters2D) model.NodeFilters2D {
	if len(permissionRows) == 0 {
		return filters
	}
	if len(filters) == 0 {
		filters = model.NodeFilters2D{nil}
	}
	out := make(model.NodeFilters2D, 0, len(filters)*len(permissionRows))
	for _, original := range filters {
		for _, perms := range permissionRows {
			combined := make(model.NodeFilters, 0, len(original)+len(perms))
			combined = append(combined, original...)
			combined = append(combined, perms...)
			out = append(out, combined)
		}
	}
	return out
}
