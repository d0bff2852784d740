// Package authz decides node access. It offers a direct allow/deny check for
// a single folder plus a filter rewriter that expands any query into a
// permission-safe query, so backends return only visible nodes without a
// post-filtering pass.
package authz

import (
	"context"

	"github.com/chirino/node-service/internal/model"
	"github.com/chirino/node-service/internal/registry/repo"
	"github.com/chirino/node-service/internal/security"
)

// IsAllowed checks a single permission against a folder's ACL block for the
// caller in ctx. A nil return means allowed; denial is an UnauthorizedError
// for anonymous callers and a ForbiddenError for authenticated ones.
//
// Non-folder nodes are governed by their parent folder; callers pass the
// governing folder here, never the node itself.
func IsAllowed(ctx context.Context, folder *model.Node, permission model.Permission) error {
	if !folder.IsFolder() || folder.Permissions == nil {
		return &repo.ValidationError{Field: "folder", Message: "permission checks require a folder node"}
	}
	p := security.PrincipalFromContext(ctx)
	err := decide(p, folder, permission)
	observe(err)
	return err
}

func decide(p security.Principal, folder *model.Node, permission model.Permission) error {
	if p.IsAdmin() {
		return nil
	}
	if model.Grants(folder.Permissions.Anonymous, permission) {
		return nil
	}
	if p.IsAnonymous() {
		return &repo.UnauthorizedError{}
	}
	if folder.Owner == p.ID {
		return nil
	}
	if model.Grants(folder.Permissions.Authenticated, permission) {
		return nil
	}
	if folder.Group != "" && p.InGroup(folder.Group) && model.Grants(folder.Permissions.Group, permission) {
		return nil
	}
	for group, perms := range folder.Permissions.Advanced {
		if p.InGroup(group) && model.Grants(perms, permission) {
			return nil
		}
	}
	return &repo.ForbiddenError{}
}

func observe(err error) {
	if security.AuthDecisionsTotal == nil {
		return
	}
	switch err.(type) {
	case nil:
		security.AuthDecisionsTotal.WithLabelValues("allowed").Inc()
	case *repo.UnauthorizedError:
		security.AuthDecisionsTotal.WithLabelValues("unauthorized").Inc()
	case *repo.ForbiddenError:
		security.AuthDecisionsTotal.WithLabelValues("forbidden").Inc()
	default:
		security.AuthDecisionsTotal.WithLabelValues("error").Inc()
	}
}
