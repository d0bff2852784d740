package security

import "context"

// Built-in principals and groups.
const (
	// RootUser is the system principal; it bypasses every permission check.
	RootUser = "root"
	// AnonymousUser is the identity of unauthenticated callers.
	AnonymousUser = "anonymous"
	// AdminsGroup members bypass permission checks like root does.
	AdminsGroup = "admins"
)

// Principal is the resolved caller identity passed explicitly into every
// repository- and authorization-facing call. Group is the caller's primary
// group; Groups lists every group the caller belongs to (including the
// primary one).
type Principal struct {
	ID     string
	Group  string
	Groups []string
}

// Anonymous returns the unauthenticated principal.
func Anonymous() Principal {
	return Principal{ID: AnonymousUser}
}

// Root returns the system principal.
func Root() Principal {
	return Principal{ID: RootUser, Group: AdminsGroup, Groups: []string{AdminsGroup}}
}

// IsAnonymous returns true for unauthenticated callers.
func (p Principal) IsAnonymous() bool {
	return p.ID == "" || p.ID == AnonymousUser
}

// IsAdmin returns true for the root principal and members of the admins group.
func (p Principal) IsAdmin() bool {
	if p.ID == RootUser {
		return true
	}
	return p.InGroup(AdminsGroup)
}

// InGroup returns true if the principal belongs to the given group.
func (p Principal) InGroup(group string) bool {
	if group == "" {
		return false
	}
	if p.Group == group {
		return true
	}
	for _, g := range p.Groups {
		if g == group {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal returns a new context carrying the caller identity.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext retrieves the caller identity from the context.
// Contexts without one belong to anonymous callers.
func PrincipalFromContext(ctx context.Context) Principal {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok {
		return Anonymous()
	}
	return p
}
