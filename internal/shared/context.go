// Package shared holds cross-cutting types used by every domain package:
// the authenticated actor, pagination, audit logging and idempotency keys.
package shared

import "context"

// Role is the permission tier of a user inside a tenant.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleManager, RoleStaff:
		return true
	}
	return false
}

// OneOf reports whether r matches any of the given roles.
func (r Role) OneOf(roles ...Role) bool {
	for _, candidate := range roles {
		if r == candidate {
			return true
		}
	}
	return false
}

// Actor identifies the authenticated user behind a request. Every domain
// operation receives an Actor and scopes its reads and writes to
// Actor.TenantID.
type Actor struct {
	UserID   int64
	TenantID int64
	Role     Role
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context. The second return is
// false when no actor was attached.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
