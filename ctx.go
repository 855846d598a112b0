package crmauth

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

// DefaultLocalsKey is where the guard stores the identity in fiber locals
const DefaultLocalsKey = "crm_identity"

var identityCtxKey = &contextKey{"identity"}
var resolverCtxKey = &contextKey{"permissions"}

type contextKey struct {
	name string
}

// WithIdentity sets the identity in the given context
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey, identity)
}

// IdentityFromContext finds the identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	raw, ok := ctx.Value(identityCtxKey).(*Identity)
	return raw, ok && raw != nil
}

// WithPermissions sets the permission resolver in the given context
func WithPermissions(ctx context.Context, resolver *PermissionResolver) context.Context {
	return context.WithValue(ctx, resolverCtxKey, resolver)
}

// PermissionsFromContext finds the permission resolver from the context
func PermissionsFromContext(ctx context.Context) (*PermissionResolver, bool) {
	raw, ok := ctx.Value(resolverCtxKey).(*PermissionResolver)
	return raw, ok && raw != nil
}

// Can checks a permission with the resolver stored in ctx. It is false when
// no resolver is present.
func Can(ctx context.Context, resource, action string, resourceID ...string) bool {
	resolver, ok := PermissionsFromContext(ctx)
	if !ok {
		return false
	}
	return resolver.Can(resource, action, resourceID...)
}

// IdentityFromLocals extracts the identity the guard stored under key
func IdentityFromLocals(c *fiber.Ctx, key string) (*Identity, bool) {
	if key == "" {
		key = DefaultLocalsKey
	}
	raw := c.Locals(key)
	if raw == nil {
		return nil, false
	}
	identity, ok := raw.(*Identity)
	return identity, ok && identity != nil
}
