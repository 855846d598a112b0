package crmauth

import (
	"context"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

const defaultPermissionCacheSize = 512

// Ownable is implemented by records that can be assigned to or created by
// an identity.
type Ownable interface {
	OwnerRefs() (assignedTo, createdBy string)
}

// Ownership is embedded by CRM records carrying owner references.
type Ownership struct {
	AssignedTo string `json:"assignedTo,omitempty"`
	CreatedBy  string `json:"createdBy,omitempty"`
}

// OwnerRefs implements Ownable.
func (o Ownership) OwnerRefs() (string, string) {
	return o.AssignedTo, o.CreatedBy
}

// PermissionResolver answers synchronous capability checks for one bound
// identity. It is owned by a Manager which rebinds it on every identity
// change.
type PermissionResolver struct {
	authority  Authority
	fallback   FallbackTable
	adminRoles map[UserRole]struct{}
	logger     Logger
	cacheSize  int
	sink       ActivitySink

	mu       sync.RWMutex
	identity *Identity
	token    string
	epoch    uint64
	granted  map[Permission]struct{}
	loaded   bool
	memo     *lru.Cache[string, bool]

	group singleflight.Group
}

// PermissionResolverOption customizes the resolver
type PermissionResolverOption func(*PermissionResolver)

// WithFallbackTable replaces the static role table used before load.
func WithFallbackTable(table FallbackTable) PermissionResolverOption {
	return func(r *PermissionResolver) {
		if table != nil {
			r.fallback = table
		}
	}
}

// WithAdminRoles replaces the set of roles that bypass every check.
func WithAdminRoles(roles ...UserRole) PermissionResolverOption {
	return func(r *PermissionResolver) {
		r.adminRoles = make(map[UserRole]struct{}, len(roles))
		for _, role := range roles {
			r.adminRoles[role] = struct{}{}
		}
	}
}

// WithCacheSize bounds the memo cache.
func WithCacheSize(size int) PermissionResolverOption {
	return func(r *PermissionResolver) {
		if size > 0 {
			r.cacheSize = size
		}
	}
}

// WithResolverLogger sets the resolver logger.
func WithResolverLogger(logger Logger) PermissionResolverOption {
	return func(r *PermissionResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithResolverActivitySink publishes permission load events.
func WithResolverActivitySink(sink ActivitySink) PermissionResolverOption {
	return func(r *PermissionResolver) {
		r.sink = normalizeActivitySink(sink)
	}
}

// NewPermissionResolver returns an unbound resolver.
func NewPermissionResolver(authority Authority, opts ...PermissionResolverOption) *PermissionResolver {
	r := &PermissionResolver{
		authority: authority,
		fallback:  DefaultFallbackTable(),
		adminRoles: map[UserRole]struct{}{
			RoleAdmin:      {},
			RoleSuperAdmin: {},
		},
		logger:    defLogger{},
		cacheSize: defaultPermissionCacheSize,
		sink:      noopActivitySink{},
	}

	for _, opt := range opts {
		opt(r)
	}

	memo, err := lru.New[string, bool](r.cacheSize)
	if err != nil {
		// only fails for non positive sizes, which options rule out
		panic(err)
	}
	r.memo = memo

	return r
}

// Reset binds the resolver to identity (nil for none) and drops every
// cached answer and the loaded set.
func (r *PermissionResolver) Reset(identity *Identity, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.epoch++
	r.identity = identity.Clone()
	r.token = token
	r.granted = nil
	r.loaded = false
	r.memo.Purge()
}

// Identity returns the bound identity
func (r *PermissionResolver) Identity() *Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.identity.Clone()
}

// Loaded reports whether the dynamic set for the bound identity arrived
func (r *PermissionResolver) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// LoadPermissions fetches the permission set for the bound identity. It is
// a no-op when already loaded, and concurrent callers share one request.
// A response that arrives after a Reset is discarded.
func (r *PermissionResolver) LoadPermissions(ctx context.Context) error {
	r.mu.RLock()
	identity, token, epoch, loaded := r.identity, r.token, r.epoch, r.loaded
	r.mu.RUnlock()

	if identity == nil || loaded {
		return nil
	}

	_, err, _ := r.group.Do(strconv.FormatUint(epoch, 10), func() (any, error) {
		perms, err := r.authority.Permissions(ctx, token)
		if err != nil {
			r.logger.Error("failed to load permissions for user %s: %v", identity.ID, err)
			return nil, err
		}

		granted := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			granted[p] = struct{}{}
		}

		r.mu.Lock()
		if r.epoch != epoch {
			r.mu.Unlock()
			r.logger.Debug("discarding permissions for stale identity %s", identity.ID)
			return nil, nil
		}
		r.granted = granted
		r.loaded = true
		r.memo.Purge()
		r.mu.Unlock()

		if err := r.sink.Record(ctx, ActivityEvent{
			EventType: ActivityEventPermissionsLoaded,
			UserID:    identity.ID,
			From:      StateAuthenticated,
			To:        StateAuthenticated,
			Metadata:  map[string]any{"count": len(perms)},
		}); err != nil {
			r.logger.Error("activity sink error: %v", err)
		}
		return nil, nil
	})
	return err
}

// CheckPermission answers whether the bound identity may perform action on
// resource, optionally scoped to a record id. It never blocks on I/O.
func (r *PermissionResolver) CheckPermission(resource ResourceType, action ActionType, resourceID ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.identity == nil {
		return false
	}

	if _, ok := r.adminRoles[r.identity.Role]; ok {
		return true
	}

	key := permissionKey(resource, action, resourceID...)
	if allowed, ok := r.memo.Get(key); ok {
		return allowed
	}

	if r.loaded {
		allowed := r.hasGrant(resource, action)
		r.memo.Add(key, allowed)
		return allowed
	}

	return r.fallback.Allows(r.identity.Role, resource, action)
}

// Can is CheckPermission with string arguments, for templates and query
// strings.
func (r *PermissionResolver) Can(resource, action string, resourceID ...string) bool {
	return r.CheckPermission(ResourceType(resource), ActionType(action), resourceID...)
}

// IsOwner reports whether the record is assigned to or created by the
// bound identity.
func (r *PermissionResolver) IsOwner(resource Ownable) bool {
	if resource == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.identity == nil || r.identity.ID == "" {
		return false
	}

	assignedTo, createdBy := resource.OwnerRefs()
	return assignedTo == r.identity.ID || createdBy == r.identity.ID
}

// manage on a resource implies every other action on it
func (r *PermissionResolver) hasGrant(resource ResourceType, action ActionType) bool {
	if _, ok := r.granted[Permission{Resource: resource, Action: action}]; ok {
		return true
	}
	_, ok := r.granted[Permission{Resource: resource, Action: ActionManage}]
	return ok
}
