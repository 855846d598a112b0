package crmauth

import "strings"

// UserRole is the identity's role within its organization
type UserRole string

const (
	// RoleSuperAdmin can do everything across organizations
	RoleSuperAdmin UserRole = "superadmin"
	// RoleAdmin can do everything inside its organization
	RoleAdmin UserRole = "admin"
	// RoleManager runs a sales team (i.e. assign, delete pipeline records)
	RoleManager UserRole = "manager"
	// RoleUser works its own customers, deals and tasks
	RoleUser UserRole = "user"
	// RoleViewer is read only
	RoleViewer UserRole = "viewer"
)

// ResourceType names a CRM resource capabilities are granted on
type ResourceType string

const (
	ResourceCustomer    ResourceType = "customer"
	ResourceDeal        ResourceType = "deal"
	ResourceTask        ResourceType = "task"
	ResourceProduct     ResourceType = "product"
	ResourceOrg         ResourceType = "organization"
	ResourceUser        ResourceType = "user"
	ResourceWebhook     ResourceType = "webhook"
	ResourceAPIKey      ResourceType = "api_key"
	ResourceAnalytics   ResourceType = "analytics"
	ResourceCustomField ResourceType = "custom_field"
	ResourceReport      ResourceType = "report"
	ResourceSetting     ResourceType = "setting"
)

// ActionType names what can be done on a resource
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionRead   ActionType = "read"
	ActionUpdate ActionType = "update"
	ActionDelete ActionType = "delete"
	ActionAssign ActionType = "assign"
	ActionManage ActionType = "manage"
)

// Permission is a single capability grant
type Permission struct {
	Resource ResourceType `json:"resource"`
	Action   ActionType   `json:"action"`
}

// Key returns the memo key for the grant, optionally scoped to a record.
func (p Permission) Key(resourceID ...string) string {
	return permissionKey(p.Resource, p.Action, resourceID...)
}

func permissionKey(resource ResourceType, action ActionType, resourceID ...string) string {
	key := string(resource) + ":" + string(action)
	if len(resourceID) > 0 && resourceID[0] != "" {
		key += ":" + resourceID[0]
	}
	return key
}

// AllResources returns every known resource type
func AllResources() []ResourceType {
	return []ResourceType{
		ResourceCustomer,
		ResourceDeal,
		ResourceTask,
		ResourceProduct,
		ResourceOrg,
		ResourceUser,
		ResourceWebhook,
		ResourceAPIKey,
		ResourceAnalytics,
		ResourceCustomField,
		ResourceReport,
		ResourceSetting,
	}
}

// AllActions returns every known action type
func AllActions() []ActionType {
	return []ActionType{
		ActionCreate,
		ActionRead,
		ActionUpdate,
		ActionDelete,
		ActionAssign,
		ActionManage,
	}
}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleManager, RoleUser, RoleViewer:
		return true
	default:
		return false
	}
}

// IsAdmin reports whether the role bypasses permission checks
func (r UserRole) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	roleHierarchy := map[UserRole]int{
		RoleViewer:     0,
		RoleUser:       1,
		RoleManager:    2,
		RoleAdmin:      3,
		RoleSuperAdmin: 4,
	}

	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleViewer,
		RoleUser,
		RoleManager,
		RoleAdmin,
		RoleSuperAdmin,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(strings.ToLower(strings.TrimSpace(roleStr)))
	return role, role.IsValid()
}

// FallbackTable maps a role to the capabilities assumed for it while the
// dynamic permission set has not loaded yet.
type FallbackTable map[UserRole][]Permission

// Allows reports whether role has the (resource, action) pair in the table.
func (t FallbackTable) Allows(role UserRole, resource ResourceType, action ActionType) bool {
	for _, p := range t[role] {
		if p.Resource == resource && p.Action == action {
			return true
		}
	}
	return false
}

func grant(resource ResourceType, actions ...ActionType) []Permission {
	out := make([]Permission, 0, len(actions))
	for _, a := range actions {
		out = append(out, Permission{Resource: resource, Action: a})
	}
	return out
}

func grants(groups ...[]Permission) []Permission {
	var out []Permission
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// DefaultFallbackTable returns the static role table. Admin roles are not
// listed since they bypass every check.
func DefaultFallbackTable() FallbackTable {
	crud := []ActionType{ActionCreate, ActionRead, ActionUpdate, ActionDelete}

	return FallbackTable{
		RoleManager: grants(
			grant(ResourceCustomer, append(crud, ActionAssign)...),
			grant(ResourceDeal, append(crud, ActionAssign)...),
			grant(ResourceTask, append(crud, ActionAssign)...),
			grant(ResourceProduct, ActionCreate, ActionRead, ActionUpdate),
			grant(ResourceUser, ActionRead),
			grant(ResourceAnalytics, ActionRead),
			grant(ResourceReport, ActionCreate, ActionRead),
			grant(ResourceCustomField, ActionRead),
		),
		RoleUser: grants(
			grant(ResourceCustomer, ActionCreate, ActionRead, ActionUpdate),
			grant(ResourceDeal, ActionCreate, ActionRead, ActionUpdate),
			grant(ResourceTask, crud...),
			grant(ResourceProduct, ActionRead),
			grant(ResourceReport, ActionRead),
			grant(ResourceCustomField, ActionRead),
		),
		RoleViewer: grants(
			grant(ResourceCustomer, ActionRead),
			grant(ResourceDeal, ActionRead),
			grant(ResourceTask, ActionRead),
			grant(ResourceProduct, ActionRead),
		),
	}
}
