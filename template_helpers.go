package crmauth

var TemplateUserKey = "current_user"

// TemplateHelpers returns helper functions and data bound to the session of
// m, to be merged into the view context of django templates.
//
// In templates, you can then use:
//
//	{% if is_authenticated() %}
//	{{ current_user.Name }}
//	{% if can("deal", "create") %}
//	{% if is_owner(deal.AssignedTo, deal.CreatedBy) %}
func TemplateHelpers(m *Manager) map[string]any {
	helpers := map[string]any{
		"is_authenticated": func() bool { return false },
		"can":              func(resource, action string) bool { return false },
		"can_record":       func(resource, action, id string) bool { return false },
		"is_owner":         func(assignedTo, createdBy string) bool { return false },
		"has_role":         func(role string) bool { return false },
		"is_at_least":      func(role string) bool { return false },
		"roles":            roleNames(),
		TemplateUserKey:    nil,
	}

	if m == nil {
		return helpers
	}

	resolver := m.Permissions()
	identity := m.CurrentIdentity()

	helpers["is_authenticated"] = m.IsAuthenticated
	helpers["can"] = func(resource, action string) bool {
		return resolver.Can(resource, action)
	}
	helpers["can_record"] = func(resource, action, id string) bool {
		return resolver.Can(resource, action, id)
	}
	helpers["is_owner"] = func(assignedTo, createdBy string) bool {
		return resolver.IsOwner(Ownership{AssignedTo: assignedTo, CreatedBy: createdBy})
	}
	helpers["has_role"] = func(role string) bool {
		return identity != nil && identity.Role == UserRole(role)
	}
	helpers["is_at_least"] = func(role string) bool {
		return identity != nil && identity.Role.IsAtLeast(UserRole(role))
	}
	if identity != nil {
		helpers[TemplateUserKey] = identity
	}

	return helpers
}

func roleNames() map[string]string {
	out := map[string]string{}
	for _, role := range GetAllRoles() {
		out[string(role)] = string(role)
	}
	return out
}
