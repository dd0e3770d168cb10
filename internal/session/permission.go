package session

import "github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"

// Action is something a session may attempt.
type Action string

const (
	ActionView                Action = "view"
	ActionEdit                Action = "edit"
	ActionComment             Action = "comment"
	ActionDelete              Action = "delete"
	ActionManageCollaborators Action = "manage_collaborators"
	ActionAdminister          Action = "administer"
)

// Resource is the kind of data an action targets.
type Resource string

const (
	// ResourceProject covers projects with their tasks and comments
	ResourceProject Resource = "project"

	// ResourcePersonal covers ideas, reminders, courses, goals, habits,
	// journal entries and admin documents
	ResourcePersonal Resource = "personal"

	// ResourceSettings is the settings singleton
	ResourceSettings Resource = "settings"
)

var projectGrants = map[schema.Role][]Action{
	schema.RoleEditor: {ActionView, ActionEdit, ActionComment},
	schema.RoleViewer: {ActionView},
	schema.RoleGuest:  {ActionView, ActionComment},
}

// Can reports whether role may perform action on resource.
// Owners may do everything; every other role is limited to projects.
func Can(role schema.Role, action Action, resource Resource) bool {
	if role == schema.RoleOwner {
		return true
	}
	if resource != ResourceProject {
		return false
	}
	for _, a := range projectGrants[role] {
		if a == action {
			return true
		}
	}
	return false
}

// ResourceFor maps a collection name to the resource it belongs to.
func ResourceFor(collection string) Resource {
	switch collection {
	case schema.CollectionProjects:
		return ResourceProject
	case schema.CollectionSettings:
		return ResourceSettings
	default:
		return ResourcePersonal
	}
}
