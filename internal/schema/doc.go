// Package schema defines the documents stored in the ResearchNexus live store.
//
// # Overview
//
// Every entity is an independent top-level document in one collection.
// Relationships (a reminder pointing at a project, a task assignee pointing
// at a collaborator) are kept by convention through id fields and are
// resolved client-side; the store enforces none of them.
//
// Documents are JSON objects with lowerCamelCase field names:
//
//	{
//	  "id": "8b1d...",
//	  "title": "Causal inference survey",
//	  "status": "Active",
//	  "progress": 40,
//	  "collaborators": [{"id": "owner", "name": "Trung Le", "role": "Owner"}],
//	  "tasks": [{"id": "t1", "title": "Draft intro", "status": "todo"}]
//	}
//
// # Aggregates
//
// Tasks and comments are nested inside their project and are persisted only
// as part of a whole-project write. The helpers on Project (Task, PutTask,
// RemoveTask, AddComment) expose them as addressable values so callers never
// need to know about the nesting.
//
// # Collections
//
//   - projects, ideas, reminders, courses, personal_goals, habits,
//     journal_entries, admin_docs: one document per entity
//   - settings: the global_config singleton (admin code + owner profile)
//
// # Validation
//
// Each entity implements Validate and SetDefaults. Validation runs before any
// write leaves the process, so invalid input never reaches the store.
package schema
