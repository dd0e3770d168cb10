package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/retry"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// casRetry paces read-modify-write retries after a version conflict.
var casRetry = &retry.Backoff{
	Initial:      20 * time.Millisecond,
	Max:          500 * time.Millisecond,
	Multiplier:   2,
	MaxAttempts:  5,
	JitterFactor: 0.5,
}

// Select makes projectID the selected project.
func (w *Workspace) Select(projectID string) (schema.Project, error) {
	if err := w.session.RequireProject(session.ActionView, projectID); err != nil {
		return schema.Project{}, err
	}
	p, ok := w.Projects.Get(projectID)
	if !ok {
		return schema.Project{}, fmt.Errorf("%w: project %s", store.ErrNotFound, projectID)
	}
	w.mu.Lock()
	w.selectedID = projectID
	w.selected = &p
	w.mu.Unlock()
	w.notify(Change{Selection: true})
	return p, nil
}

// Selected returns the selected project. For Owner sessions it may be a
// stale copy of a project that has since been deleted.
func (w *Workspace) Selected() (schema.Project, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected == nil {
		return schema.Project{}, false
	}
	return *w.selected, true
}

// ClearSelection drops the selected project.
func (w *Workspace) ClearSelection() {
	w.mu.Lock()
	w.selectedID = ""
	w.selected = nil
	w.mu.Unlock()
	w.notify(Change{Selection: true})
}

// LoginGuest signs in as a guest and immediately re-evaluates the invited
// project against the projects already loaded.
func (w *Workspace) LoginGuest(name, email, invitedProject string) error {
	if err := w.session.LoginGuest(name, email, invitedProject); err != nil {
		return err
	}
	w.mu.Lock()
	w.inviteResolved = false
	w.mu.Unlock()
	w.refresh(schema.CollectionProjects)
	return nil
}

// reconcileSelection refreshes the selected project from local state and
// resolves a pending invite. Caller holds refreshMu.
func (w *Workspace) reconcileSelection() bool {
	role := w.session.Role()

	w.mu.Lock()
	selectedID := w.selectedID
	resolved := w.inviteResolved
	w.mu.Unlock()

	changed := false
	if selectedID != "" {
		p, ok := w.Projects.Get(selectedID)
		w.mu.Lock()
		switch {
		case w.selectedID != selectedID:
			// Selection moved while we looked
		case ok:
			if w.selected == nil || !reflect.DeepEqual(*w.selected, p) {
				w.selected = &p
				changed = true
			}
		case role != schema.RoleOwner:
			w.logger.Printf("Selected project %s is gone; clearing selection", selectedID)
			w.selectedID = ""
			w.selected = nil
			changed = true
		}
		w.mu.Unlock()
	}

	if resolved || selectedID != "" {
		return changed
	}
	if _, ok := w.session.Identity(); !ok {
		return changed
	}
	invite := w.session.Invite()
	if invite == "" {
		return changed
	}
	p, ok := w.Projects.Get(invite)
	if !ok {
		// Not loaded yet; try again on the next snapshot
		return changed
	}
	if projectID, email, awaiting := w.session.AwaitingUpgrade(); awaiting && projectID == invite {
		if c, found := p.UpgradeCandidate(email); found {
			w.session.Upgrade(c)
		}
	}

	w.mu.Lock()
	if w.selectedID == "" {
		w.selectedID = invite
		w.selected = &p
		changed = true
	}
	w.inviteResolved = true
	w.mu.Unlock()
	return changed
}

// SaveProject stores p and bumps its update time.
func (w *Workspace) SaveProject(p schema.Project) error {
	p.Touch()
	return w.Projects.Save(p)
}

// ArchiveProject soft-deletes a project by setting its status to Archived.
func (w *Workspace) ArchiveProject(projectID string) (schema.Project, error) {
	actor := w.session.Author()
	return w.Projects.update(projectID, session.ActionDelete, func(p *schema.Project) error {
		p.Status = schema.StatusArchived
		p.Log(NewID(), actor.ID, fmt.Sprintf("%s archived the project", actor.Name))
		p.Touch()
		return nil
	})
}

// SaveTask inserts or replaces a task in its project. A task without an
// id gets a new one.
func (w *Workspace) SaveTask(projectID string, t schema.Task) (schema.Task, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	actor := w.session.Author()
	_, err := w.Projects.update(projectID, session.ActionEdit, func(p *schema.Project) error {
		verb := "added"
		if _, exists := p.Task(t.ID); exists {
			verb = "updated"
		}
		p.PutTask(t)
		p.Log(NewID(), actor.ID, fmt.Sprintf("%s %s task %q", actor.Name, verb, t.Title))
		p.Touch()
		return nil
	})
	return t, err
}

// DeleteTask removes a task from its project.
func (w *Workspace) DeleteTask(projectID, taskID string) error {
	actor := w.session.Author()
	_, err := w.Projects.update(projectID, session.ActionEdit, func(p *schema.Project) error {
		t, ok := p.Task(taskID)
		if !ok || !p.RemoveTask(taskID) {
			return fmt.Errorf("%w: task %s", store.ErrNotFound, taskID)
		}
		p.Log(NewID(), actor.ID, fmt.Sprintf("%s deleted task %q", actor.Name, t.Title))
		p.Touch()
		return nil
	})
	return err
}

// AddComment appends a comment by the current identity to a task.
func (w *Workspace) AddComment(projectID, taskID, text string) (schema.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return schema.Comment{}, fmt.Errorf("%w: comment text is required", store.ErrInvalid)
	}
	author := w.session.Author()
	c := schema.Comment{
		ID:             NewID(),
		AuthorID:       author.ID,
		AuthorName:     author.Name,
		AuthorInitials: author.Initials,
		Text:           text,
		CreatedAt:      w.now(),
	}
	_, err := w.Projects.update(projectID, session.ActionComment, func(p *schema.Project) error {
		if err := p.AddComment(taskID, c); err != nil {
			return fmt.Errorf("%w: %v", store.ErrNotFound, err)
		}
		p.Touch()
		return nil
	})
	return c, err
}

// AddCollaborator adds c to a project, or updates the collaborator with
// the same email. It runs against the store directly with a version check,
// so concurrent collaborator changes are never lost.
func (w *Workspace) AddCollaborator(ctx context.Context, projectID string, c schema.Collaborator) (schema.Collaborator, error) {
	if err := w.session.RequireProject(session.ActionManageCollaborators, projectID); err != nil {
		return c, err
	}
	if c.ID == "" {
		c.ID = NewID()
	}
	c.Email = strings.TrimSpace(c.Email)
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}

	actor := w.session.Author()
	_, err := w.modifyProject(ctx, projectID, []string{"collaborators", "activity"}, func(p *schema.Project) error {
		if existing, ok := p.CollaboratorByEmail(c.Email); ok {
			c.ID = existing.ID
		}
		p.PutCollaborator(c)
		p.Log(NewID(), actor.ID, fmt.Sprintf("%s added %s as %s", actor.Name, c.Name, c.Role))
		return nil
	})
	return c, err
}

// RemoveCollaborator removes a collaborator and unassigns them from every
// task of the project.
func (w *Workspace) RemoveCollaborator(ctx context.Context, projectID, collaboratorID string) error {
	if err := w.session.RequireProject(session.ActionManageCollaborators, projectID); err != nil {
		return err
	}
	actor := w.session.Author()
	_, err := w.modifyProject(ctx, projectID, []string{"collaborators", "tasks", "activity"}, func(p *schema.Project) error {
		c, ok := p.Collaborator(collaboratorID)
		if !ok || !p.RemoveCollaborator(collaboratorID) {
			return fmt.Errorf("%w: collaborator %s", store.ErrNotFound, collaboratorID)
		}
		p.Log(NewID(), actor.ID, fmt.Sprintf("%s removed %s", actor.Name, c.Name))
		return nil
	})
	return err
}

// modifyProject reads a project, applies fn and writes back only the named
// fields, guarded by the version it read. Conflicts are retried.
func (w *Workspace) modifyProject(ctx context.Context, projectID string, fields []string, fn func(*schema.Project) error) (schema.Project, error) {
	if err := w.outbox.Flush(ctx); err != nil {
		return schema.Project{}, fmt.Errorf("failed to flush pending writes: %w", err)
	}
	fields = append(fields, "updatedAt")

	for attempt := 0; ; attempt++ {
		doc, err := w.store.Get(ctx, schema.CollectionProjects, projectID)
		if isNotFound(err) {
			return schema.Project{}, fmt.Errorf("project %s: %w", projectID, err)
		}
		if err != nil {
			return schema.Project{}, fmt.Errorf("failed to read project %s: %w", projectID, err)
		}
		var p schema.Project
		if err := store.Decode(*doc, &p); err != nil {
			return schema.Project{}, err
		}
		if err := fn(&p); err != nil {
			return schema.Project{}, err
		}
		p.Touch()

		update, err := pickFields(p, fields)
		if err != nil {
			return schema.Project{}, err
		}
		_, err = w.store.UpdateFields(ctx, schema.CollectionProjects, projectID, update, doc.Version)
		if errors.Is(err, store.ErrConflict) {
			delay, again := casRetry.Delay(attempt, err)
			if !again {
				return schema.Project{}, fmt.Errorf("failed to update project %s: %w", projectID, err)
			}
			w.logger.Printf("Project %s changed concurrently, retrying in %v", projectID, delay.Round(time.Millisecond))
			if err := retry.Sleep(ctx, delay); err != nil {
				return schema.Project{}, err
			}
			continue
		}
		if err != nil {
			return schema.Project{}, fmt.Errorf("failed to update project %s: %w", projectID, err)
		}
		return p, nil
	}
}

// pickFields encodes the named top-level fields of v. Fields omitted by
// the encoder are written as null.
func pickFields(v any, names []string) (map[string]json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	out := make(map[string]json.RawMessage, len(names))
	for _, name := range names {
		if value, ok := all[name]; ok {
			out[name] = value
		} else {
			out[name] = json.RawMessage("null")
		}
	}
	return out, nil
}
