package schema

import (
	"fmt"
	"strings"
	"time"
)

// Role is a collaborator's access level on a project.
type Role string

const (
	RoleOwner  Role = "Owner"
	RoleEditor Role = "Editor"
	RoleViewer Role = "Viewer"
	RoleGuest  Role = "Guest"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer, RoleGuest:
		return true
	}
	return false
}

// ProjectStatus is the lifecycle state of a project.
// Archived is a soft delete; hard deletes remove the document.
type ProjectStatus string

const (
	StatusPlanning  ProjectStatus = "Planning"
	StatusActive    ProjectStatus = "Active"
	StatusReview    ProjectStatus = "Review"
	StatusCompleted ProjectStatus = "Completed"
	StatusPaused    ProjectStatus = "Paused"
	StatusArchived  ProjectStatus = "Archived"
)

// IsValid reports whether s is a known project status.
func (s ProjectStatus) IsValid() bool {
	switch s {
	case StatusPlanning, StatusActive, StatusReview, StatusCompleted, StatusPaused, StatusArchived:
		return true
	}
	return false
}

// Task status and priority values.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskDone       = "done"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Project categories.
const (
	CategoryResearch = "research"
	CategoryAdmin    = "admin"
)

// UnknownAssignee is displayed for an assignee id with no matching collaborator.
const UnknownAssignee = "Unknown"

// Collaborator is a person with access to a project.
// Persisted copies live embedded in each project.
type Collaborator struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
	Role     Role   `json:"role" yaml:"role"`
	Initials string `json:"initials,omitempty" yaml:"initials,omitempty"`
}

// Validate checks if the Collaborator has valid field values.
func (c *Collaborator) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("collaborator id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("collaborator name is required")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("invalid collaborator role: %q", c.Role)
	}
	return nil
}

// SetDefaults fills initials from the name when missing.
func (c *Collaborator) SetDefaults() {
	if c.Initials == "" {
		c.Initials = Initials(c.Name)
	}
	if c.Role == "" {
		c.Role = RoleViewer
	}
}

// SameEmail compares emails case-insensitively; empty never matches.
func SameEmail(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// Comment is a note left on a task. The author fields are a snapshot of the
// commenter's identity at the time of writing.
type Comment struct {
	ID             string    `json:"id"`
	AuthorID       string    `json:"authorId"`
	AuthorName     string    `json:"authorName"`
	AuthorInitials string    `json:"authorInitials,omitempty"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Task is a work item nested inside exactly one project.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	AssigneeIDs []string   `json:"assigneeIds,omitempty"`
	Comments    []Comment  `json:"comments,omitempty"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task title is required")
	}
	switch t.Status {
	case TaskTodo, TaskInProgress, TaskDone:
	default:
		return fmt.Errorf("invalid task status: %q", t.Status)
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return fmt.Errorf("invalid task priority: %q", t.Priority)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (t *Task) SetDefaults() {
	if t.Status == "" {
		t.Status = TaskTodo
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
}

// Link is a paper or file reference attached to a project or idea.
type Link struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Activity is one entry of a project's activity feed.
type Activity struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actorId,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Project is the research/admin project aggregate.
type Project struct {
	ID            string         `json:"id"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Status        ProjectStatus  `json:"status"`
	Progress      int            `json:"progress"`
	Tags          []string       `json:"tags,omitempty"`
	Papers        []Link         `json:"papers,omitempty"`
	Files         []Link         `json:"files,omitempty"`
	Collaborators []Collaborator `json:"collaborators,omitempty"`
	Tasks         []Task         `json:"tasks,omitempty"`
	Activity      []Activity     `json:"activity,omitempty"`
	Category      string         `json:"category"`
	OwnerID       string         `json:"ownerId,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// Key returns the document id.
func (p *Project) Key() string { return p.ID }

// Validate checks if the Project has valid field values.
func (p *Project) Validate() error {
	if err := ValidateID(p.ID); err != nil {
		return err
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(p.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(p.Title))
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", p.Status)
	}
	if p.Progress < 0 || p.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d)", p.Progress)
	}
	if p.Category != CategoryResearch && p.Category != CategoryAdmin {
		return fmt.Errorf("invalid category: %q", p.Category)
	}
	for i := range p.Collaborators {
		if err := p.Collaborators[i].Validate(); err != nil {
			return err
		}
	}
	for i := range p.Tasks {
		if err := p.Tasks[i].Validate(); err != nil {
			return fmt.Errorf("task %s: %w", p.Tasks[i].ID, err)
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (p *Project) SetDefaults() {
	if p.Status == "" {
		p.Status = StatusPlanning
	}
	if p.Category == "" {
		p.Category = CategoryResearch
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	for i := range p.Collaborators {
		p.Collaborators[i].SetDefaults()
	}
	for i := range p.Tasks {
		p.Tasks[i].SetDefaults()
	}
}

// Touch sets UpdatedAt to the current time.
func (p *Project) Touch() {
	p.UpdatedAt = time.Now()
}

// Task returns a copy of the task with the given id.
func (p *Project) Task(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// PutTask inserts or replaces a task by id.
func (p *Project) PutTask(t Task) {
	for i := range p.Tasks {
		if p.Tasks[i].ID == t.ID {
			p.Tasks[i] = t
			return
		}
	}
	p.Tasks = append(p.Tasks, t)
}

// RemoveTask deletes the task with the given id. Returns false if absent.
func (p *Project) RemoveTask(id string) bool {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			p.Tasks = append(p.Tasks[:i], p.Tasks[i+1:]...)
			return true
		}
	}
	return false
}

// AddComment appends a comment to the given task.
func (p *Project) AddComment(taskID string, c Comment) error {
	for i := range p.Tasks {
		if p.Tasks[i].ID == taskID {
			p.Tasks[i].Comments = append(p.Tasks[i].Comments, c)
			return nil
		}
	}
	return fmt.Errorf("task %s not found in project %s", taskID, p.ID)
}

// Collaborator returns the collaborator with the given id.
func (p *Project) Collaborator(id string) (Collaborator, bool) {
	for _, c := range p.Collaborators {
		if c.ID == id {
			return c, true
		}
	}
	return Collaborator{}, false
}

// CollaboratorByEmail finds a collaborator by case-insensitive email.
func (p *Project) CollaboratorByEmail(email string) (Collaborator, bool) {
	for _, c := range p.Collaborators {
		if SameEmail(c.Email, email) {
			return c, true
		}
	}
	return Collaborator{}, false
}

// UpgradeCandidate finds the first collaborator with a matching email and a
// role above Guest. Guest records sharing the email are skipped.
func (p *Project) UpgradeCandidate(email string) (Collaborator, bool) {
	for _, c := range p.Collaborators {
		if SameEmail(c.Email, email) && c.Role != RoleGuest && c.Role.IsValid() {
			return c, true
		}
	}
	return Collaborator{}, false
}

// PutCollaborator inserts or replaces a collaborator, matching by id or email.
func (p *Project) PutCollaborator(c Collaborator) {
	for i := range p.Collaborators {
		if p.Collaborators[i].ID == c.ID || SameEmail(p.Collaborators[i].Email, c.Email) {
			p.Collaborators[i] = c
			return
		}
	}
	p.Collaborators = append(p.Collaborators, c)
}

// RemoveCollaborator removes a collaborator and unassigns them from every
// task. Returns false if absent.
func (p *Project) RemoveCollaborator(id string) bool {
	found := false
	for i := range p.Collaborators {
		if p.Collaborators[i].ID == id {
			p.Collaborators = append(p.Collaborators[:i], p.Collaborators[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for i := range p.Tasks {
		var ids []string
		for _, a := range p.Tasks[i].AssigneeIDs {
			if a != id {
				ids = append(ids, a)
			}
		}
		p.Tasks[i].AssigneeIDs = ids
	}
	return true
}

// AssigneeName resolves an assignee id against the collaborator list.
// The collaborator list is the only authority for assignment.
func (p *Project) AssigneeName(id string) string {
	if c, ok := p.Collaborator(id); ok {
		return c.Name
	}
	return UnknownAssignee
}

// Log appends an activity entry.
func (p *Project) Log(id, actorID, message string) {
	p.Activity = append(p.Activity, Activity{
		ID:        id,
		ActorID:   actorID,
		Message:   message,
		CreatedAt: time.Now(),
	})
}
