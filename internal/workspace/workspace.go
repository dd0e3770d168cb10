// Package workspace is the client-side model of ResearchNexus: typed local
// state for every collection, kept live by store subscriptions and changed
// through optimistic writes.
//
// Local state of a collection is always the latest snapshot with the
// outbox overlay applied. A Save therefore shows up immediately, survives
// snapshots that race it, and disappears only if the user discards the
// failed write.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/outbox"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/settings"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// Change describes a local state change.
type Change struct {
	// Collection whose local state changed; empty for selection-only changes
	Collection string

	// Selection is set when the selected project changed
	Selection bool
}

// Config holds configuration for a workspace.
type Config struct {
	// Store is the live collection store; nil means disconnected
	Store store.Store

	// Session is the lock and identity state; nil creates a locked one
	Session *session.Session

	// Outbox configures the write queue; nil uses outbox defaults
	Outbox *outbox.Config

	// OnChange is called after local state changes, without locks held
	OnChange func(Change)

	// OnWriteFailure is called when a write needs user action
	OnWriteFailure func(outbox.Write, error)

	// Now returns the current time (habit streaks)
	Now func() time.Time

	// Logger for workspace activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Now:    time.Now,
		Logger: log.New(os.Stderr, "[workspace] ", log.LstdFlags),
	}
}

type applier interface {
	Name() string
	Loaded() bool
	apply(docs []store.Document, loaded bool)
}

// Workspace is the local state of one user session.
type Workspace struct {
	Projects  *Collection[schema.Project, *schema.Project]
	Ideas     *Collection[schema.Idea, *schema.Idea]
	Reminders *Collection[schema.Reminder, *schema.Reminder]
	Courses   *Collection[schema.Course, *schema.Course]
	Goals     *Collection[schema.PersonalGoal, *schema.PersonalGoal]
	Habits    *Collection[schema.Habit, *schema.Habit]
	Journal   *Collection[schema.JournalEntry, *schema.JournalEntry]
	AdminDocs *Collection[schema.AcademicYearDoc, *schema.AcademicYearDoc]

	store    store.Store
	session  *session.Session
	outbox   *outbox.Queue
	logger   *log.Logger
	now      func() time.Time
	onChange func(Change)
	onFail   func(outbox.Write, error)

	collections map[string]applier

	// refreshMu serializes overlay + apply so a stale refresh never lands
	// after a newer one
	refreshMu sync.Mutex

	mu             sync.Mutex
	subs           map[string]store.Unsubscribe
	last           map[string][]store.Document
	settings       *schema.SystemSettings
	selectedID     string
	selected       *schema.Project
	inviteResolved bool
	closed         bool
}

// New creates a workspace and starts its write queue. Call Mount to begin
// receiving snapshots.
func New(config *Config) *Workspace {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}
	s := config.Store
	if s == nil {
		s = store.NewDisconnected("no store configured", config.Logger)
	}
	sess := config.Session
	if sess == nil {
		sess = session.New(nil)
	}

	w := &Workspace{
		store:       s,
		session:     sess,
		logger:      config.Logger,
		now:         config.Now,
		onChange:    config.OnChange,
		onFail:      config.OnWriteFailure,
		collections: make(map[string]applier),
		subs:        make(map[string]store.Unsubscribe),
		last:        make(map[string][]store.Document),
	}

	var qc outbox.Config
	if config.Outbox != nil {
		qc = *config.Outbox
	} else {
		qc = *outbox.DefaultConfig()
	}
	qc.OnFailure = w.writeFailed
	w.outbox = outbox.New(s, &qc)

	w.Projects = register(w, newCollection[schema.Project](w, schema.CollectionProjects))
	w.Ideas = register(w, newCollection[schema.Idea](w, schema.CollectionIdeas))
	w.Reminders = register(w, newCollection[schema.Reminder](w, schema.CollectionReminders))
	w.Courses = register(w, newCollection[schema.Course](w, schema.CollectionCourses))
	w.Goals = register(w, newCollection[schema.PersonalGoal](w, schema.CollectionPersonalGoals))
	w.Habits = register(w, newCollection[schema.Habit](w, schema.CollectionHabits))
	w.Journal = register(w, newCollection[schema.JournalEntry](w, schema.CollectionJournalEntries))
	w.AdminDocs = register(w, newCollection[schema.AcademicYearDoc](w, schema.CollectionAdminDocs))

	w.outbox.Start()
	return w
}

func register[C applier](w *Workspace, c C) C {
	w.collections[c.Name()] = c
	return c
}

// NewID returns a fresh document id.
func NewID() string {
	return uuid.NewString()
}

// Session returns the session the workspace acts for.
func (w *Workspace) Session() *session.Session { return w.session }

// Store returns the underlying store.
func (w *Workspace) Store() store.Store { return w.store }

// Connected reports whether the store is reachable.
func (w *Workspace) Connected() bool { return w.store.Connected() }

// Settings returns the settings from the latest snapshot.
func (w *Workspace) Settings() (schema.SystemSettings, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.settings == nil {
		return schema.SystemSettings{}, false
	}
	return *w.settings, true
}

// Loaded reports whether a snapshot of collection has been applied.
func (w *Workspace) Loaded(collection string) bool {
	if collection == schema.CollectionSettings {
		_, ok := w.Settings()
		return ok
	}
	c, ok := w.collections[collection]
	return ok && c.Loaded()
}

// PendingWrites returns the queued writes.
func (w *Workspace) PendingWrites() []outbox.Write { return w.outbox.Pending() }

// FailedWrites returns the writes waiting for Retry or Discard.
func (w *Workspace) FailedWrites() []outbox.Write { return w.outbox.Failed() }

// RetryWrite requeues a failed write.
func (w *Workspace) RetryWrite(id string) error { return w.outbox.Retry(id) }

// DiscardWrite drops a failed write and reverts the document to the
// store's state.
func (w *Workspace) DiscardWrite(id string) error {
	var collection string
	for _, f := range w.outbox.Failed() {
		if f.ID == id {
			collection = f.Collection
		}
	}
	if err := w.outbox.Discard(id); err != nil {
		return err
	}
	w.refresh(collection)
	return nil
}

// Flush waits until every queued write has been applied or has failed.
func (w *Workspace) Flush(ctx context.Context) error {
	return w.outbox.Flush(ctx)
}

// SetAdminCode changes the admin code. An empty code disables the lock.
// Local settings change at once; the field update is queued.
func (w *Workspace) SetAdminCode(code string) error {
	if err := w.session.Require(session.ActionAdminister, session.ResourceSettings); err != nil {
		return err
	}
	fields, err := settings.AdminCodeFields(code)
	if err != nil {
		return err
	}
	return w.patchSettings(fields)
}

// UpdateOwnerProfile replaces the owner profile on the settings singleton
// so every device converges on it.
func (w *Workspace) UpdateOwnerProfile(profile schema.Collaborator) error {
	if err := w.session.Require(session.ActionAdminister, session.ResourceSettings); err != nil {
		return err
	}
	fields, err := settings.OwnerProfileFields(profile)
	if err != nil {
		return err
	}
	return w.patchSettings(fields)
}

func (w *Workspace) patchSettings(fields map[string]json.RawMessage) error {
	if _, ok := w.Settings(); !ok {
		return fmt.Errorf("%w: settings not loaded yet", store.ErrNotFound)
	}
	w.outbox.Patch(schema.CollectionSettings, schema.SettingsID, fields)
	w.refreshSettings()
	return nil
}

// Logout resets the session and all navigation state.
func (w *Workspace) Logout() error {
	err := w.session.Logout()
	w.mu.Lock()
	w.selectedID = ""
	w.selected = nil
	w.inviteResolved = false
	w.mu.Unlock()
	w.notify(Change{Selection: true})
	return err
}

// Close unsubscribes every collection and stops the write queue. Writes
// still queued are logged and dropped; call Flush first to drain them.
func (w *Workspace) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	subs := w.subs
	w.subs = make(map[string]store.Unsubscribe)
	w.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
	w.outbox.Stop()
	if n := len(w.outbox.Pending()); n > 0 {
		w.logger.Printf("Warning: closing with %d unsent write(s)", n)
	}
	return nil
}

func (w *Workspace) writeFailed(write outbox.Write, err error) {
	w.logger.Printf("Write to %s needs attention: %v", write.Key(), err)
	if w.onFail != nil {
		w.onFail(write, err)
	}
}

func (w *Workspace) notify(c Change) {
	if w.onChange != nil {
		w.onChange(c)
	}
}

// refresh recomputes the local state of collection from the latest
// snapshot and the outbox overlay.
func (w *Workspace) refresh(collection string) {
	if collection == schema.CollectionSettings {
		w.refreshSettings()
		return
	}
	c, ok := w.collections[collection]
	if !ok {
		return
	}

	w.refreshMu.Lock()
	w.mu.Lock()
	last, seen := w.last[collection]
	w.mu.Unlock()
	c.apply(w.outbox.Overlay(collection, last), seen)
	selectionChanged := false
	if collection == schema.CollectionProjects {
		selectionChanged = w.reconcileSelection()
	}
	w.refreshMu.Unlock()

	w.notify(Change{Collection: collection, Selection: selectionChanged})
}

// handleSnapshot is the subscription callback for every collection.
func (w *Workspace) handleSnapshot(snap store.Snapshot) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.last[snap.Collection] = snap.Documents
	w.mu.Unlock()

	if snap.Collection == schema.CollectionSettings {
		w.refreshSettings()
		return
	}
	w.refresh(snap.Collection)
}

// refreshSettings recomputes the settings from the latest snapshot and the
// outbox overlay. A missing singleton is created again from defaults; the
// create is a no-op if another client got there first.
func (w *Workspace) refreshSettings() {
	w.refreshMu.Lock()
	w.mu.Lock()
	last, seen := w.last[schema.CollectionSettings]
	w.mu.Unlock()
	doc, ok := store.Snapshot{Documents: w.outbox.Overlay(schema.CollectionSettings, last)}.Find(schema.SettingsID)

	var current *schema.SystemSettings
	if ok {
		decoded, err := settings.Decode(doc)
		if err != nil {
			w.refreshMu.Unlock()
			w.logger.Printf("Ignoring settings snapshot: %v", err)
			return
		}
		current = &decoded
	}
	w.mu.Lock()
	hadSettings := w.settings != nil
	w.settings = current
	w.mu.Unlock()
	if current != nil {
		w.session.ApplySettings(*current)
	}
	w.refreshMu.Unlock()

	if current != nil || hadSettings {
		w.notify(Change{Collection: schema.CollectionSettings})
	}
	if current == nil && seen {
		w.bootstrapSettings()
	}
}

func (w *Workspace) bootstrapSettings() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	created, err := settings.Bootstrap(ctx, w.store, schema.DefaultSettings())
	if err != nil {
		w.logger.Printf("Failed to bootstrap settings: %v", err)
		return
	}
	if created {
		w.logger.Printf("Created default settings")
	}
}

// isNotFound reports whether err means the document is gone.
func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
