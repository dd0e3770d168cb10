package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/outbox"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/retry"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/settings"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

func quiet() *log.Logger { return log.New(io.Discard, "", 0) }

func openDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "workspace.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	db.SetLogger(quiet())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newSession(invite string) *session.Session {
	return session.New(&session.Config{Cache: &session.MemoryCache{}, Invite: invite, Logger: quiet()})
}

func ownerSession(t *testing.T) *session.Session {
	t.Helper()
	s := newSession("")
	open := schema.DefaultSettings()
	open.AdminCode = ""
	s.ApplySettings(open)
	require.NoError(t, s.LoginOwner())
	return s
}

func testConfig(s store.Store, sess *session.Session) *Config {
	return &Config{
		Store:   s,
		Session: sess,
		Outbox: &outbox.Config{
			PollInterval: 10 * time.Millisecond,
			Retry:        retry.Fixed{Wait: time.Millisecond, MaxAttempts: 3},
			Logger:       quiet(),
		},
		Logger: quiet(),
	}
}

func newWorkspace(t *testing.T, config *Config) *Workspace {
	t.Helper()
	w := New(config)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func mounted(t *testing.T, s store.Store, sess *session.Session) *Workspace {
	t.Helper()
	w := newWorkspace(t, testConfig(s, sess))
	require.NoError(t, w.Mount())
	return w
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond, msg)
}

func flush(t *testing.T, w *Workspace) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Flush(ctx))
}

func putDoc(t *testing.T, db *store.DB, collection, id string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = db.Upsert(context.Background(), collection, id, data)
	require.NoError(t, err)
}

func sampleProject(id string, collaborators ...schema.Collaborator) schema.Project {
	p := schema.Project{
		ID:            id,
		Title:         "Causal inference survey",
		Status:        schema.StatusActive,
		Collaborators: collaborators,
	}
	p.SetDefaults()
	return p
}

func sampleReminder(id string) schema.Reminder {
	return schema.Reminder{
		ID:    id,
		Title: "Submit abstract",
		Date:  schema.NewTimestamp(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)),
		Type:  schema.ReminderDeadline,
	}
}

func storedReminder(t *testing.T, db *store.DB, id string) (schema.Reminder, bool) {
	t.Helper()
	doc, err := db.Get(context.Background(), schema.CollectionReminders, id)
	if err != nil {
		return schema.Reminder{}, false
	}
	var r schema.Reminder
	require.NoError(t, store.Decode(*doc, &r))
	return r, true
}

// rejectingStore fails every whole-document write permanently.
type rejectingStore struct {
	store.Store
}

func (r rejectingStore) Upsert(ctx context.Context, collection, id string, data json.RawMessage) (int64, error) {
	return 0, fmt.Errorf("%w: rejected by test", store.ErrInvalid)
}

func TestSettingsBootstrap(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	w := mounted(t, db, ownerSession(t))
	eventually(t, func() bool { _, ok := w.Settings(); return ok }, "settings never arrived")

	got, ok := w.Settings()
	require.True(t, ok)
	assert.NotEmpty(t, got.AdminCode)
	assert.Equal(t, schema.DefaultOwnerProfile().Name, got.OwnerProfile.Name)
	require.NoError(t, w.Close())

	// A second load must not recreate it
	w2 := mounted(t, db, ownerSession(t))
	eventually(t, func() bool { _, ok := w2.Settings(); return ok }, "settings never arrived")

	docs, err := db.List(ctx, schema.CollectionSettings)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(1), docs[0].Version)
}

func TestEmptyAdminCodeBypass(t *testing.T) {
	db := openDB(t)
	sess := newSession("")

	w := mounted(t, db, sess)
	eventually(t, func() bool { _, ok := w.Settings(); return ok }, "settings never arrived")
	require.True(t, sess.Locked())

	setStoredAdminCode(t, db, "")
	eventually(t, func() bool { return !sess.Locked() }, "lock not bypassed")
}

func setStoredAdminCode(t *testing.T, db *store.DB, code string) {
	t.Helper()
	fields, err := settings.AdminCodeFields(code)
	require.NoError(t, err)
	_, err = db.UpdateFields(context.Background(), schema.CollectionSettings, schema.SettingsID, fields, 0)
	require.NoError(t, err)
}

func TestSettingsRecreatedWhenDeleted(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	w := mounted(t, db, ownerSession(t))
	eventually(t, func() bool { _, ok := w.Settings(); return ok }, "settings never arrived")

	setStoredAdminCode(t, db, "custom-code")
	eventually(t, func() bool { s, _ := w.Settings(); return s.AdminCode == "custom-code" }, "code change not seen")

	require.NoError(t, db.Delete(ctx, schema.CollectionSettings, schema.SettingsID))
	eventually(t, func() bool {
		got, err := settings.Load(ctx, db)
		return err == nil && got.AdminCode == schema.DefaultAdminCode
	}, "settings not recreated in the store")
	eventually(t, func() bool { s, ok := w.Settings(); return ok && s.AdminCode == schema.DefaultAdminCode }, "local settings still hold the deleted code")

	docs, err := db.List(ctx, schema.CollectionSettings)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSetAdminCode_AppliesLocallyFirst(t *testing.T) {
	db := openDB(t)
	gate := &gatedPatchStore{Store: db, release: make(chan struct{})}
	sess := ownerSession(t)
	w := mounted(t, gate, sess)
	eventually(t, func() bool { _, ok := w.Settings(); return ok }, "settings never arrived")

	require.NoError(t, w.SetAdminCode("rotated"))
	got, ok := w.Settings()
	require.True(t, ok)
	assert.Equal(t, "rotated", got.AdminCode, "local settings change before the store confirms")
	assert.Len(t, w.PendingWrites(), 1)

	close(gate.release)
	flush(t, w)
	stored, err := settings.Load(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "rotated", stored.AdminCode)
	assert.Equal(t, schema.DefaultOwnerProfile().Name, stored.OwnerProfile.Name, "only the code field changes")
}

func TestSetAdminCode_RequiresOwner(t *testing.T) {
	db := openDB(t)
	sess := newSession("p1")
	require.NoError(t, sess.LoginGuest("Ana", "ana@uni.edu", ""))
	w := mounted(t, db, sess)
	assert.ErrorIs(t, w.SetAdminCode("x"), session.ErrForbidden)
}

// gatedPatchStore holds field updates until release is closed.
type gatedPatchStore struct {
	store.Store
	release chan struct{}
}

func (g *gatedPatchStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]json.RawMessage, expectVersion int64) (int64, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	return g.Store.UpdateFields(ctx, collection, id, fields, expectVersion)
}

func TestToggleReminder_RoundTrip(t *testing.T) {
	db := openDB(t)
	w := mounted(t, db, ownerSession(t))
	eventually(t, w.Reminders.Loaded, "reminders never loaded")

	require.NoError(t, w.Reminders.Save(sampleReminder("r1")))
	_, ok := w.Reminders.Get("r1")
	require.True(t, ok, "save is visible before the write lands")
	flush(t, w)

	toggled, err := w.ToggleReminder("r1")
	require.NoError(t, err)
	assert.True(t, toggled.Completed)
	local, _ := w.Reminders.Get("r1")
	assert.True(t, local.Completed, "toggle is applied synchronously")

	flush(t, w)
	stored, ok := storedReminder(t, db, "r1")
	require.True(t, ok)
	assert.True(t, stored.Completed)

	eventually(t, func() bool { return w.Reminders.Version("r1") == 2 }, "snapshot never caught up")
	local, _ = w.Reminders.Get("r1")
	assert.True(t, local.Completed, "snapshot must not flip the toggle back")
}

func TestToggleReminder_FailedWriteKeepsLocalState(t *testing.T) {
	db := openDB(t)
	putDoc(t, db, schema.CollectionReminders, "r1", sampleReminder("r1"))

	failures := make(chan outbox.Write, 1)
	config := testConfig(rejectingStore{Store: db}, ownerSession(t))
	config.OnWriteFailure = func(w outbox.Write, err error) { failures <- w }
	w := newWorkspace(t, config)
	require.NoError(t, w.Mount())
	eventually(t, func() bool { _, ok := w.Reminders.Get("r1"); return ok }, "reminder never loaded")

	_, err := w.ToggleReminder("r1")
	require.NoError(t, err)

	var failed outbox.Write
	select {
	case failed = <-failures:
	case <-time.After(5 * time.Second):
		t.Fatal("write failure not reported")
	}
	local, _ := w.Reminders.Get("r1")
	assert.True(t, local.Completed, "no silent rollback")

	// A later snapshot still carries the failed write
	putDoc(t, db, schema.CollectionReminders, "r2", sampleReminder("r2"))
	eventually(t, func() bool { _, ok := w.Reminders.Get("r2"); return ok }, "second reminder never arrived")
	local, _ = w.Reminders.Get("r1")
	assert.True(t, local.Completed)
	require.Len(t, w.FailedWrites(), 1)

	require.NoError(t, w.DiscardWrite(failed.ID))
	local, _ = w.Reminders.Get("r1")
	assert.False(t, local.Completed, "discard reverts to the stored state")
}

func TestSelection_Idempotent(t *testing.T) {
	db := openDB(t)
	putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1"))
	w := mounted(t, db, ownerSession(t))
	eventually(t, func() bool { _, ok := w.Projects.Get("p1"); return ok }, "project never loaded")

	_, err := w.Select("p1")
	require.NoError(t, err)
	before, ok := w.Selected()
	require.True(t, ok)

	docs, err := db.List(context.Background(), schema.CollectionProjects)
	require.NoError(t, err)
	snap := store.Snapshot{Collection: schema.CollectionProjects, Documents: docs, At: time.Now()}
	w.handleSnapshot(snap)
	w.handleSnapshot(snap)

	after, ok := w.Selected()
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestSelection_FollowsRemoteEdits(t *testing.T) {
	db := openDB(t)
	p := sampleProject("p1")
	putDoc(t, db, schema.CollectionProjects, "p1", p)
	w := mounted(t, db, ownerSession(t))
	eventually(t, func() bool { _, ok := w.Projects.Get("p1"); return ok }, "project never loaded")
	_, err := w.Select("p1")
	require.NoError(t, err)

	p.PutTask(schema.Task{ID: "t1", Title: "Draft intro", Status: schema.TaskTodo, Priority: schema.PriorityHigh})
	putDoc(t, db, schema.CollectionProjects, "p1", p)

	eventually(t, func() bool {
		sel, ok := w.Selected()
		return ok && len(sel.Tasks) == 1
	}, "selected project not refreshed")
}

func TestSelection_DeletedProject(t *testing.T) {
	t.Run("owner keeps stale selection", func(t *testing.T) {
		db := openDB(t)
		putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1"))
		w := mounted(t, db, ownerSession(t))
		eventually(t, func() bool { _, ok := w.Projects.Get("p1"); return ok }, "project never loaded")
		_, err := w.Select("p1")
		require.NoError(t, err)

		require.NoError(t, db.Delete(context.Background(), schema.CollectionProjects, "p1"))
		eventually(t, func() bool { _, ok := w.Projects.Get("p1"); return !ok }, "delete never arrived")
		sel, ok := w.Selected()
		assert.True(t, ok)
		assert.Equal(t, "p1", sel.ID)
	})

	t.Run("guest loses selection", func(t *testing.T) {
		db := openDB(t)
		putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1"))
		sess := newSession("p1")
		require.NoError(t, sess.LoginGuest("Guest", "guest@example.com", ""))
		w := mounted(t, db, sess)
		eventually(t, func() bool { _, ok := w.Selected(); return ok }, "invite never resolved")

		require.NoError(t, db.Delete(context.Background(), schema.CollectionProjects, "p1"))
		eventually(t, func() bool { _, ok := w.Selected(); return !ok }, "selection not cleared")
	})
}

func TestGuestUpgrade(t *testing.T) {
	db := openDB(t)
	editor := schema.Collaborator{ID: "c1", Name: "Ana Pereira", Email: "Ana.Pereira@Uni.edu", Role: schema.RoleEditor}
	putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1", editor))

	sess := newSession("p1")
	require.NoError(t, sess.LoginGuest("Ana", "ana.pereira@uni.edu", ""))
	w := mounted(t, db, sess)

	eventually(t, func() bool { return sess.Role() == schema.RoleEditor }, "guest not upgraded")
	id, _ := sess.Identity()
	assert.Equal(t, session.KindCollaborator, id.Kind)
	assert.Equal(t, "c1", id.Profile.ID)

	sel, ok := w.Selected()
	require.True(t, ok)
	assert.Equal(t, "p1", sel.ID)

	// The upgraded editor may now edit tasks
	_, err := w.SaveTask("p1", schema.Task{Title: "Collect data"})
	assert.NoError(t, err)
}

func TestGuestUpgrade_SkipsGuestRecordWithSameEmail(t *testing.T) {
	db := openDB(t)
	putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1",
		schema.Collaborator{ID: "g1", Name: "Ana", Email: "ana@uni.edu", Role: schema.RoleGuest},
		schema.Collaborator{ID: "c1", Name: "Ana Pereira", Email: "ana@uni.edu", Role: schema.RoleEditor}))

	sess := newSession("p1")
	require.NoError(t, sess.LoginGuest("Ana", "ana@uni.edu", ""))
	mounted(t, db, sess)

	eventually(t, func() bool { return sess.Role() == schema.RoleEditor }, "guest not upgraded")
	id, _ := sess.Identity()
	assert.Equal(t, "c1", id.Profile.ID)
}

func TestUpgradedCollaboratorStaysInInvitedProject(t *testing.T) {
	db := openDB(t)
	editor := schema.Collaborator{ID: "c1", Name: "Ana", Email: "ana@uni.edu", Role: schema.RoleEditor}
	putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1", editor))
	putDoc(t, db, schema.CollectionProjects, "p2", sampleProject("p2"))

	sess := newSession("p1")
	require.NoError(t, sess.LoginGuest("Ana", "ana@uni.edu", ""))
	w := mounted(t, db, sess)
	eventually(t, func() bool { return sess.Role() == schema.RoleEditor }, "guest not upgraded")
	eventually(t, func() bool { _, ok := w.Projects.Get("p2"); return ok }, "p2 never loaded")

	_, err := w.SaveTask("p1", schema.Task{Title: "Collect data"})
	assert.NoError(t, err)
	_, err = w.SaveTask("p2", schema.Task{Title: "Elsewhere"})
	assert.ErrorIs(t, err, session.ErrForbidden)
	_, err = w.Select("p2")
	assert.ErrorIs(t, err, session.ErrForbidden)
}

func TestGuestUpgrade_ProjectArrivesLater(t *testing.T) {
	db := openDB(t)
	sess := newSession("p1")
	w := mounted(t, db, sess)
	eventually(t, w.Projects.Loaded, "projects never loaded")

	require.NoError(t, w.LoginGuest("Ana", "ana@uni.edu", ""))
	assert.Equal(t, schema.RoleGuest, sess.Role())

	putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1",
		schema.Collaborator{ID: "c1", Name: "Ana", Email: "ANA@uni.edu", Role: schema.RoleViewer}))

	eventually(t, func() bool { return sess.Role() == schema.RoleViewer }, "guest not upgraded")
	_, ok := w.Selected()
	assert.True(t, ok)
}

func TestGuestWithoutMatch(t *testing.T) {
	db := openDB(t)
	p := sampleProject("p1")
	p.PutTask(schema.Task{ID: "t1", Title: "Draft intro", Status: schema.TaskTodo, Priority: schema.PriorityLow})
	putDoc(t, db, schema.CollectionProjects, "p1", p)

	sess := newSession("p1")
	require.NoError(t, sess.LoginGuest("Visitor", "visitor@example.com", ""))
	w := mounted(t, db, sess)
	eventually(t, func() bool { _, ok := w.Selected(); return ok }, "invite never resolved")
	assert.Equal(t, schema.RoleGuest, sess.Role())

	c, err := w.AddComment("p1", "t1", "Looks good")
	require.NoError(t, err)
	assert.Equal(t, "Visitor", c.AuthorName)
	assert.Equal(t, "V", c.AuthorInitials)

	_, err = w.SaveTask("p1", schema.Task{Title: "Sneaky"})
	assert.ErrorIs(t, err, session.ErrForbidden)
	assert.ErrorIs(t, w.Reminders.Save(sampleReminder("r1")), session.ErrForbidden)
}

func TestTasksAndComments(t *testing.T) {
	db := openDB(t)
	putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1"))
	w := mounted(t, db, ownerSession(t))
	eventually(t, func() bool { _, ok := w.Projects.Get("p1"); return ok }, "project never loaded")

	task, err := w.SaveTask("p1", schema.Task{Title: "Draft intro"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, schema.TaskTodo, task.Status)

	comment, err := w.AddComment("p1", task.ID, "First pass done")
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultOwnerProfile().Name, comment.AuthorName)

	p, ok := w.Projects.Get("p1")
	require.True(t, ok)
	got, ok := p.Task(task.ID)
	require.True(t, ok)
	require.Len(t, got.Comments, 1)
	assert.NotEmpty(t, p.Activity)

	_, err = w.AddComment("p1", task.ID, "   ")
	assert.ErrorIs(t, err, store.ErrInvalid)
	_, err = w.AddComment("p1", "missing", "hello")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, w.DeleteTask("p1", "missing"), store.ErrNotFound)

	require.NoError(t, w.DeleteTask("p1", task.ID))
	flush(t, w)

	doc, err := db.Get(context.Background(), schema.CollectionProjects, "p1")
	require.NoError(t, err)
	var stored schema.Project
	require.NoError(t, store.Decode(*doc, &stored))
	assert.Empty(t, stored.Tasks)
	assert.Len(t, stored.Activity, 2)
}

func TestArchiveProject(t *testing.T) {
	db := openDB(t)
	putDoc(t, db, schema.CollectionProjects, "p1", sampleProject("p1"))
	w := mounted(t, db, ownerSession(t))
	eventually(t, func() bool { _, ok := w.Projects.Get("p1"); return ok }, "project never loaded")

	p, err := w.ArchiveProject("p1")
	require.NoError(t, err)
	assert.Equal(t, schema.StatusArchived, p.Status)

	local, ok := w.Projects.Get("p1")
	require.True(t, ok, "archiving never deletes")
	assert.Equal(t, schema.StatusArchived, local.Status)
}

func TestCollaborators(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	p := sampleProject("p1")
	putDoc(t, db, schema.CollectionProjects, "p1", p)
	w := mounted(t, db, ownerSession(t))

	bo, err := w.AddCollaborator(ctx, "p1", schema.Collaborator{Name: "Bo Chen", Email: "bo@uni.edu", Role: schema.RoleEditor})
	require.NoError(t, err)
	assert.NotEmpty(t, bo.ID)
	assert.Equal(t, "BC", bo.Initials)

	// Same email updates in place and keeps the id
	again, err := w.AddCollaborator(ctx, "p1", schema.Collaborator{Name: "Bo Chen", Email: "BO@uni.edu", Role: schema.RoleViewer})
	require.NoError(t, err)
	assert.Equal(t, bo.ID, again.ID)

	// Concurrent additions are never lost
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.AddCollaborator(ctx, "p1", schema.Collaborator{
				Name:  fmt.Sprintf("Person %d", i),
				Email: fmt.Sprintf("person%d@uni.edu", i),
				Role:  schema.RoleViewer,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	doc, err := db.Get(ctx, schema.CollectionProjects, "p1")
	require.NoError(t, err)
	var stored schema.Project
	require.NoError(t, store.Decode(*doc, &stored))
	assert.Len(t, stored.Collaborators, 5)
	assert.Equal(t, "Causal inference survey", stored.Title, "only collaborator fields are written")

	_, err = w.AddCollaborator(ctx, "p1", schema.Collaborator{Name: "", Role: schema.RoleEditor})
	assert.ErrorIs(t, err, store.ErrInvalid)
	_, err = w.AddCollaborator(ctx, "missing", schema.Collaborator{Name: "X", Role: schema.RoleEditor})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemoveCollaborator_Unassigns(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	p := sampleProject("p1", schema.Collaborator{ID: "c1", Name: "Bo", Role: schema.RoleEditor})
	p.PutTask(schema.Task{ID: "t1", Title: "Analyse", Status: schema.TaskTodo, Priority: schema.PriorityMedium, AssigneeIDs: []string{"c1"}})
	putDoc(t, db, schema.CollectionProjects, "p1", p)
	w := mounted(t, db, ownerSession(t))

	require.NoError(t, w.RemoveCollaborator(ctx, "p1", "c1"))
	assert.ErrorIs(t, w.RemoveCollaborator(ctx, "p1", "c1"), store.ErrNotFound)

	eventually(t, func() bool {
		local, ok := w.Projects.Get("p1")
		return ok && len(local.Collaborators) == 0
	}, "removal never arrived")
	local, _ := w.Projects.Get("p1")
	task, _ := local.Task("t1")
	assert.Empty(t, task.AssigneeIDs)
	assert.Equal(t, schema.UnknownAssignee, local.AssigneeName("c1"))
}

func TestToggleHabit(t *testing.T) {
	db := openDB(t)
	today := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	config := testConfig(db, ownerSession(t))
	config.Now = func() time.Time { return today }
	w := newWorkspace(t, config)
	require.NoError(t, w.Mount())

	require.NoError(t, w.Habits.Save(schema.Habit{ID: "h1", Title: "Read papers", History: []string{"2024-03-08", "2024-03-09"}}))

	h, err := w.ToggleHabit("h1", today)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Streak)

	h, err = w.ToggleHabit("h1", today)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Streak)
	assert.False(t, h.Done(today))

	_, err = w.ToggleHabit("missing", today)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGoalsAndJournal(t *testing.T) {
	db := openDB(t)
	w := mounted(t, db, ownerSession(t))

	require.NoError(t, w.Goals.Save(schema.PersonalGoal{
		ID:    "g1",
		Title: "Finish thesis",
		Milestones: []schema.Milestone{
			{ID: "m1", Title: "Outline"},
			{ID: "m2", Title: "Draft"},
		},
	}))
	g, err := w.ToggleMilestone("g1", "m1")
	require.NoError(t, err)
	assert.Equal(t, 50, g.Progress)
	_, err = w.ToggleMilestone("g1", "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, w.Journal.Save(schema.JournalEntry{
		ID:          "j1",
		Date:        "2024-03-01",
		StickyNotes: []schema.StickyNote{{ID: "n1", Text: "Try synthetic controls"}},
	}))
	idea, err := w.PromoteNote("j1", "n1")
	require.NoError(t, err)
	stored, ok := w.Ideas.Get(idea.ID)
	require.True(t, ok)
	assert.Equal(t, "Try synthetic controls", stored.Title)
}

func TestLockedSessionCannotWrite(t *testing.T) {
	db := openDB(t)
	w := mounted(t, db, newSession(""))
	assert.ErrorIs(t, w.Reminders.Save(sampleReminder("r1")), session.ErrLocked)
	_, err := w.Select("p1")
	assert.ErrorIs(t, err, session.ErrLocked)
}

func TestValidationBeforeWrite(t *testing.T) {
	db := openDB(t)
	w := mounted(t, db, ownerSession(t))

	bad := sampleReminder("r1")
	bad.Title = ""
	assert.ErrorIs(t, w.Reminders.Save(bad), store.ErrInvalid)
	assert.Empty(t, w.PendingWrites())
}

func TestUndecodableDocumentsAreSkipped(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	_, err := db.Upsert(ctx, schema.CollectionReminders, "bad", json.RawMessage(`{"id":"bad","date":{"foo":1}}`))
	require.NoError(t, err)
	putDoc(t, db, schema.CollectionReminders, "ok", sampleReminder("ok"))

	w := mounted(t, db, ownerSession(t))
	eventually(t, w.Reminders.Loaded, "reminders never loaded")
	assert.Equal(t, 1, w.Reminders.Len())
	_, ok := w.Reminders.Get("ok")
	assert.True(t, ok)
}

func TestDisconnected(t *testing.T) {
	w := newWorkspace(t, testConfig(nil, ownerSession(t)))
	require.NoError(t, w.Mount())
	assert.False(t, w.Connected())

	require.NoError(t, w.Reminders.Save(sampleReminder("r1")))
	_, ok := w.Reminders.Get("r1")
	assert.True(t, ok, "local state works without a store")
	assert.False(t, w.Reminders.Loaded())
}

func TestUpdateOwnerProfile(t *testing.T) {
	db := openDB(t)
	sess := ownerSession(t)
	w := mounted(t, db, sess)
	eventually(t, func() bool { _, ok := w.Settings(); return ok }, "settings never arrived")

	require.NoError(t, w.UpdateOwnerProfile(schema.Collaborator{Name: "Dr. Le", Email: "le@uni.edu"}))
	id, _ := sess.Identity()
	assert.Equal(t, "Dr. Le", id.Profile.Name)
	assert.Equal(t, "DL", id.Profile.Initials)
	flush(t, w)

	got, err := settings.Load(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "le@uni.edu", got.OwnerProfile.Email)
}

func TestMountAndClose(t *testing.T) {
	db := openDB(t)
	var changes atomic.Int32
	config := testConfig(db, ownerSession(t))
	config.OnChange = func(Change) { changes.Add(1) }
	w := newWorkspace(t, config)

	assert.Error(t, w.Mount("nope"))
	require.NoError(t, w.Mount(schema.CollectionIdeas))
	require.NoError(t, w.Mount(schema.CollectionIdeas))
	assert.True(t, w.Mounted(schema.CollectionIdeas))
	eventually(t, w.Ideas.Loaded, "ideas never loaded")
	assert.Equal(t, 1, db.Subscribers(schema.CollectionIdeas), "remount replaces the subscription")

	w.Unmount(schema.CollectionIdeas)
	assert.False(t, w.Mounted(schema.CollectionIdeas))
	eventually(t, func() bool { return changes.Load() > 0 }, "no change notifications")

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Mount())
}
