package workspace

import (
	"fmt"
	"time"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// ToggleReminder flips a reminder's completed flag. Local state changes
// right away whatever happens to the write.
func (w *Workspace) ToggleReminder(id string) (schema.Reminder, error) {
	return w.Reminders.Update(id, func(r *schema.Reminder) error {
		r.Completed = !r.Completed
		return nil
	})
}

// ToggleHabit checks a habit in on day, or undoes the check-in, and
// recomputes its streak.
func (w *Workspace) ToggleHabit(id string, day time.Time) (schema.Habit, error) {
	today := w.now()
	return w.Habits.Update(id, func(h *schema.Habit) error {
		h.Toggle(day, today)
		return nil
	})
}

// ToggleMilestone flips a milestone and recomputes the goal's progress.
func (w *Workspace) ToggleMilestone(goalID, milestoneID string) (schema.PersonalGoal, error) {
	return w.Goals.Update(goalID, func(g *schema.PersonalGoal) error {
		for i := range g.Milestones {
			if g.Milestones[i].ID == milestoneID {
				g.Milestones[i].Done = !g.Milestones[i].Done
				g.RecomputeProgress()
				return nil
			}
		}
		return fmt.Errorf("%w: milestone %s", store.ErrNotFound, milestoneID)
	})
}

// PromoteNote copies a journal sticky note into a new idea.
func (w *Workspace) PromoteNote(entryID, noteID string) (schema.Idea, error) {
	entry, ok := w.Journal.Get(entryID)
	if !ok {
		return schema.Idea{}, fmt.Errorf("%w: journal entry %s", store.ErrNotFound, entryID)
	}
	idea, err := entry.PromoteNote(noteID, NewID())
	if err != nil {
		return schema.Idea{}, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	if err := w.Ideas.Save(idea); err != nil {
		return schema.Idea{}, err
	}
	return idea, nil
}
