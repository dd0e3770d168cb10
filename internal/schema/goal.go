package schema

import (
	"fmt"
	"strings"
	"time"
)

// Milestone is a step toward a personal goal.
type Milestone struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	Done    bool       `json:"done"`
	DueDate *time.Time `json:"dueDate,omitempty"`
}

// PersonalGoal is a long-running personal objective.
type PersonalGoal struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Category   string      `json:"category,omitempty"`
	Deadline   *time.Time  `json:"deadline,omitempty"`
	Milestones []Milestone `json:"milestones,omitempty"`
	Progress   int         `json:"progress"`
}

// Key returns the document id.
func (g *PersonalGoal) Key() string { return g.ID }

// Validate checks if the PersonalGoal has valid field values.
func (g *PersonalGoal) Validate() error {
	if err := ValidateID(g.ID); err != nil {
		return err
	}
	if strings.TrimSpace(g.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if g.Progress < 0 || g.Progress > 100 {
		return fmt.Errorf("progress must be between 0 and 100 (got %d)", g.Progress)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (g *PersonalGoal) SetDefaults() {
	if g.Category == "" {
		g.Category = "personal"
	}
}

// RecomputeProgress sets Progress to the share of completed milestones.
// Goals without milestones keep their manual progress.
func (g *PersonalGoal) RecomputeProgress() {
	if len(g.Milestones) == 0 {
		return
	}
	done := 0
	for _, m := range g.Milestones {
		if m.Done {
			done++
		}
	}
	g.Progress = done * 100 / len(g.Milestones)
}
