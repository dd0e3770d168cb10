package schema

import (
	"fmt"
	"strings"
)

// Session is one weekly meeting slot of a course.
type Session struct {
	Day   string `json:"day"`
	Start string `json:"start"`
	End   string `json:"end"`
	Room  string `json:"room,omitempty"`
}

// Course is a teaching course.
type Course struct {
	ID       string    `json:"id"`
	Code     string    `json:"code,omitempty"`
	Title    string    `json:"title"`
	Semester string    `json:"semester,omitempty"`
	Schedule []Session `json:"schedule,omitempty"`
	Notes    string    `json:"notes,omitempty"`
	Status   string    `json:"status"`
}

// Key returns the document id.
func (c *Course) Key() string { return c.ID }

// Validate checks if the Course has valid field values.
func (c *Course) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return err
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("title is required")
	}
	for _, s := range c.Schedule {
		if s.Day == "" {
			return fmt.Errorf("schedule entry needs a day")
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Course) SetDefaults() {
	if c.Status == "" {
		c.Status = "active"
	}
}
