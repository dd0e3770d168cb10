package schema

import (
	"fmt"
	"time"
)

// StickyNote is a short note pinned to a journal entry.
type StickyNote struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// JournalEntry is one day of the journal.
type JournalEntry struct {
	ID          string       `json:"id"`
	Date        string       `json:"date"`
	Content     string       `json:"content,omitempty"`
	Mood        string       `json:"mood,omitempty"`
	StickyNotes []StickyNote `json:"stickyNotes,omitempty"`
}

// Key returns the document id.
func (j *JournalEntry) Key() string { return j.ID }

// Validate checks if the JournalEntry has valid field values.
func (j *JournalEntry) Validate() error {
	if err := ValidateID(j.ID); err != nil {
		return err
	}
	if _, err := time.Parse(DayLayout, j.Date); err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD (got %q)", j.Date)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (j *JournalEntry) SetDefaults() {
	if j.Date == "" {
		j.Date = time.Now().Format(DayLayout)
	}
}

// PromoteNote turns a sticky note into a new idea.
func (j *JournalEntry) PromoteNote(noteID, ideaID string) (Idea, error) {
	for _, n := range j.StickyNotes {
		if n.ID == noteID {
			idea := Idea{
				ID:      ideaID,
				Title:   n.Text,
				Content: fmt.Sprintf("Promoted from journal %s", j.Date),
			}
			idea.SetDefaults()
			return idea, nil
		}
	}
	return Idea{}, fmt.Errorf("sticky note %s not found in entry %s", noteID, j.ID)
}
