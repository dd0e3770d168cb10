package schema

import (
	"fmt"
	"strings"
	"time"
)

// Idea is a free-form entry on the idea board. It may be promoted from a
// journal note.
type Idea struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	Content          string    `json:"content,omitempty"`
	RelatedResources []Link    `json:"relatedResources,omitempty"`
	AIEnhanced       bool      `json:"aiEnhanced"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Key returns the document id.
func (i *Idea) Key() string { return i.ID }

// Validate checks if the Idea has valid field values.
func (i *Idea) Validate() error {
	if err := ValidateID(i.ID); err != nil {
		return err
	}
	if strings.TrimSpace(i.Title) == "" {
		return fmt.Errorf("title is required")
	}
	for _, r := range i.RelatedResources {
		if strings.TrimSpace(r.Title) == "" && strings.TrimSpace(r.URL) == "" {
			return fmt.Errorf("resource needs a title or url")
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (i *Idea) SetDefaults() {
	now := time.Now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = now
	}
}
