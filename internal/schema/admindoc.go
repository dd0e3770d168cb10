package schema

import (
	"fmt"
	"strings"
)

// AcademicYearDoc is an administrative document filed by folder and academic year.
type AcademicYearDoc struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Folder string `json:"folder"`
	Year   string `json:"year"`
	URL    string `json:"url,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Key returns the document id.
func (d *AcademicYearDoc) Key() string { return d.ID }

// Validate checks if the AcademicYearDoc has valid field values.
func (d *AcademicYearDoc) Validate() error {
	if err := ValidateID(d.ID); err != nil {
		return err
	}
	if strings.TrimSpace(d.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if d.Year == "" {
		return fmt.Errorf("year is required")
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (d *AcademicYearDoc) SetDefaults() {
	if d.Folder == "" {
		d.Folder = "General"
	}
}
