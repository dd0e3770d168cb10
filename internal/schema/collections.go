package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// Collection names used by the live store.
const (
	CollectionProjects       = "projects"
	CollectionIdeas          = "ideas"
	CollectionReminders      = "reminders"
	CollectionSettings       = "settings"
	CollectionCourses        = "courses"
	CollectionPersonalGoals  = "personal_goals"
	CollectionHabits         = "habits"
	CollectionJournalEntries = "journal_entries"
	CollectionAdminDocs      = "admin_docs"
)

// Collections lists every collection in mount order.
var Collections = []string{
	CollectionProjects,
	CollectionIdeas,
	CollectionReminders,
	CollectionSettings,
	CollectionCourses,
	CollectionPersonalGoals,
	CollectionHabits,
	CollectionJournalEntries,
	CollectionAdminDocs,
}

// BackupCollections are the collections exported by default.
var BackupCollections = []string{
	CollectionProjects,
	CollectionIdeas,
	CollectionReminders,
}

// IsKnownCollection reports whether name is one of Collections.
func IsKnownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// ValidateID checks that a document id is safe to use as a store key.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("id must be 128 characters or less (got %d)", len(id))
	}
	if strings.ContainsAny(id, "/?#") {
		return fmt.Errorf("id must not contain '/', '?' or '#': %q", id)
	}
	return nil
}

// Initials derives display initials from a name ("Trung Le" -> "TL").
func Initials(name string) string {
	var b strings.Builder
	n := 0
	for _, word := range strings.Fields(name) {
		r := []rune(word)
		b.WriteRune(unicode.ToUpper(r[0]))
		n++
		if n == 2 {
			break
		}
	}
	if n == 0 {
		return "?"
	}
	return b.String()
}
