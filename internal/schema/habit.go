package schema

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DayLayout is the ISO calendar-day format used for habit history.
const DayLayout = "2006-01-02"

// Habit is a daily practice. History is a set of ISO day strings; Streak is
// a cached value of ComputeStreak(History) and never ground truth.
type Habit struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	History   []string  `json:"history"`
	Streak    int       `json:"streak"`
	CreatedAt time.Time `json:"createdAt"`
}

// Key returns the document id.
func (h *Habit) Key() string { return h.ID }

// Validate checks if the Habit has valid field values.
func (h *Habit) Validate() error {
	if err := ValidateID(h.ID); err != nil {
		return err
	}
	if strings.TrimSpace(h.Title) == "" {
		return fmt.Errorf("title is required")
	}
	for _, day := range h.History {
		if _, err := parseDay(day); err != nil {
			return fmt.Errorf("invalid history entry %q: %w", day, err)
		}
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (h *Habit) SetDefaults() {
	if h.History == nil {
		h.History = []string{}
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
}

// Toggle adds day to the history, or removes it when already present, then
// recomputes the cached streak relative to today.
func (h *Habit) Toggle(day, today time.Time) {
	key := day.Format(DayLayout)
	out := make([]string, 0, len(h.History)+1)
	removed := false
	for _, d := range h.History {
		if normalizeDay(d) == key {
			removed = true
			continue
		}
		out = append(out, d)
	}
	if !removed {
		out = append(out, key)
	}
	sort.Strings(out)
	h.History = out
	h.Streak = ComputeStreak(h.History, today)
}

// Done reports whether the habit was checked in on day.
func (h *Habit) Done(day time.Time) bool {
	key := day.Format(DayLayout)
	for _, d := range h.History {
		if normalizeDay(d) == key {
			return true
		}
	}
	return false
}

// ComputeStreak counts consecutive calendar days ending at the most recent
// entry of history. The streak is 0 unless the most recent entry is today or
// yesterday. Duplicate and unparseable entries are ignored.
func ComputeStreak(history []string, today time.Time) int {
	days := make(map[string]bool, len(history))
	var latest time.Time
	for _, entry := range history {
		d, err := parseDay(entry)
		if err != nil {
			continue
		}
		days[d.Format(DayLayout)] = true
		if d.After(latest) {
			latest = d
		}
	}
	if len(days) == 0 {
		return 0
	}

	todayDay := truncateDay(today)
	yesterday := todayDay.AddDate(0, 0, -1)
	if !latest.Equal(todayDay) && !latest.Equal(yesterday) {
		return 0
	}

	streak := 0
	for d := latest; days[d.Format(DayLayout)]; d = d.AddDate(0, 0, -1) {
		streak++
	}
	return streak
}

// parseDay reads the calendar day of an ISO date or datetime string.
func parseDay(s string) (time.Time, error) {
	return time.Parse(DayLayout, normalizeDay(s))
}

func normalizeDay(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > len(DayLayout) {
		s = s[:len(DayLayout)]
	}
	return s
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
