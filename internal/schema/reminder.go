package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reminder types.
const (
	ReminderDeadline = "deadline"
	ReminderMeeting  = "meeting"
	ReminderTask     = "task"
)

// Reminder is a dated item, optionally tied to a project by id.
// ProjectID is a weak reference; the project may not exist.
type Reminder struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      Timestamp `json:"date"`
	ProjectID string    `json:"projectId,omitempty"`
	Type      string    `json:"type"`
	Completed bool      `json:"completed"`
}

// Key returns the document id.
func (r *Reminder) Key() string { return r.ID }

// Validate checks if the Reminder has valid field values.
func (r *Reminder) Validate() error {
	if err := ValidateID(r.ID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if r.Date.IsZero() {
		return fmt.Errorf("date is required")
	}
	switch r.Type {
	case ReminderDeadline, ReminderMeeting, ReminderTask:
	default:
		return fmt.Errorf("invalid reminder type: %q", r.Type)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (r *Reminder) SetDefaults() {
	if r.Type == "" {
		r.Type = ReminderTask
	}
}

// Timestamp is a point in time that decodes from every representation the
// store has used: a native timestamp object ({"seconds","nanoseconds"} or
// {"_seconds","_nanoseconds"}), epoch milliseconds, an RFC3339 string or a
// bare YYYY-MM-DD date. It always encodes as RFC3339.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// MarshalJSON encodes as an RFC3339 string, or null when zero.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.UTC().Format(time.RFC3339Nano))
}

type nativeTimestamp struct {
	Seconds      *int64 `json:"seconds"`
	Nanoseconds  int64  `json:"nanoseconds"`
	USeconds     *int64 `json:"_seconds"`
	UNanoseconds int64  `json:"_nanoseconds"`
}

// UnmarshalJSON accepts every supported representation.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("failed to decode timestamp string: %w", err)
		}
		t, err := ParseTime(s)
		if err != nil {
			return err
		}
		ts.Time = t
		return nil

	case '{':
		var n nativeTimestamp
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("failed to decode timestamp object: %w", err)
		}
		switch {
		case n.Seconds != nil:
			ts.Time = time.Unix(*n.Seconds, n.Nanoseconds).UTC()
		case n.USeconds != nil:
			ts.Time = time.Unix(*n.USeconds, n.UNanoseconds).UTC()
		default:
			return fmt.Errorf("timestamp object has no seconds field: %s", data)
		}
		return nil

	default:
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("unsupported timestamp value: %s", data)
		}
		ts.Time = time.UnixMilli(ms).UTC()
		return nil
	}
}

// ParseTime parses RFC3339 (with or without fractional seconds), a local
// "YYYY-MM-DDTHH:MM" form, or a bare YYYY-MM-DD date.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		DayLayout,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
