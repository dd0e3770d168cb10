// Package assist is the boundary to the AI assistant. Everything behind the
// Completer interface is opaque to the rest of ResearchNexus: callers hand
// over project or goal context and get typed suggestions back, or nothing
// when the assistant is unavailable or answers with something unusable.
package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
)

// ErrNoJSON is returned by ParseJSONArray when the text holds no array.
var ErrNoJSON = errors.New("no JSON array in response")

const systemPrompt = "You are a research assistant for an academic. Answer with a JSON array only."

// Assistant turns workspace context into suggestions.
type Assistant struct {
	completer Completer
	logger    *log.Logger
	now       func() time.Time
}

// New creates an assistant. A nil completer makes every suggestion empty
// and every question fail with ErrNoAPIKey.
func New(completer Completer, logger *log.Logger) *Assistant {
	if logger == nil {
		logger = log.New(os.Stderr, "[assist] ", log.LstdFlags)
	}
	return &Assistant{completer: completer, logger: logger, now: time.Now}
}

// Ask sends a free-text question with the conversation so far.
func (a *Assistant) Ask(ctx context.Context, system string, history []Turn, question string) (string, error) {
	if a.completer == nil {
		return "", ErrNoAPIKey
	}
	turns := append(append([]Turn{}, history...), Turn{Role: RoleUser, Text: question})
	return a.completer.Complete(ctx, system, turns)
}

type reminderSuggestion struct {
	Title string `json:"title"`
	Date  string `json:"date"`
	Type  string `json:"type"`
}

// SuggestReminders proposes reminders for the open tasks of p. The result
// is empty, never nil, when the assistant fails or answers badly.
func (a *Assistant) SuggestReminders(ctx context.Context, p schema.Project) []schema.Reminder {
	out := []schema.Reminder{}
	if a.completer == nil {
		return out
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s. Project %q", a.now().Format(schema.DayLayout), p.Title)
	if p.Description != "" {
		fmt.Fprintf(&b, ": %s", p.Description)
	}
	b.WriteString("\nOpen tasks:\n")
	for _, t := range p.Tasks {
		if t.Status == schema.TaskDone {
			continue
		}
		due := "no due date"
		if t.DueDate != nil {
			due = "due " + t.DueDate.Format(schema.DayLayout)
		}
		fmt.Fprintf(&b, "- %s (%s)\n", t.Title, due)
	}
	b.WriteString(`Suggest reminders as [{"title": string, "date": "YYYY-MM-DD", "type": "deadline"|"meeting"|"task"}].`)

	text, err := a.completer.Complete(ctx, systemPrompt, []Turn{{Role: RoleUser, Text: b.String()}})
	if err != nil {
		a.logger.Printf("Reminder suggestions unavailable: %v", err)
		return out
	}
	suggestions, err := ParseJSONArray[reminderSuggestion](text)
	if err != nil {
		a.logger.Printf("Ignoring reminder suggestions: %v", err)
		return out
	}

	for _, s := range suggestions {
		date, err := schema.ParseTime(s.Date)
		if err != nil {
			continue
		}
		r := schema.Reminder{
			ID:        uuid.NewString(),
			Title:     strings.TrimSpace(s.Title),
			Date:      schema.NewTimestamp(date),
			ProjectID: p.ID,
			Type:      strings.ToLower(strings.TrimSpace(s.Type)),
		}
		r.SetDefaults()
		if r.Validate() != nil {
			continue
		}
		out = append(out, r)
	}
	return out
}

type milestoneSuggestion struct {
	Title   string `json:"title"`
	DueDate string `json:"dueDate"`
}

// SuggestMilestones proposes milestones for goal, skipping titles the goal
// already has. The result is empty, never nil, on failure.
func (a *Assistant) SuggestMilestones(ctx context.Context, goal schema.PersonalGoal) []schema.Milestone {
	out := []schema.Milestone{}
	if a.completer == nil {
		return out
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Today is %s. Goal %q", a.now().Format(schema.DayLayout), goal.Title)
	if goal.Deadline != nil {
		fmt.Fprintf(&b, " with deadline %s", goal.Deadline.Format(schema.DayLayout))
	}
	b.WriteString(".\n")
	existing := make(map[string]bool, len(goal.Milestones))
	for _, m := range goal.Milestones {
		existing[strings.ToLower(strings.TrimSpace(m.Title))] = true
		fmt.Fprintf(&b, "Existing milestone: %s\n", m.Title)
	}
	b.WriteString(`Suggest milestones as [{"title": string, "dueDate": "YYYY-MM-DD"}].`)

	text, err := a.completer.Complete(ctx, systemPrompt, []Turn{{Role: RoleUser, Text: b.String()}})
	if err != nil {
		a.logger.Printf("Milestone suggestions unavailable: %v", err)
		return out
	}
	suggestions, err := ParseJSONArray[milestoneSuggestion](text)
	if err != nil {
		a.logger.Printf("Ignoring milestone suggestions: %v", err)
		return out
	}

	for _, s := range suggestions {
		title := strings.TrimSpace(s.Title)
		if title == "" || existing[strings.ToLower(title)] {
			continue
		}
		existing[strings.ToLower(title)] = true
		m := schema.Milestone{ID: uuid.NewString(), Title: title}
		if s.DueDate != "" {
			if due, err := schema.ParseTime(s.DueDate); err == nil {
				m.DueDate = &due
			}
		}
		out = append(out, m)
	}
	return out
}

// ParseJSONArray decodes the first JSON array in text. Markdown code fences
// and prose around the array are ignored.
func ParseJSONArray[T any](text string) ([]T, error) {
	text = stripFences(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}

	var items []T
	if err := json.Unmarshal([]byte(text[start:end+1]), &items); err != nil {
		return nil, fmt.Errorf("failed to parse JSON array: %w", err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	open := strings.Index(text, "```")
	if open < 0 {
		return text
	}
	body := text[open+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:] // drop the language tag line
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
