package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/assist"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var suggestCmd = &cobra.Command{
	Use:     "suggest",
	GroupID: "data",
	Short:   "Ask the assistant for reminders and milestones",
	Long: `Ask the AI assistant for suggestions. Needs assist.api_key in nexus.toml
or NEXUS_ASSIST_API_KEY. Suggestions are only printed unless --save is given.`,
}

var suggestRemindersCmd = &cobra.Command{
	Use:   "reminders [project-id]",
	Short: "Suggest reminders for a project's open tasks",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		save, _ := cmd.Flags().GetBool("save")
		a := openApp(context.Background(), schema.CollectionProjects, schema.CollectionReminders)
		defer a.close()

		var p schema.Project
		if len(args) == 1 {
			var err error
			p, err = a.ws.Select(args[0])
			a.must(err)
		} else {
			var ok bool
			if p, ok = a.ws.Selected(); !ok {
				a.must(fmt.Errorf("no project selected (pass a project id)"))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		suggestions := newAssistant().SuggestReminders(ctx, p)
		if len(suggestions) == 0 {
			fmt.Println(ui.RenderMuted("No suggestions"))
			return
		}
		for _, r := range suggestions {
			fmt.Printf("  %s %-8s %s\n", r.Date.Local().Format(schema.DayLayout), r.Type, r.Title)
			if save {
				a.must(a.ws.Reminders.Save(r))
			}
		}
		if save {
			fmt.Printf("%s Saved %d reminder(s)\n", ui.RenderPass("✓"), len(suggestions))
		}
	},
}

var suggestMilestonesCmd = &cobra.Command{
	Use:   "milestones <goal-id>",
	Short: "Suggest milestones for a personal goal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		save, _ := cmd.Flags().GetBool("save")
		a := openApp(context.Background(), schema.CollectionPersonalGoals)
		defer a.close()

		id := resolveID(a.ws.Goals.List(), args[0], func(g schema.PersonalGoal) string { return g.ID })
		goal, ok := a.ws.Goals.Get(id)
		if !ok {
			a.must(fmt.Errorf("goal %s not found", args[0]))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		suggestions := newAssistant().SuggestMilestones(ctx, goal)
		if len(suggestions) == 0 {
			fmt.Println(ui.RenderMuted("No suggestions"))
			return
		}
		for _, m := range suggestions {
			due := ""
			if m.DueDate != nil {
				due = m.DueDate.Format(schema.DayLayout)
			}
			fmt.Printf("  %-10s %s\n", due, m.Title)
		}
		if save {
			_, err := a.ws.Goals.Update(goal.ID, func(g *schema.PersonalGoal) error {
				g.Milestones = append(g.Milestones, suggestions...)
				g.RecomputeProgress()
				return nil
			})
			a.must(err)
			fmt.Printf("%s Added %d milestone(s)\n", ui.RenderPass("✓"), len(suggestions))
		}
	},
}

// newAssistant returns an assistant backed by the API, or one that never
// suggests anything when no key is configured.
func newAssistant() *assist.Assistant {
	key := cfg.Assist.APIKey
	if key == "" {
		key = assist.DefaultConfig().APIKey
	}
	client, err := assist.NewClient(&assist.Config{
		APIKey:    key,
		Model:     cfg.Assist.Model,
		MaxTokens: int64(cfg.Assist.MaxTokens),
		RateLimit: cfg.Assist.RateLimit,
		Logger:    logger("assist"),
	})
	if errors.Is(err, assist.ErrNoAPIKey) {
		fmt.Printf("%s assistant is not configured (set assist.api_key)\n", ui.RenderWarn("!"))
		return assist.New(nil, logger("assist"))
	}
	if err != nil {
		fail("%v", err)
	}
	return assist.New(client, logger("assist"))
}

func init() {
	suggestRemindersCmd.Flags().Bool("save", false, "save the suggested reminders")
	suggestMilestonesCmd.Flags().Bool("save", false, "add the suggested milestones to the goal")

	suggestCmd.AddCommand(suggestRemindersCmd)
	suggestCmd.AddCommand(suggestMilestonesCmd)
	rootCmd.AddCommand(suggestCmd)
}
