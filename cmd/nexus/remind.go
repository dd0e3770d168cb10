package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/workspace"
)

var remindCmd = &cobra.Command{
	Use:     "remind",
	Aliases: []string{"reminders"},
	GroupID: "data",
	Short:   "Manage dated reminders",
}

var remindAddCmd = &cobra.Command{
	Use:   "add <title> --date <when>",
	Short: "Add a reminder",
	Long: `Add a reminder. Dates may be exact (2025-03-10, 2025-03-10T14:00) or
natural language ("tomorrow 9am", "next friday").

  nexus remind add "Submit abstract" --date "next friday" --type deadline --project p1`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dateText, _ := cmd.Flags().GetString("date")
		kind, _ := cmd.Flags().GetString("type")
		projectID, _ := cmd.Flags().GetString("project")

		a := openApp(context.Background(), schema.CollectionReminders)
		defer a.close()

		var err error
		if dateText, err = promptText(dateText, "Date", false); err != nil {
			a.must(err)
		}
		date, err := parseDate(dateText, time.Now())
		a.must(err)
		if kind, err = choose(kind, "Type", schema.ReminderTask, schema.ReminderDeadline, schema.ReminderMeeting); err != nil {
			a.must(err)
		}

		r := schema.Reminder{
			ID:        workspace.NewID(),
			Title:     strings.Join(args, " "),
			Date:      schema.NewTimestamp(date),
			ProjectID: projectID,
			Type:      kind,
		}
		a.must(a.ws.Reminders.Save(r))
		fmt.Printf("%s %s %s on %s\n", ui.RenderPass("✓"), ui.RenderAccent(r.ID[:8]), r.Title, date.Local().Format("Mon 2006-01-02 15:04"))
	},
}

var remindListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reminders by date",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		projectID, _ := cmd.Flags().GetString("project")

		a := openApp(context.Background(), schema.CollectionReminders)
		defer a.close()

		reminders := a.ws.Reminders.List()
		sort.SliceStable(reminders, func(i, j int) bool { return reminders[i].Date.Before(reminders[j].Date.Time) })
		now := time.Now()
		var rows [][]string
		for _, r := range reminders {
			if r.Completed && !all {
				continue
			}
			if projectID != "" && r.ProjectID != projectID {
				continue
			}
			when := r.Date.Local().Format("2006-01-02 15:04")
			if !r.Completed && r.Date.Before(now) {
				when = ui.RenderWarn(when)
			}
			rows = append(rows, []string{ui.Check(r.Completed), r.ID, when, r.Type, r.Title, r.ProjectID})
		}
		if len(rows) == 0 {
			fmt.Println(ui.RenderMuted("No reminders"))
			return
		}
		ui.Table(cmd.OutOrStdout(), []string{"", "ID", "DATE", "TYPE", "TITLE", "PROJECT"}, rows)
	},
}

var remindToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Mark a reminder done, or not done",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionReminders)
		defer a.close()

		r, err := a.ws.ToggleReminder(resolveID(a.ws.Reminders.List(), args[0], func(r schema.Reminder) string { return r.ID }))
		a.must(err)
		fmt.Printf("%s %s\n", ui.Check(r.Completed), r.Title)
	},
}

var remindDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a reminder",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionReminders)
		defer a.close()

		id := resolveID(a.ws.Reminders.List(), args[0], func(r schema.Reminder) string { return r.ID })
		a.must(a.ws.Reminders.Delete(id))
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), id)
	},
}

// resolveID expands a unique id prefix; anything else is returned as is.
func resolveID[T any](items []T, prefix string, id func(T) string) string {
	match := ""
	for _, item := range items {
		candidate := id(item)
		if candidate == prefix {
			return candidate
		}
		if strings.HasPrefix(candidate, prefix) {
			if match != "" {
				return prefix
			}
			match = candidate
		}
	}
	if match == "" {
		return prefix
	}
	return match
}

func init() {
	remindAddCmd.Flags().String("date", "", "when the reminder is due")
	remindAddCmd.Flags().String("type", "", "deadline, meeting or task (default task)")
	remindAddCmd.Flags().String("project", "", "related project id")
	remindListCmd.Flags().Bool("all", false, "include completed reminders")
	remindListCmd.Flags().String("project", "", "only reminders of this project")

	remindCmd.AddCommand(remindAddCmd)
	remindCmd.AddCommand(remindListCmd)
	remindCmd.AddCommand(remindToggleCmd)
	remindCmd.AddCommand(remindDeleteCmd)
	rootCmd.AddCommand(remindCmd)
}
