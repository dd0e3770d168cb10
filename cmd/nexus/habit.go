package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/workspace"
)

var habitCmd = &cobra.Command{
	Use:     "habit",
	Aliases: []string{"habits"},
	GroupID: "data",
	Short:   "Track daily habits",
}

var habitAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Start tracking a habit",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionHabits)
		defer a.close()

		h := schema.Habit{ID: workspace.NewID(), Title: strings.Join(args, " ")}
		a.must(a.ws.Habits.Save(h))
		fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(h.ID[:8]), h.Title)
	},
}

var habitCheckinCmd = &cobra.Command{
	Use:   "checkin <id>",
	Short: "Check a habit in for today (again to undo)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dayText, _ := cmd.Flags().GetString("day")
		a := openApp(context.Background(), schema.CollectionHabits)
		defer a.close()

		day := time.Now()
		if dayText != "" {
			var err error
			day, err = parseDate(dayText, time.Now())
			a.must(err)
		}
		id := resolveID(a.ws.Habits.List(), args[0], func(h schema.Habit) string { return h.ID })
		h, err := a.ws.ToggleHabit(id, day)
		a.must(err)
		fmt.Printf("%s %s on %s, streak %d\n", ui.Check(h.Done(day)), h.Title, day.Format(schema.DayLayout), h.Streak)
	},
}

var habitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List habits with streaks",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionHabits)
		defer a.close()

		today := time.Now()
		var rows [][]string
		for _, h := range a.ws.Habits.List() {
			streak := schema.ComputeStreak(h.History, today)
			rows = append(rows, []string{ui.Check(h.Done(today)), h.ID, h.Title, fmt.Sprintf("%d", streak), lastWeek(h, today)})
		}
		if len(rows) == 0 {
			fmt.Println(ui.RenderMuted("No habits"))
			return
		}
		ui.Table(cmd.OutOrStdout(), []string{"TODAY", "ID", "TITLE", "STREAK", "LAST 7 DAYS"}, rows)
	},
}

// lastWeek renders the check-ins of the seven days ending today, oldest first.
func lastWeek(h schema.Habit, today time.Time) string {
	var b strings.Builder
	for i := 6; i >= 0; i-- {
		if h.Done(today.AddDate(0, 0, -i)) {
			b.WriteString("■")
		} else {
			b.WriteString("·")
		}
	}
	return b.String()
}

func init() {
	habitCheckinCmd.Flags().String("day", "", "day to check in (default today)")

	habitCmd.AddCommand(habitAddCmd)
	habitCmd.AddCommand(habitCheckinCmd)
	habitCmd.AddCommand(habitListCmd)
	rootCmd.AddCommand(habitCmd)
}
