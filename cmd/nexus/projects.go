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
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project", "p"},
	GroupID: "data",
	Short:   "List, inspect and share research projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Run: func(cmd *cobra.Command, args []string) {
		all, _ := cmd.Flags().GetBool("all")
		a := openApp(context.Background(), schema.CollectionProjects)
		defer a.close()

		selected, _ := a.ws.Selected()
		var rows [][]string
		for _, p := range a.ws.Projects.List() {
			if p.Status == schema.StatusArchived && !all {
				continue
			}
			id := p.ID
			if p.ID == selected.ID {
				id = ui.RenderAccent("* " + p.ID)
			}
			rows = append(rows, []string{id, p.Title, string(p.Status), fmt.Sprintf("%d%%", p.Progress), p.Category})
		}
		if len(rows) == 0 {
			fmt.Println(ui.RenderMuted("No projects"))
			return
		}
		ui.Table(cmd.OutOrStdout(), []string{"ID", "TITLE", "STATUS", "PROGRESS", "CATEGORY"}, rows)
	},
}

var projectsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a project, or the selected one",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionProjects)
		defer a.close()

		var p schema.Project
		if len(args) == 1 {
			var err error
			p, err = a.ws.Select(args[0])
			a.must(err)
		} else {
			var ok bool
			if p, ok = a.ws.Selected(); !ok {
				a.must(fmt.Errorf("no project selected (use \"nexus projects select <id>\")"))
			}
		}
		printProject(p, a.ws.Projects.Version(p.ID))
	},
}

var projectsSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Make a project the default for later commands",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionProjects)
		defer a.close()

		p, err := a.ws.Select(args[0])
		a.must(err)
		a.must(saveState(cliState{Selected: p.ID}))
		fmt.Printf("%s Selected %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(p.ID), p.Title)
	},
}

var projectsArchiveCmd = &cobra.Command{
	Use:   "archive <id>",
	Short: "Archive a project (it is kept, not deleted)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionProjects)
		defer a.close()

		p, err := a.ws.ArchiveProject(args[0])
		a.must(err)
		fmt.Printf("%s Archived %s %s\n", ui.RenderPass("✓"), ui.RenderAccent(p.ID), p.Title)
	},
}

var projectsAddCollaboratorCmd = &cobra.Command{
	Use:   "add-collaborator <project-id>",
	Short: "Give someone access to a project",
	Long: `Add a collaborator to a project, or change the role of the collaborator
with the same email. Send them an invite for the project id; when they sign
in with that email they get the role given here.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		role, _ := cmd.Flags().GetString("role")
		a := openApp(context.Background(), schema.CollectionProjects)
		defer a.close()

		var err error
		if name, err = promptText(name, "Name", false); err != nil {
			a.must(err)
		}
		if email, err = promptText(email, "Email", false); err != nil {
			a.must(err)
		}
		if role, err = choose(role, "Role", string(schema.RoleEditor), string(schema.RoleViewer), string(schema.RoleGuest)); err != nil {
			a.must(err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		c, err := a.ws.AddCollaborator(ctx, args[0], schema.Collaborator{Name: name, Email: email, Role: schema.Role(role)})
		a.must(err)
		fmt.Printf("%s %s <%s> is %s on %s\n", ui.RenderPass("✓"), c.Name, c.Email, c.Role, args[0])
		fmt.Printf("  Invite: nexus --invite %s login --email %s\n", args[0], c.Email)
	},
}

var projectsRemoveCollaboratorCmd = &cobra.Command{
	Use:   "remove-collaborator <project-id> <collaborator-id|email>",
	Short: "Remove someone from a project",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionProjects)
		defer a.close()

		id := args[1]
		if p, ok := a.ws.Projects.Get(args[0]); ok {
			if c, found := p.CollaboratorByEmail(id); found {
				id = c.ID
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		a.must(a.ws.RemoveCollaborator(ctx, args[0], id))
		fmt.Printf("%s Removed %s from %s\n", ui.RenderPass("✓"), args[1], args[0])
	},
}

func printProject(p schema.Project, version int64) {
	fmt.Printf("%s %s\n", ui.RenderAccent(p.ID), ui.RenderHeader(p.Title))
	if version > 0 {
		fmt.Printf("Version:  %d\n", version)
	} else {
		fmt.Printf("Version:  %s\n", ui.RenderWarn("not saved yet"))
	}
	fmt.Printf("Status:   %s (%d%%)\n", p.Status, p.Progress)
	fmt.Printf("Category: %s\n", p.Category)
	if len(p.Tags) > 0 {
		fmt.Printf("Tags:     %s\n", strings.Join(p.Tags, ", "))
	}
	if p.Description != "" {
		fmt.Printf("\n%s\n", p.Description)
	}

	if len(p.Collaborators) > 0 {
		fmt.Printf("\nCollaborators:\n")
		for _, c := range p.Collaborators {
			fmt.Printf("  %-3s %s <%s> %s %s\n", c.Initials, c.Name, c.Email, ui.RenderMuted(string(c.Role)), ui.RenderMuted(c.ID))
		}
	}

	if len(p.Tasks) > 0 {
		fmt.Printf("\nTasks:\n")
		for _, t := range p.Tasks {
			due := ""
			if t.DueDate != nil {
				due = " due " + t.DueDate.Format(schema.DayLayout)
			}
			names := make([]string, 0, len(t.AssigneeIDs))
			for _, id := range t.AssigneeIDs {
				names = append(names, p.AssigneeName(id))
			}
			assigned := ""
			if len(names) > 0 {
				assigned = " → " + strings.Join(names, ", ")
			}
			fmt.Printf("  %s %s [%s]%s%s\n", ui.Check(t.Status == schema.TaskDone), t.Title, t.Priority, ui.RenderMuted(due), assigned)
			for _, c := range t.Comments {
				fmt.Printf("      %s %s\n", ui.RenderMuted(c.AuthorInitials+":"), c.Text)
			}
		}
	}

	if len(p.Activity) > 0 {
		activity := append([]schema.Activity(nil), p.Activity...)
		sort.Slice(activity, func(i, j int) bool { return activity[i].CreatedAt.After(activity[j].CreatedAt) })
		if len(activity) > 5 {
			activity = activity[:5]
		}
		fmt.Printf("\nRecent activity:\n")
		for _, act := range activity {
			fmt.Printf("  %s %s\n", ui.RenderMuted(act.CreatedAt.Local().Format("2006-01-02 15:04")), act.Message)
		}
	}
}

func init() {
	projectsListCmd.Flags().Bool("all", false, "include archived projects")
	projectsAddCollaboratorCmd.Flags().String("name", "", "collaborator name")
	projectsAddCollaboratorCmd.Flags().String("email", "", "collaborator email")
	projectsAddCollaboratorCmd.Flags().String("role", "", "Editor, Viewer or Guest")

	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsShowCmd)
	projectsCmd.AddCommand(projectsSelectCmd)
	projectsCmd.AddCommand(projectsArchiveCmd)
	projectsCmd.AddCommand(projectsAddCollaboratorCmd)
	projectsCmd.AddCommand(projectsRemoveCollaboratorCmd)
	rootCmd.AddCommand(projectsCmd)
}
