package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "session",
	Short:   "Unlock the workspace and sign in",
	Long: `Sign in as the owner with the admin code, or as an invited guest.

  nexus login                                  # owner, prompts for the admin code
  nexus login --code 1234
  nexus login --invite p1 --name Ana --email ana@uni.edu

Owner and collaborator sessions are remembered until "nexus logout". A guest
whose email matches a collaborator of the invited project is signed in as
that collaborator; other guests are not remembered.`,
	Run: func(cmd *cobra.Command, args []string) {
		code, _ := cmd.Flags().GetString("code")
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		ctx := context.Background()

		a := openApp(ctx, schema.CollectionProjects)
		defer a.close()
		sess := a.ws.Session()

		if cfg.Session.Invite != "" || name != "" || email != "" {
			var err error
			if name, err = promptText(name, "Name", false); err != nil {
				a.must(err)
			}
			if email, err = promptText(email, "Email", false); err != nil {
				a.must(err)
			}
			a.must(a.ws.LoginGuest(name, email, cfg.Session.Invite))
			printIdentity(sess)
			if id, _ := sess.Identity(); id.Kind == session.KindGuest {
				fmt.Println(ui.RenderMuted("Guest sessions are not remembered; pass --as to later commands."))
			}
			return
		}

		if sess.Locked() {
			if _, ok := sess.Settings(); !ok {
				a.must(fmt.Errorf("%w: settings not loaded (is the server running?)", session.ErrLocked))
			}
			var err error
			if code, err = promptText(code, "Admin code", true); err != nil {
				a.must(err)
			}
			a.must(sess.Unlock(code))
		}
		a.must(sess.LoginOwner())
		printIdentity(sess)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "session",
	Short:   "Forget the remembered session",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background())
		defer a.close()
		a.must(a.ws.Logout())
		if err := saveState(cliState{}); err != nil {
			fmt.Printf("%s %v\n", ui.RenderWarn("Warning:"), err)
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

var whoamiCmd = &cobra.Command{
	Use:     "whoami",
	GroupID: "session",
	Short:   "Show the current identity and lock state",
	Run: func(cmd *cobra.Command, args []string) {
		a := openApp(context.Background(), schema.CollectionProjects)
		defer a.close()
		printIdentity(a.ws.Session())
		if p, ok := a.ws.Selected(); ok {
			fmt.Printf("Project:  %s %s\n", ui.RenderAccent(p.ID), p.Title)
		}
		if !a.ws.Connected() {
			fmt.Println(ui.RenderWarn("Disconnected"))
		}
	},
}

func printIdentity(sess *session.Session) {
	lock := ui.RenderPass("unlocked")
	if sess.Locked() {
		lock = ui.RenderWarn("locked")
	}
	id, ok := sess.Identity()
	if !ok {
		fmt.Printf("Not signed in (%s)\n", lock)
		return
	}
	fmt.Printf("Signed in as %s <%s>\n", ui.RenderAccent(id.Profile.Name), id.Profile.Email)
	fmt.Printf("Kind:     %s\n", id.Kind)
	fmt.Printf("Role:     %s\n", id.Profile.Role)
	fmt.Printf("Session:  %s\n", lock)
	if id.InvitedProject != "" {
		fmt.Printf("Invited:  %s\n", id.InvitedProject)
	}
}

func init() {
	loginCmd.Flags().String("code", "", "admin code (prompted when omitted)")
	loginCmd.Flags().String("name", "", "guest name")
	loginCmd.Flags().String("email", "", "guest email")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}
