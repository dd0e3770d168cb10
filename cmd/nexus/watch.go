package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/outbox"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/workspace"
)

var watchCmd = &cobra.Command{
	Use:     "watch [collection...]",
	GroupID: "data",
	Short:   "Print live changes as they arrive",
	Long: `Subscribe to collections (all of them by default) and print a line for
every change of local state until interrupted.`,
	Run: func(cmd *cobra.Command, args []string) {
		collections := args
		if len(collections) == 0 {
			collections = schema.Collections
		}
		for _, c := range collections {
			if !schema.IsKnownCollection(c) {
				fail("unknown collection %q", c)
			}
		}

		changes := make(chan workspace.Change, 64)
		sessionChanged := make(chan struct{}, 1)
		s := openStore(context.Background())
		sess := session.New(&session.Config{
			Cache:  session.NewFileCache(cfg.Session.Cache),
			Invite: cfg.Session.Invite,
			Logger: logger("session"),
		})
		sess.OnChange(func() {
			select {
			case sessionChanged <- struct{}{}:
			default:
			}
		})
		ws := workspace.New(&workspace.Config{
			Store:   s,
			Session: sess,
			Logger:  logger("workspace"),
			OnChange: func(c workspace.Change) {
				select {
				case changes <- c:
				default:
				}
			},
			OnWriteFailure: func(w outbox.Write, err error) {
				fmt.Fprintf(os.Stderr, "%s %s: %v\n", ui.RenderWarn("Write failed:"), w.Key(), err)
			},
		})
		defer s.Close()
		defer ws.Close()

		if err := ws.Mount(collections...); err != nil {
			fail("%v", err)
		}
		if !ws.Connected() && cfg.Server.URL == "" {
			fail("no server configured (set server.url or NEXUS_SERVER_URL)")
		}
		fmt.Printf("Watching %d collection(s) on %s\n", len(collections), cfg.Server.URL)
		fmt.Println(ui.RenderMuted("Press Ctrl+C to stop..."))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return
			case c := <-changes:
				printChange(ws, c)
			case <-sessionChanged:
				printSession(sess)
			}
		}
	},
}

func printChange(ws *workspace.Workspace, c workspace.Change) {
	stamp := ui.RenderMuted(time.Now().Format("15:04:05"))
	if c.Collection != "" {
		fmt.Printf("%s %-16s %d document(s)\n", stamp, ui.RenderAccent(c.Collection), collectionLen(ws, c.Collection))
	}
	if c.Selection {
		if p, ok := ws.Selected(); ok {
			fmt.Printf("%s %-16s %s %s\n", stamp, ui.RenderAccent("selected"), p.ID, p.Title)
		} else {
			fmt.Printf("%s %-16s none\n", stamp, ui.RenderAccent("selected"))
		}
	}
}

func printSession(sess *session.Session) {
	stamp := ui.RenderMuted(time.Now().Format("15:04:05"))
	fmt.Printf("%s %-16s %s\n", stamp, ui.RenderAccent("session"), sessionSummary(sess))
}

func sessionSummary(sess *session.Session) string {
	state := ui.RenderPass("unlocked")
	if sess.Locked() {
		state = ui.RenderWarn("locked")
	}
	who := "nobody"
	if id, ok := sess.Identity(); ok {
		who = fmt.Sprintf("%s (%s)", id.Profile.Name, id.Profile.Role)
	}
	return state + ", " + who
}

func collectionLen(ws *workspace.Workspace, name string) int {
	switch name {
	case schema.CollectionProjects:
		return ws.Projects.Len()
	case schema.CollectionIdeas:
		return ws.Ideas.Len()
	case schema.CollectionReminders:
		return ws.Reminders.Len()
	case schema.CollectionCourses:
		return ws.Courses.Len()
	case schema.CollectionPersonalGoals:
		return ws.Goals.Len()
	case schema.CollectionHabits:
		return ws.Habits.Len()
	case schema.CollectionJournalEntries:
		return ws.Journal.Len()
	case schema.CollectionAdminDocs:
		return ws.AdminDocs.Len()
	case schema.CollectionSettings:
		if _, ok := ws.Settings(); ok {
			return 1
		}
	}
	return 0
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
