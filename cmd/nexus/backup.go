package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/backup"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/config"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/session"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [file]",
	GroupID: "admin",
	Short:   "Export collections to a JSON Lines backup",
	Long: `Export documents to a JSON Lines file, one document per line.

Projects, ideas and reminders are exported by default; pass --collections
for others. Without a file name the backup goes to stdout.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		collections, _ := cmd.Flags().GetStringSlice("collections")
		a := openApp(context.Background())
		defer a.close()
		target := backupTarget(a)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		var result *backup.Result
		var err error
		if len(args) == 0 || args[0] == "-" {
			result, err = backup.Export(ctx, target, os.Stdout, collections)
		} else {
			result, err = backup.ExportFile(ctx, target, args[0], collections)
		}
		a.must(err)
		if len(args) == 1 && args[0] != "-" {
			fmt.Fprintf(os.Stderr, "%s Exported %d document(s) to %s %s\n", ui.RenderPass("✓"), result.Exported, args[0], summary(result.PerCollection))
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "admin",
	Short:   "Import a JSON Lines backup",
	Long: `Import a backup written by "nexus export". Every document in the file
overwrites the stored one. With --replace, documents of the imported
collections that are not in the file are deleted.

The current state of those collections is exported to a timestamped file
in the config directory first, unless --no-backup is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		replace, _ := cmd.Flags().GetBool("replace")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		noBackup, _ := cmd.Flags().GetBool("no-backup")

		records, err := backup.ReadFile(args[0])
		if err != nil {
			fail("%v", err)
		}

		a := openApp(context.Background())
		defer a.close()
		target := backupTarget(a)

		if replace && !dryRun && !confirm(fmt.Sprintf("Replace stored collections with %s?", args[0]), true) {
			return
		}

		opts := backup.ImportOptions{Replace: replace, DryRun: dryRun}
		if !noBackup {
			opts.BackupPath = backup.DefaultPath(config.Dir())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		result, err := backup.Import(ctx, target, records, opts)
		a.must(err)

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d document(s) %s\n", ui.RenderPass("✓"), verb, result.Imported, summary(result.PerCollection))
		if result.Deleted > 0 {
			fmt.Printf("  Deleted: %d\n", result.Deleted)
		}
		if result.BackupCreated != "" {
			fmt.Printf("  Previous state saved to %s\n", result.BackupCreated)
		}
		for _, msg := range result.Errors {
			fmt.Printf("  %s %s\n", ui.RenderWarn("!"), msg)
		}
	},
}

// backupTarget checks that the session may handle whole collections and
// that the store can list them.
func backupTarget(a *app) backup.Target {
	a.must(a.ws.Session().Require(session.ActionAdminister, session.ResourceSettings))
	target, ok := a.store.(backup.Target)
	if _, disconnected := a.store.(*store.Disconnected); !ok || disconnected {
		a.must(store.ErrDisconnected)
	}
	return target
}

func summary(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, counts[name]))
	}
	if len(parts) == 0 {
		return ""
	}
	return ui.RenderMuted("(" + strings.Join(parts, ", ") + ")")
}

func init() {
	exportCmd.Flags().StringSlice("collections", nil, "collections to export (default projects,ideas,reminders)")
	importCmd.Flags().Bool("replace", false, "delete documents missing from the backup")
	importCmd.Flags().Bool("dry-run", false, "report what would change")
	importCmd.Flags().Bool("no-backup", false, "skip exporting the current state first")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
