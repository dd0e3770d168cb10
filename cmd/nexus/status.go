package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "admin",
	Short:   "Show the server connection and document counts",
	Run: func(cmd *cobra.Command, args []string) {
		if cfg.Server.URL == "" {
			fmt.Printf("%s no server configured (set server.url or NEXUS_SERVER_URL)\n", ui.RenderWarn("Disconnected:"))
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		remote, err := store.DialRemote(ctx, &store.RemoteConfig{URL: cfg.Server.URL, Logger: logger("remote")})
		if err != nil {
			fmt.Printf("%s %v\n", ui.RenderFail("Unreachable:"), err)
			return
		}
		defer remote.Close()

		health, err := remote.Health(ctx)
		if err != nil {
			fail("%v", err)
		}
		fmt.Printf("%s %s\n", ui.RenderPass("Connected:"), cfg.Server.URL)
		fmt.Printf("  Status:   %s\n", health.Status)
		fmt.Printf("  Protocol: %s\n", health.Protocol)
		fmt.Printf("  Clients:  %d\n", health.Clients)

		names := make([]string, 0, len(health.Collections))
		for name := range health.Collections {
			names = append(names, name)
		}
		sort.Strings(names)
		rows := make([][]string, 0, len(names))
		for _, name := range names {
			rows = append(rows, []string{name, fmt.Sprintf("%d", health.Collections[name])})
		}
		if len(rows) > 0 {
			fmt.Println()
			ui.Table(cmd.OutOrStdout(), []string{"COLLECTION", "DOCUMENTS"}, rows)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
