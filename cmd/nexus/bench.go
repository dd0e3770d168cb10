package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/loadtest"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/server"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "admin",
	Short:   "Load-test the store with concurrent writers and subscribers",
	Long: `Start a throwaway store server on a free local port and drive it with
concurrent writers and live subscribers over the real client protocol.

Reports write latency percentiles and whether every subscriber's latest
snapshot caught up with every write. Nothing touches your data.

  nexus bench
  nexus bench --writers 50 --writes 40 --subscribers 20`,
	Run: func(cmd *cobra.Command, args []string) {
		opts := loadtest.DefaultOptions()
		opts.Writers, _ = cmd.Flags().GetInt("writers")
		opts.WritesPerWriter, _ = cmd.Flags().GetInt("writes")
		opts.Subscribers, _ = cmd.Flags().GetInt("subscribers")

		dir, err := os.MkdirTemp("", "nexus-bench-")
		if err != nil {
			fail("%v", err)
		}
		defer os.RemoveAll(dir)

		db, err := store.Open(filepath.Join(dir, "bench.db"))
		if err != nil {
			fail("opening database: %v", err)
		}
		defer db.Close()
		db.SetLogger(logger("store"))
		if err := db.InitSchema(); err != nil {
			fail("initializing schema: %v", err)
		}

		srv := server.NewServer(db, &server.Config{Host: "127.0.0.1", Port: 0, Logger: logger("server")})
		if err := srv.Start(); err != nil {
			fail("%v", err)
		}
		defer srv.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		remote, err := store.DialRemote(ctx, &store.RemoteConfig{URL: "http://" + srv.GetAddr(), Logger: logger("remote")})
		if err != nil {
			fail("%v", err)
		}
		defer remote.Close()

		fmt.Printf("%s %d writers x %d writes, %d subscribers\n", ui.RenderAccent("Load test:"), opts.Writers, opts.WritesPerWriter, opts.Subscribers)
		result, err := loadtest.Run(ctx, remote, opts)
		if err != nil {
			fail("%v", err)
		}
		result.Print(os.Stdout)
		if !result.Converged {
			fmt.Println(ui.RenderFail("Subscribers did not converge"))
		}
	},
}

func init() {
	benchCmd.Flags().Int("writers", 10, "concurrent writers")
	benchCmd.Flags().Int("writes", 20, "writes per writer")
	benchCmd.Flags().Int("subscribers", 5, "live subscribers")
	rootCmd.AddCommand(benchCmd)
}
