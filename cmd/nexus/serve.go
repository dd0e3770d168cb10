package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/config"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/server"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/settings"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "admin",
	Short:   "Run the store server",
	Long: `Serve the ResearchNexus store from a local SQLite database.

Clients read and write documents over HTTP and receive live snapshots of
each collection over a WebSocket at /ws. The settings singleton is created
with the default admin code on first start.

  nexus serve                         # 127.0.0.1:8765, ~/.config/nexus/nexus.db
  nexus serve --host 0.0.0.0 --port 9000 --db ./lab.db

Changes to server.allowed_origins in the config file apply without a
restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("db") {
			cfg.Server.DB, _ = cmd.Flags().GetString("db")
		}

		out := io.Writer(os.Stderr)
		if cfg.Log.File != "" {
			rotating := &lumberjack.Logger{
				Filename:   cfg.Log.File,
				MaxSize:    cfg.Log.MaxSizeMB,
				MaxBackups: cfg.Log.MaxBackups,
				MaxAge:     cfg.Log.MaxAgeDays,
				Compress:   true,
			}
			defer rotating.Close()
			out = io.MultiWriter(os.Stderr, rotating)
		}
		serverLog := log.New(out, "[server] ", log.LstdFlags)
		storeLog := log.New(out, "[store] ", log.LstdFlags)

		if err := os.MkdirAll(filepath.Dir(cfg.Server.DB), 0o700); err != nil {
			fail("failed to create database directory: %v", err)
		}
		db, err := store.Open(cfg.Server.DB)
		if err != nil {
			fail("opening database: %v", err)
		}
		defer db.Close()
		db.SetLogger(storeLog)
		if err := db.InitSchema(); err != nil {
			fail("initializing schema: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		created, err := settings.Bootstrap(ctx, db, schema.DefaultSettings())
		cancel()
		if err != nil {
			fail("creating settings: %v", err)
		}
		if created {
			storeLog.Printf("Created settings with the default admin code; change it with \"nexus admin set-code\"")
		}

		srv := server.NewServer(db, &server.Config{
			Host:           cfg.Server.Host,
			Port:           cfg.Server.Port,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Collections:    schema.Collections,
			Logger:         serverLog,
		})
		if err := srv.Start(); err != nil {
			fail("%v", err)
		}

		if config.Watch(v, serverLog, func(c *config.Config) {
			srv.SetAllowedOrigins(c.Server.AllowedOrigins)
		}) {
			serverLog.Printf("Watching %s for changes", v.ConfigFileUsed())
		}

		fmt.Printf("%s Store server on http://%s\n", ui.RenderPass("✓"), srv.GetAddr())
		fmt.Printf("  Database:  %s\n", cfg.Server.DB)
		fmt.Printf("  WebSocket: ws://%s/ws\n", srv.GetAddr())
		fmt.Println(ui.RenderMuted("Press Ctrl+C to stop..."))

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping server: %v\n", err)
		}
	},
}

func init() {
	serveCmd.Flags().String("host", "", "address to bind (default from server.host)")
	serveCmd.Flags().Int("port", 0, "port to listen on (default from server.port)")
	serveCmd.Flags().String("db", "", "SQLite database path (default from server.db)")
	rootCmd.AddCommand(serveCmd)
}
