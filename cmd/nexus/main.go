// Command nexus runs the ResearchNexus store server and works with its
// data from the terminal.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/config"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var version = "dev"

var (
	configFile string
	verbose    bool

	v   *viper.Viper
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "nexus",
	Short: "ResearchNexus: projects, reminders and habits for an academic",
	Long: `nexus works with a ResearchNexus store from the terminal.

Run "nexus serve" on one machine to host the store; point every other
command at it with --server, server.url in nexus.toml or NEXUS_SERVER_URL.
Without a server the commands run disconnected and cannot change anything.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout)

		var err error
		v, err = config.New(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		bindFlag("server", "server.url")
		bindFlag("invite", "session.invite")
		cfg, err = config.Load(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Working with data:"},
		&cobra.Group{ID: "session", Title: "Session:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./nexus.toml or ~/.config/nexus/nexus.toml)")
	rootCmd.PersistentFlags().String("server", "", "store server URL, e.g. http://localhost:8765")
	rootCmd.PersistentFlags().String("invite", "", "open the session through an invite for this project id")
	rootCmd.PersistentFlags().String("as", "", `sign in as a guest for this command, e.g. "Ana Pereira <ana@uni.edu>"`)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log sync activity to stderr")
}

// bindFlag lets an explicitly set flag override the config key.
func bindFlag(flag, key string) {
	f := rootCmd.PersistentFlags().Lookup(flag)
	if f == nil {
		return
	}
	if err := v.BindPFlag(key, f); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot bind --%s: %v\n", flag, err)
	}
}

// logger returns the component logger for CLI commands. Sync chatter is
// only shown with --verbose.
func logger(component string) *log.Logger {
	if !verbose {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "["+component+"] ", log.LstdFlags)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), fmt.Sprintf(format, args...))
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
