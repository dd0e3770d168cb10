package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/schema"
	"github.com/TrungLeVn/ResearchNexus-sub000/internal/ui"
)

var adminCmd = &cobra.Command{
	Use:     "admin",
	GroupID: "admin",
	Short:   "Change the admin code and owner profile",
}

var adminSetCodeCmd = &cobra.Command{
	Use:   "set-code [code]",
	Short: "Change the admin code (empty disables the lock)",
	Long: `Change the admin code every device unlocks with.

An empty code (--disable) removes the lock: every session opens without a code.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		disable, _ := cmd.Flags().GetBool("disable")
		a := openApp(context.Background())
		defer a.close()

		code := ""
		if !disable {
			var given string
			if len(args) == 1 {
				given = args[0]
			}
			var err error
			if code, err = promptText(given, "New admin code", true); err != nil {
				a.must(err)
			}
		} else if !confirm("Remove the admin lock for every device?", true) {
			return
		}

		a.must(a.ws.SetAdminCode(code))
		a.sync()
		if code == "" {
			fmt.Printf("%s Admin lock disabled\n", ui.RenderWarn("!"))
			return
		}
		fmt.Printf("%s Admin code changed\n", ui.RenderPass("✓"))
	},
}

var adminSetOwnerCmd = &cobra.Command{
	Use:   "set-owner",
	Short: "Change the owner profile shown on every device",
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")
		email, _ := cmd.Flags().GetString("email")
		a := openApp(context.Background())
		defer a.close()

		profile := schema.DefaultOwnerProfile()
		if current, ok := a.ws.Settings(); ok {
			profile = current.OwnerProfile
		}
		var err error
		if name == "" && email == "" {
			if name, err = promptText("", "Name", false); err != nil {
				a.must(err)
			}
			if email, err = promptText("", "Email", false); err != nil {
				a.must(err)
			}
		}
		if name != "" {
			profile.Name = name
			profile.Initials = ""
		}
		if email != "" {
			profile.Email = email
		}

		a.must(a.ws.UpdateOwnerProfile(profile))
		a.sync()
		printIdentity(a.ws.Session())
	},
}

func init() {
	adminSetCodeCmd.Flags().Bool("disable", false, "set an empty code")
	adminSetOwnerCmd.Flags().String("name", "", "owner name")
	adminSetOwnerCmd.Flags().String("email", "", "owner email")

	adminCmd.AddCommand(adminSetCodeCmd)
	adminCmd.AddCommand(adminSetOwnerCmd)
	rootCmd.AddCommand(adminCmd)
}
