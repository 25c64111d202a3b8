package main

import (
	"fmt"
	"strings"

	"github.com/blackmichael/bluesky-marketplace/internal/fallback"
	"github.com/spf13/cobra"
)

var knownUsersCmd = &cobra.Command{
	Use:   "known-users",
	Short: "Inspect or extend the known users cache used in fallback mode",
}

var knownUsersListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the known users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		users := fallback.LoadKnownUsers(cfg.KnownUsersPath, logger).List()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), users)
		}
		for _, did := range users {
			fmt.Fprintln(cmd.OutOrStdout(), did)
		}
		return nil
	},
}

var knownUsersAddCmd = &cobra.Command{
	Use:   "add <did>...",
	Short: "Add identities to the known users",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, did := range args {
			if !strings.HasPrefix(did, "did:") {
				return fmt.Errorf("%q is not a DID", did)
			}
		}

		known := fallback.LoadKnownUsers(cfg.KnownUsersPath, logger)
		for _, did := range args {
			if known.Add(did) {
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", did)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already known\n", did)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(knownUsersCmd)
	knownUsersCmd.AddCommand(knownUsersListCmd)
	knownUsersCmd.AddCommand(knownUsersAddCmd)
}
