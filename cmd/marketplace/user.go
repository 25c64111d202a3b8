package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user <did>",
	Short: "List the listings in one author's repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		listings, err := a.client.UserListings(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return printJSON(out, listings)
		}
		if err := printListings(out, listings); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%d listings\n", len(listings))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
}
