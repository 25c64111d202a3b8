package main

import (
	"time"

	"github.com/spf13/cobra"
)

var browseFlags listingFlags

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "List active listings, newest first",
	Example: `  marketplace browse --category Electronics --max-price 200
  marketplace browse --sort distance --lat 40.71 --lng -74.0 --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := browseFlags.query(cmd.Flags(), time.Now())
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		res, err := a.client.Browse(cmd.Context(), q)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(browseCmd)
	browseFlags.register(browseCmd.Flags())
}
