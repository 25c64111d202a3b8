package main

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var searchFlags listingFlags

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search active listings by title, description, category and tags",
	Example: `  marketplace search "road bike" --max-price 500
  marketplace search lamp --sort relevance`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q, err := searchFlags.query(cmd.Flags(), time.Now())
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		res, err := a.client.Search(cmd.Context(), strings.Join(args, " "), q)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), res)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchFlags.register(searchCmd.Flags())
}
