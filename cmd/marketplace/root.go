package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose    bool
	jsonOutput bool
	configFile string

	cfg    *cliConfig
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "marketplace",
	Short: "Browse and search listings on the AT Protocol marketplace",
	Long: `marketplace reads com.marketplace.listing records.

Browse and search go through the AppView when one is configured and fall
back to reading the repositories of known marketplace users directly.

Configuration is read from flags, MARKETPLACE_* environment variables and
an optional marketplace.yaml in the working directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		c, err := loadConfig(cmd.Root().PersistentFlags(), configFile)
		if err != nil {
			return err
		}
		cfg = c
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	fs.BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	fs.StringVar(&configFile, "config", "", "Config file (default ./marketplace.yaml)")
	addConfigFlags(fs)
}
