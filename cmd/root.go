package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/docworker/cmd/config"
	"github.com/tphakala/docworker/cmd/merge"
	"github.com/tphakala/docworker/cmd/run"
	"github.com/tphakala/docworker/internal/conf"
)

// NewRootCmd creates the docworker command tree.
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "docworker",
		Short: "Document processing worker with a local entity cache",
		Long: `docworker runs a processing step over document elements.

It merges the caches of its parent tasks into a local SQLite store, reads
elements and transcriptions from that store or from the remote entity
service, and mirrors everything it creates into the store for the tasks
that follow.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
			return nil
		},
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	load := func() (*conf.Settings, error) {
		return conf.Load(configFile)
	}

	rootCmd.AddCommand(
		run.Command(load),
		merge.Command(load),
		config.Command(load),
	)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	rootCmd.PersistentFlags().StringVarP(configFile, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
