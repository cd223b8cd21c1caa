package run

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tphakala/docworker/internal/app"
	"github.com/tphakala/docworker/internal/buildinfo"
	"github.com/tphakala/docworker/internal/conf"
)

// Command creates the run command, which processes the task's elements.
func Command(load func() (*conf.Settings, error)) *cobra.Command {
	var maxImageSize int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the elements of a task",
		Long: `Merge the parent caches, list the elements to process and run the worker
over each of them. The run fails when no element could be processed.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			settings, err := load()
			if err != nil {
				return err
			}

			a, err := app.New(settings, buildinfo.Current())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			outcome, err := a.Run(cmd.Context(), app.Inventory(a.Log, maxImageSize))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), outcome.String())
			return nil
		},
	}

	cmd.Flags().IntVar(&maxImageSize, "max-image-size", 0, "Longest side of requested images, 0 for full size")
	setupFlags(cmd.Flags())

	return cmd
}

// flagKeys maps run flags to their settings keys.
var flagKeys = map[string]string{
	"version-id":     "worker.versionid",
	"use-cache":      "worker.usecache",
	"cache-path":     "worker.cachepath",
	"data-dir":       "worker.datadir",
	"task-id":        "worker.taskid",
	"parent":         "worker.parents",
	"chunk":          "worker.chunk",
	"element":        "worker.elements",
	"elements-file":  "worker.elementsfile",
	"process-id":     "worker.processid",
	"store-activity": "worker.storeactivity",
	"report":         "worker.reportpath",
	"api-url":        "api.url",
}

// setupFlags defines the worker flags. Flag defaults are zero values;
// viper defaults apply when a flag is not set.
func setupFlags(flags *pflag.FlagSet) {
	flags.String("version-id", "", "Worker version producing the results, empty for read-only mode")
	flags.Bool("use-cache", false, "Read entities from the local cache")
	flags.String("cache-path", "", "Explicit path of the local cache file")
	flags.String("data-dir", "", "Directory holding one sub directory per task")
	flags.String("task-id", "", "Current task id")
	flags.StringSlice("parent", nil, "Parent task id, repeat in merge order")
	flags.String("chunk", "", "Chunk label of this task")
	flags.StringSlice("element", nil, "Element id to process, repeatable")
	flags.String("elements-file", "", "JSON file listing the elements to process")
	flags.String("process-id", "", "Process to list elements from")
	flags.Bool("store-activity", false, "Report per-element activity states")
	flags.String("report", "", "Path of the run report")
	flags.String("api-url", "", "Base URL of the remote entity service")
}

// bindFlags binds the worker flags to their settings keys. Binding happens
// when the command runs since other commands bind some of the same keys.
func bindFlags(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
