package merge

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tphakala/docworker/internal/app"
	"github.com/tphakala/docworker/internal/buildinfo"
	"github.com/tphakala/docworker/internal/conf"
	"github.com/tphakala/docworker/internal/errors"
)

// Command creates the merge command, which only folds the parent caches
// into the task's local store.
func Command(load func() (*conf.Settings, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [parent...]",
		Short: "Merge parent task caches into the local store",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for name, key := range flagKeys {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return fmt.Errorf("error binding flag %s: %w", name, err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			settings, err := load()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				settings.Worker.Parents = args
			}
			settings.Worker.UseCache = true
			if err := conf.ValidateSettings(settings); err != nil {
				return errors.New(err).
					Component("cmd").
					Category(errors.CategoryConfiguration).
					Context("command", "merge").
					Build()
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

			// Validation guarantees a cache file, so the store is never nil.
			store, err := a.OpenStore(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.MergeParents(cmd.Context(), store)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(result.Sources) == 0 {
				fmt.Fprintln(out, "no parent cache merged")
				return nil
			}
			for _, src := range result.Sources {
				fmt.Fprintf(out, "%s: %d images, %d elements, %d transcriptions\n",
					src.Path, src.Images, src.Elements, src.Transcriptions)
			}
			return nil
		},
	}

	cmd.Flags().String("cache-path", "", "Explicit path of the local cache file")
	cmd.Flags().String("data-dir", "", "Directory holding one sub directory per task")
	cmd.Flags().String("task-id", "", "Current task id")
	cmd.Flags().String("chunk", "", "Chunk label of this task")

	return cmd
}

// flagKeys maps merge flags to their settings keys.
var flagKeys = map[string]string{
	"cache-path": "worker.cachepath",
	"data-dir":   "worker.datadir",
	"task-id":    "worker.taskid",
	"chunk":      "worker.chunk",
}
