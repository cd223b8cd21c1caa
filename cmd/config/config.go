package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tphakala/docworker/internal/conf"
	"gopkg.in/yaml.v3"
)

const redacted = "[redacted]"

// Command creates the config command, which prints the effective settings
// after defaults, the config file and the environment are applied.
func Command(load func() (*conf.Settings, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective settings as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := load()
			if err != nil {
				return err
			}

			out, err := Render(settings)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// Render marshals settings to YAML with credentials masked.
func Render(settings *conf.Settings) ([]byte, error) {
	masked := *settings
	if masked.API.Token != "" {
		masked.API.Token = redacted
	}
	if masked.Sentry.DSN != "" {
		masked.Sentry.DSN = redacted
	}

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return nil, fmt.Errorf("error marshaling settings: %w", err)
	}
	return out, nil
}
