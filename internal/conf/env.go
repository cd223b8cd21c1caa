// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every automatically bound environment variable,
// e.g. DOCWORKER_WORKER_USECACHE.
const EnvPrefix = "DOCWORKER"

// envBinding maps a config key to extra, unprefixed environment variables
// set by the task runner.
type envBinding struct {
	ConfigKey string
	EnvVars   []string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"worker.versionid", []string{"WORKER_VERSION_ID"}, validateEnvUUID},
		{"worker.taskid", []string{"TASK_ID"}, validateEnvUUID},
		{"worker.chunk", []string{"TASK_CHUNK"}, nil},
		{"worker.datadir", []string{"TASK_DATA_DIR"}, nil},
		{"api.url", []string{"API_URL"}, nil},
		{"api.token", []string{"API_TOKEN"}, nil},
	}
}

// bindEnvVars binds the prefixed name first so it wins over the runner's name.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(binding.ConfigKey, ".", "_"))
		names := append([]string{binding.ConfigKey, prefixed}, binding.EnvVars...)
		if err := viper.BindEnv(names...); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.ConfigKey, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		for _, name := range names[1:] {
			if value := os.Getenv(name); value != "" {
				if err := binding.Validate(value); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", name, value, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvUUID(value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return fmt.Errorf("must be a UUID")
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return bindEnvVars()
}
