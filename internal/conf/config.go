// config.go: settings struct for docworker and the functions that load it.
package conf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"github.com/tphakala/docworker/internal/logger"
)

// StoreFileName is the name of a task's cache file under the data directory.
const StoreFileName = "store.sqlite"

// WorkerSettings identifies the task and controls cache usage.
type WorkerSettings struct {
	VersionID     string   `yaml:"versionid"`     // producing worker version; empty means read-only
	UseCache      bool     `yaml:"usecache"`      // read from the local cache instead of the remote service
	CachePath     string   `yaml:"cachepath"`     // explicit cache file, overrides datadir/taskid
	DataDir       string   `yaml:"datadir"`       // shared volume holding one directory per task
	TaskID        string   `yaml:"taskid"`        // current task id
	Parents       []string `yaml:"parents"`       // parent task ids, merge order
	Chunk         string   `yaml:"chunk"`         // chunk label of this task, if any
	Elements      []string `yaml:"elements"`      // explicit element ids to process
	ElementsFile  string   `yaml:"elementsfile"`  // JSON file listing elements to process
	ProcessID     string   `yaml:"processid"`     // process to list elements from when nothing else is given
	StoreActivity bool     `yaml:"storeactivity"` // report per-element activity states
	ReportPath    string   `yaml:"reportpath"`    // run report output
}

// ReadOnly reports whether writes must be refused.
func (w *WorkerSettings) ReadOnly() bool {
	return w.VersionID == ""
}

// CacheFile returns the cache file for the current task, or "" when there is
// neither an explicit path nor a task directory.
func (w *WorkerSettings) CacheFile() string {
	if w.CachePath != "" {
		return w.CachePath
	}
	if w.TaskID == "" {
		return ""
	}
	return filepath.Join(w.DataDir, w.TaskID, StoreFileName)
}

// APISettings configures the remote entity service client.
type APISettings struct {
	URL       string        `yaml:"url"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"ratelimit"` // requests per second, 0 disables
	CacheTTL  time.Duration `yaml:"cachettl"`  // RetrieveEntity memoization
}

// RetrySettings bounds retries of transient remote failures.
type RetrySettings struct {
	MaxAttempts  int           `yaml:"maxattempts"`
	InitialDelay time.Duration `yaml:"initialdelay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"maxdelay"`
}

// SentrySettings contains settings for opt-in error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
	Debug   bool   `yaml:"debug"`
}

// MetricsSettings controls the end-of-run metrics export.
type MetricsSettings struct {
	Enabled  bool   `yaml:"enabled"`
	TextFile string `yaml:"textfile"` // node_exporter textfile collector path
}

// Settings contains all configuration options for docworker.
type Settings struct {
	Debug   bool                 `yaml:"debug"`
	Worker  WorkerSettings       `yaml:"worker"`
	API     APISettings          `yaml:"api"`
	Retry   RetrySettings        `yaml:"retry"`
	Logging logger.LoggingConfig `yaml:"logging"`
	Sentry  SentrySettings       `yaml:"sentry"`
	Metrics MetricsSettings      `yaml:"metrics"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads defaults, the optional config file, and environment variables
// into a validated Settings. Flags bound with viper.BindPFlag take precedence.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper registers defaults and environment bindings and reads the config
// file. A missing default config file is not an error; a missing explicit one is.
func initViper(configFile string) error {
	setDefaultConfig()

	if err := configureEnvironmentVariables(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "docworker"))
	}
	return append(paths, "/etc/docworker")
}

// GetSettings returns the settings from the last successful Load, or nil.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}
