// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default retry policy for transient remote failures.
const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 3 * time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = time.Minute
)

// setDefaultConfig registers every key so that environment variables are
// picked up by viper.Unmarshal.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("worker.versionid", "")
	viper.SetDefault("worker.usecache", false)
	viper.SetDefault("worker.cachepath", "")
	viper.SetDefault("worker.datadir", "/data")
	viper.SetDefault("worker.taskid", "")
	viper.SetDefault("worker.parents", []string{})
	viper.SetDefault("worker.chunk", "")
	viper.SetDefault("worker.elements", []string{})
	viper.SetDefault("worker.elementsfile", "")
	viper.SetDefault("worker.processid", "")
	viper.SetDefault("worker.storeactivity", false)
	viper.SetDefault("worker.reportpath", "ml_report.json")

	viper.SetDefault("api.url", "")
	viper.SetDefault("api.token", "")
	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("api.ratelimit", 10.0)
	viper.SetDefault("api.cachettl", 5*time.Minute)

	viper.SetDefault("retry.maxattempts", DefaultMaxAttempts)
	viper.SetDefault("retry.initialdelay", DefaultInitialDelay)
	viper.SetDefault("retry.multiplier", DefaultMultiplier)
	viper.SetDefault("retry.maxdelay", DefaultMaxDelay)

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/docworker.log")
	viper.SetDefault("logging.fileoutput.level", "info")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
	viper.SetDefault("sentry.debug", false)

	viper.SetDefault("metrics.enabled", false)
	viper.SetDefault("metrics.textfile", "")
}
