package logger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "time/tzdata"

	"github.com/tphakala/docworker/internal/errors"
)

// traceLevelValue sits below slog.LevelDebug (-4)
const traceLevelValue = slog.Level(-8)

// sink is an open log file with the JSON handler writing to it.
type sink struct {
	path    string
	writer  *BufferedFileWriter
	handler slog.Handler
}

func openSink(path string, level slog.Level) (*sink, error) {
	if err := ensureFileDirectory(path); err != nil {
		return nil, err
	}
	w, err := NewBufferedFileWriter(path)
	if err != nil {
		return nil, err
	}
	return &sink{
		path:    path,
		writer:  w,
		handler: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
	}, nil
}

// CentralLogger hands out module loggers. Records go to the console and
// the main log file, or to the module's own file when one is configured.
type CentralLogger struct {
	mu      sync.RWMutex
	cfg     *LoggingConfig
	tz      *time.Location
	base    slog.Handler
	main    *sink
	modules map[string]*sink
	levels  map[string]slog.Level
}

// NewCentralLogger opens the configured outputs. Nil sections of cfg are
// filled with defaults.
func NewCentralLogger(cfg *LoggingConfig) (*CentralLogger, error) {
	if cfg == nil {
		return nil, errors.NewStd("logging config cannot be nil")
	}
	applyConfigDefaults(cfg)

	tz, err := loadTimezone(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	cl := &CentralLogger{
		cfg:     cfg,
		tz:      tz,
		modules: make(map[string]*sink),
		levels:  make(map[string]slog.Level, len(cfg.ModuleLevels)),
	}
	for module, level := range cfg.ModuleLevels {
		cl.levels[module] = parseLogLevel(level)
	}

	if err := cl.openOutputs(); err != nil {
		_ = cl.closeSinks()
		return nil, err
	}
	return cl, nil
}

func loadTimezone(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	tz, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", name, err)
	}
	return tz, nil
}

func (cl *CentralLogger) consoleEnabled() bool {
	return cl.cfg.Console != nil && cl.cfg.Console.Enabled
}

func (cl *CentralLogger) openOutputs() error {
	var base fanout
	if cl.consoleEnabled() {
		base = append(base, newTextHandler(os.Stderr, parseLogLevel(cl.cfg.Console.Level), cl.tz))
	}
	if out := cl.cfg.FileOutput; out != nil && out.Enabled {
		s, err := openSink(out.Path, parseLogLevel(out.Level))
		if err != nil {
			return fmt.Errorf("failed to open main log file: %w", err)
		}
		cl.main = s
		base = append(base, s.handler)
	}
	if len(base) == 0 {
		base = append(base, newTextHandler(os.Stderr, parseLogLevel(cl.cfg.DefaultLevel), cl.tz))
	}
	cl.base = base.handler()

	for name, out := range cl.cfg.ModuleOutputs {
		if !out.Enabled {
			continue
		}
		s, err := openSink(out.FilePath, cl.moduleLevel(name))
		if err != nil {
			return fmt.Errorf("failed to open log file for module %s: %w", name, err)
		}
		cl.modules[name] = s
	}
	return nil
}

// moduleLevel resolves the level of a module: its output level, then its
// entry in ModuleLevels, then the default level.
func (cl *CentralLogger) moduleLevel(name string) slog.Level {
	if out, ok := cl.cfg.ModuleOutputs[name]; ok && out.Level != "" {
		return parseLogLevel(out.Level)
	}
	if level, ok := cl.levels[name]; ok {
		return level
	}
	return parseLogLevel(cl.cfg.DefaultLevel)
}

// Module returns a logger scoped to a specific module
func (cl *CentralLogger) Module(name string) Logger {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	level := cl.moduleLevel(name)
	handler := cl.base
	if s, ok := cl.modules[name]; ok {
		routes := fanout{s.handler}
		if cl.cfg.ModuleOutputs[name].ConsoleAlso && cl.consoleEnabled() {
			routes = append(routes, newTextHandler(os.Stderr, level, cl.tz))
		}
		handler = routes.handler()
	}

	return &moduleLogger{
		module: name,
		logger: slog.New(handler),
		level:  level,
	}
}

// Close flushes and closes every log file. Loggers handed out earlier must
// not be used afterwards.
func (cl *CentralLogger) Close() error {
	if cl == nil {
		return nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.closeSinks()
}

func (cl *CentralLogger) closeSinks() error {
	var errs []error
	for _, s := range cl.sinks() {
		if err := s.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log file %s: %w", s.path, err))
		}
	}
	cl.main = nil
	cl.modules = nil
	return errors.Join(errs...)
}

// Flush writes buffered records to the OS. Close additionally fsyncs.
func (cl *CentralLogger) Flush() error {
	if cl == nil {
		return nil
	}

	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var errs []error
	for _, s := range cl.sinks() {
		if err := s.writer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush log file %s: %w", s.path, err))
		}
	}
	return errors.Join(errs...)
}

func (cl *CentralLogger) sinks() []*sink {
	all := make([]*sink, 0, len(cl.modules)+1)
	if cl.main != nil {
		all = append(all, cl.main)
	}
	for _, s := range cl.modules {
		all = append(all, s)
	}
	return all
}

func ensureFileDirectory(filePath string) error {
	dir := filepath.Dir(filePath)
	if filePath == "" || dir == "." || dir == filePath {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

var (
	globalLogger   *CentralLogger
	globalLoggerMu sync.Mutex
)

// SetGlobal sets the process-wide CentralLogger after configuration is loaded.
func SetGlobal(cl *CentralLogger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = cl
}

// Global returns the CentralLogger set with SetGlobal, or a console-only
// fallback so that code running before configuration can still log.
func Global() *CentralLogger {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()

	if globalLogger == nil {
		globalLogger = &CentralLogger{
			cfg: &LoggingConfig{
				DefaultLevel: DefaultLogLevel,
				Console:      &ConsoleOutput{Enabled: true, Level: DefaultLogLevel},
			},
			tz:      time.Local,
			base:    newTextHandler(os.Stderr, slog.LevelInfo, time.Local),
			modules: make(map[string]*sink),
			levels:  make(map[string]slog.Level),
		}
	}
	return globalLogger
}
