package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelWarn, time.UTC)

	log.Debug("hidden debug")
	log.Info("hidden info")
	log.Warn("cache insert conflict", String("element_id", "e1"))
	log.Error("merge failed")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "cache insert conflict")
	assert.Contains(t, out, "element_id=e1")
	assert.Contains(t, out, "merge failed")
}

func TestModuleScoping(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("cache").Module("merge")

	log.Info("merged")

	assert.Contains(t, buf.String(), "module=cache.merge")
}

func TestWithAccumulatesFields(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	base := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	child := base.With(String("task_id", "t-1"))

	child.Info("first")
	base.Info("second")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "task_id=t-1")
	assert.NotContains(t, lines[1], "task_id")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.WithContext(WithTraceID(context.Background(), "abc-123")).Info("processing")
	log.WithContext(context.Background()).Info("no trace")

	out := buf.String()
	assert.Contains(t, out, "trace_id=abc-123")
	assert.Equal(t, 1, strings.Count(out, "trace_id"))
}

func TestLogExplicitLevel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Log(LogLevelDebug, "dropped")
	log.Log(LogLevelWarn, "kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "WARN")
}

func TestSensitiveFieldsRedacted(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Info("request",
		String("api_token", "s3cr3t-value"),
		String("header", "Authorization: Token abcdef0123456789"))

	out := buf.String()
	assert.NotContains(t, out, "s3cr3t-value")
	assert.NotContains(t, out, "abcdef0123456789")
	assert.Contains(t, out, redacted)
}

func TestRedactSensitiveData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		leak  string
	}{
		{"token header", "Token 9f86d081884c7d65", "9f86d081884c7d65"},
		{"bearer", "Bearer eyJhbGciOiJIUzI1NiJ9", "eyJhbGciOiJIUzI1NiJ9"},
		{"api key", "api_key=abcdef12345", "abcdef12345"},
		{"password", "password: hunter2000", "hunter2000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RedactSensitiveData(tt.input)
			assert.NotContains(t, got, tt.leak)
			assert.Contains(t, got, redacted)
		})
	}

	assert.Empty(t, RedactSensitiveData(""))
	assert.Equal(t, "element 42 created", RedactSensitiveData("element 42 created"))
}

func TestCentralLoggerModuleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	modulePath := filepath.Join(dir, "cache.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: false},
		ModuleOutputs: map[string]ModuleOutput{
			"cache": {Enabled: true, FilePath: modulePath, Level: "debug"},
		},
	})
	require.NoError(t, err)

	cl.Module("cache").Debug("schema ready", Int("tables", 3))
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(modulePath) //nolint:gosec // test path from t.TempDir()
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "schema ready", record["msg"])
	assert.Equal(t, "cache", record["module"])
	assert.InDelta(t, 3, record["tables"], 0)
}

func TestCentralLoggerInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestCentralLoggerNilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	assert.Error(t, err)
}

func TestBufferedFileWriter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "worker.log")
	w, err := NewBufferedFileWriter(path, WithFlushInterval(time.Hour))
	require.NoError(t, err)

	_, err = w.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Positive(t, w.Buffered())

	require.NoError(t, w.Flush())
	assert.Equal(t, 0, w.Buffered())

	_, err = w.Write([]byte("second\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path) //nolint:gosec // test path from t.TempDir()
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))

	_, err = w.Write([]byte("late"))
	assert.Error(t, err)
}

func TestBufferedFileWriterInvalidPath(t *testing.T) {
	t.Parallel()

	_, err := NewBufferedFileWriter(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}

func TestCentralLoggerMainFileHonoursItsLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "docworker.log")
	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "warn"},
	})
	require.NoError(t, err)

	log := cl.Module("worker")
	log.Info("item processed")
	log.Warn("activity update failed", String("element_id", "e1"))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path) //nolint:gosec // test path from t.TempDir()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "item processed")
	assert.Contains(t, string(data), `"element_id":"e1"`)
}

func TestFanoutSkipsDisabledHandlers(t *testing.T) {
	t.Parallel()

	var quiet, verbose bytes.Buffer
	f := fanout{
		newTextHandler(&quiet, slog.LevelError, time.UTC),
		newTextHandler(&verbose, slog.LevelDebug, time.UTC),
	}
	log := slog.New(f.handler()).With("module", "cache")
	log.Info("schema ready")

	assert.Empty(t, quiet.String())
	assert.Contains(t, verbose.String(), "schema ready")
	assert.Contains(t, verbose.String(), "module=cache")
}
