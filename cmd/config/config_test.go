package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/docworker/internal/conf"
	"gopkg.in/yaml.v3"
)

func TestRenderMasksCredentials(t *testing.T) {
	t.Parallel()

	settings := &conf.Settings{}
	settings.Worker.TaskID = "task-1"
	settings.API.URL = "https://api.test"
	settings.API.Token = "secret-token"
	settings.Sentry.DSN = "https://key@sentry.test/1"

	out, err := Render(settings)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret-token")
	assert.NotContains(t, string(out), "key@sentry")

	var back conf.Settings
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, "task-1", back.Worker.TaskID)
	assert.Equal(t, "https://api.test", back.API.URL)
	assert.Equal(t, redacted, back.API.Token)

	// The caller's settings are left untouched.
	assert.Equal(t, "secret-token", settings.API.Token)
}

func TestRenderKeepsEmptyCredentials(t *testing.T) {
	t.Parallel()

	out, err := Render(&conf.Settings{})
	require.NoError(t, err)
	assert.NotContains(t, string(out), redacted)
}
