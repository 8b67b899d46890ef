package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
)

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "rpmannotate", RootCmd.Use)
	assert.NotEmpty(t, RootCmd.Short)
	assert.NotEmpty(t, RootCmd.Long)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range RootCmd.Commands() {
		found[cmd.Name()] = true
	}

	for _, expected := range []string{"run", "watch", "status", "config"} {
		assert.True(t, found[expected], "expected command %q to be registered", expected)
	}
}

func TestRootCommandHasPersistentFlags(t *testing.T) {
	for _, name := range []string{"config", "log-level"} {
		flag := RootCmd.PersistentFlags().Lookup(name)
		require.NotNil(t, flag, "expected --%s flag to be registered", name)
		assert.NotEmpty(t, flag.Usage)
	}
}

func TestInvalidConfigFailsBeforeCycle(t *testing.T) {
	env := newTestEnv(t)
	env.setPackages(t, "bash\t5.1.8\t6.el9")
	t.Setenv("RPMANNOTATE_SOURCE_MODE", "bogus")

	_, err := executeCommand(t, "run")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConfig, apperrors.CodeOf(err))
	assert.Empty(t, env.influx.writes())
}

func TestConfigFlagMissingFile(t *testing.T) {
	newTestEnv(t)

	_, err := executeCommand(t, "--config", "/nonexistent/rpmannotate.yaml", "config")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConfig, apperrors.CodeOf(err))
}

func TestConfigCommand(t *testing.T) {
	env := newTestEnv(t)
	t.Setenv("RPMANNOTATE_SINK_PASSWORD", "s3cret")

	out, err := executeCommand(t, "config")
	require.NoError(t, err)

	assert.Contains(t, out, "state_dir: "+env.dir+"/state")
	assert.Contains(t, out, "hostname: web01.example.com")
	assert.Contains(t, out, "interval: 5m0s")
	assert.NotContains(t, out, "s3cret")
}

func TestLogLevelFlagOverridesConfig(t *testing.T) {
	newTestEnv(t)

	out, err := executeCommand(t, "--log-level", "debug", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "level: debug")
}
