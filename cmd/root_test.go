// File: cmd/root_test.go
package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetavg/session-proxy/internal/observability"
)

func TestRootCmdVersionFlag(t *testing.T) {
	defer observability.ResetForTest()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"--version"})

	err := rootCmd.ExecuteContext(context.Background())

	require.NoError(t, err)
	assert.Contains(t, out.String(), Version)
}

func TestConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	require.NoError(t, initializeConfig())
	cfg, err := currentConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "sessions", cfg.Sessions.Dir)
	assert.True(t, cfg.Browser.Headless)
}

func TestConfigEnvOverride(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("SESSION_PROXY_SERVER_PORT", "9999")
	t.Setenv("SESSION_PROXY_SESSIONS_DIR", "/var/lib/session-proxy")

	require.NoError(t, initializeConfig())
	cfg, err := currentConfig()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "/var/lib/session-proxy", cfg.Sessions.Dir)
}
