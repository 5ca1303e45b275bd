package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(configFile string) *Config {
	return &Config{
		Listen:  "127.0.0.1:45565",
		Backend: "127.0.0.1:35565",
		Forwarding: ForwardingConfig{
			Secret:  "from-env",
			Layout:  "timestamped",
			Timeout: 5 * time.Second,
		},
		LegacyProperties: "json",
		LogLevel:         "info",
		ConfigFile:       configFile,
	}
}

func TestConfigLoader_CreatesDefaultFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "mc-legacy-forwarder.toml")
	loader := NewConfigLoader(baseConfig(configFile))

	_, err := loader.Load()
	require.ErrorIs(t, err, ErrCreatedDefaultConfig)

	content, err := os.ReadFile(configFile)
	require.NoError(t, err)

	var schema ConfigFileSchema
	require.NoError(t, toml.Unmarshal(content, &schema))
	require.NotNil(t, schema.BindAddress)
	assert.Equal(t, "127.0.0.1:45565", *schema.BindAddress)
	require.NotNil(t, schema.ForwardingSecret)
	assert.Empty(t, *schema.ForwardingSecret, "the secret is never written out")
	require.NotNil(t, schema.ForwardingTimeout)
	assert.Equal(t, "5s", *schema.ForwardingTimeout)
	assert.Contains(t, string(content), "# The address this proxy will listen on")

	info, err := os.Stat(configFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// the written file loads as is and keeps the secret from the environment
	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", config.Forwarding.Secret)
	assert.Equal(t, "127.0.0.1:35565", config.Backend)
}

func TestConfigLoader_FileOverridesPresentKeys(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
backend_address = "10.0.0.5:25565"
forwarding_secret = "from-file"
forwarding_layout = "velocity"
forwarding_timeout = "2s"
forwarding_max_age = "30s"
trusted_addresses = ["10.0.0.2", "10.0.0.3:25577"]
use_proxy_protocol = true
log_level = "debug"
`), 0600))

	config, err := NewConfigLoader(baseConfig(configFile)).Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:45565", config.Listen, "keys left out keep their value")
	assert.Equal(t, "10.0.0.5:25565", config.Backend)
	assert.Equal(t, "from-file", config.Forwarding.Secret)
	assert.Equal(t, "velocity", config.Forwarding.Layout)
	assert.Equal(t, 2*time.Second, config.Forwarding.Timeout)
	assert.Equal(t, 30*time.Second, config.Forwarding.MaxAge)
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3:25577"}, config.TrustedAddresses)
	assert.True(t, config.UseProxyProtocol)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestConfigLoader_EmptySecretInFileFallsBack(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`forwarding_secret = ""`), 0600))

	config, err := NewConfigLoader(baseConfig(configFile)).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", config.Forwarding.Secret)
}

func TestConfigLoader_InvalidFiles(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		contains string
	}{
		{
			name:     "unknown key",
			content:  `backend = "10.0.0.5:25565"`,
			contains: "Unknown keys",
		},
		{
			name:     "bad duration",
			content:  `forwarding_timeout = "soon"`,
			contains: "forwarding_timeout",
		},
		{
			name:     "bad log level",
			content:  `log_level = "loud"`,
			contains: "log_level",
		},
		{
			name:     "not toml",
			content:  `backend_address =`,
			contains: "parse",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			configFile := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(configFile, []byte(test.content), 0600))

			_, err := NewConfigLoader(baseConfig(configFile)).Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.contains)
		})
	}
}

func TestConfigLoader_WithoutFile(t *testing.T) {
	base := baseConfig("")
	loader := NewConfigLoader(base)

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, *base, *config)

	config, err = loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, *base, *config)

	assert.Error(t, loader.WatchForChanges(t.Context(), func(*Config) {}))
}

func TestConfigLoader_ReloadSeesEdits(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`backend_address = "10.0.0.5:25565"`), 0600))
	loader := NewConfigLoader(baseConfig(configFile))

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:25565", config.Backend)

	require.NoError(t, os.WriteFile(configFile, []byte(`backend_address = "10.0.0.6:25565"`), 0600))
	config, err = loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6:25565", config.Backend)
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	config := baseConfig("")
	config.MetricsBackendConfig.Influxdb.Password = "influx-password"

	s := config.String()
	assert.NotContains(t, s, "from-env")
	assert.NotContains(t, s, "influx-password")
	assert.Contains(t, s, "127.0.0.1:35565")
}

func TestParseLogLevel(t *testing.T) {
	for _, level := range []string{"off", "OFF", "error", "warn", "info", "debug", "trace"} {
		_, err := ParseLogLevel(level)
		assert.NoError(t, err, level)
	}
	_, err := ParseLogLevel("verbose")
	assert.Error(t, err)
}
