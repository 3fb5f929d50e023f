package config

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFlags(t *testing.T, args ...string) *AppConfig {
	t.Helper()
	appConfig := &AppConfig{}
	command := &cobra.Command{Use: "tmpool", RunE: func(*cobra.Command, []string) error { return nil }}
	RegisterFlags(command, appConfig)
	command.SetArgs(args)
	require.NoError(t, command.Execute())
	return appConfig
}

func TestFlagDefaults(t *testing.T) {
	appConfig := parseFlags(t)

	assert.Equal(t, 300, appConfig.CullPeriod)
	assert.Equal(t, 600, appConfig.CullTimeout)
	assert.Equal(t, 14400, appConfig.CullMax)
	assert.Equal(t, "0.0.0.0", appConfig.ContainerIP)
	assert.Equal(t, 8888, appConfig.ContainerPort)
	assert.False(t, appConfig.UseTokens)
	assert.Equal(t, 9999, appConfig.Port)
	assert.Equal(t, 10000, appConfig.AdminPort)
	assert.Equal(t, "127.0.0.1", appConfig.AdminIP)
	assert.Equal(t, 2, appConfig.MaxDockWorkers)
	assert.Equal(t, "512m", appConfig.MemLimit)
	assert.Equal(t, "jupyter/kernel-gateway", appConfig.Image)
	assert.Equal(t, "auto", appConfig.DockerVersion)
	assert.Equal(t, "/tree", appConfig.RedirectURI)
	assert.Equal(t, 2, appConfig.PoolSize)
	assert.Equal(t, 12, appConfig.UserLength)
	assert.Empty(t, appConfig.AllowOrigin)
	assert.Contains(t, appConfig.Command, "{base_path}")
	assert.Contains(t, appConfig.Command, "{port}")
}

func TestLoadEnvironmentRequiresProxyToken(t *testing.T) {
	appConfig := parseFlags(t)

	t.Setenv("CONFIGPROXY_AUTH_TOKEN", "")
	err := appConfig.LoadEnvironment()
	assert.ErrorContains(t, err, "CONFIGPROXY_AUTH_TOKEN")
}

func TestLoadEnvironmentDefaultsAndOverrides(t *testing.T) {
	appConfig := parseFlags(t)

	t.Setenv("CONFIGPROXY_AUTH_TOKEN", "secret")
	t.Setenv("API_AUTH_TOKEN", "api-secret")

	require.NoError(t, appConfig.LoadEnvironment())
	assert.Equal(t, "secret", appConfig.ProxyToken)
	assert.Equal(t, "api-secret", appConfig.APIToken)
	assert.Equal(t, "http://127.0.0.1:8001", appConfig.ProxyEndpoint)

	t.Setenv("CONFIGPROXY_ENDPOINT", "http://proxy:8123")
	require.NoError(t, appConfig.LoadEnvironment())
	assert.Equal(t, "http://proxy:8123", appConfig.ProxyEndpoint)
}

func TestLoadEnvironmentDerivesPoolName(t *testing.T) {
	appConfig := parseFlags(t, "--image", "jupyter/kernel-gateway:2.5")
	t.Setenv("CONFIGPROXY_AUTH_TOKEN", "secret")

	require.NoError(t, appConfig.LoadEnvironment())
	assert.Equal(t, "jupyterkernel-gateway", appConfig.PoolName)

	// an explicit pool name is never overridden
	appConfig = parseFlags(t, "--image", "jupyter/kernel-gateway", "--pool_name", "mypool")
	require.NoError(t, appConfig.LoadEnvironment())
	assert.Equal(t, "mypool", appConfig.PoolName)
}

func TestLoadEnvironmentValidation(t *testing.T) {
	t.Setenv("CONFIGPROXY_AUTH_TOKEN", "secret")

	assert.ErrorContains(t, parseFlags(t, "--pool_size", "-1").LoadEnvironment(), "pool_size")
	assert.ErrorContains(t, parseFlags(t, "--user_length", "0").LoadEnvironment(), "user_length")
	assert.ErrorContains(t, parseFlags(t, "--cull_period", "0").LoadEnvironment(), "cull_period")
}

func TestSanitizePoolName(t *testing.T) {
	tests := []struct {
		image string
		want  string
	}{
		{"jupyter/kernel-gateway", "jupyterkernel-gateway"},
		{"jupyter/kernel-gateway:latest", "jupyterkernel-gateway"},
		{"registry.example.com:5000/team/img:2.1", "registry.example.com5000teamimg"},
		{"simple", "simple"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, SanitizePoolName(test.image), "image %q", test.image)
	}
}
