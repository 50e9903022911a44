package daemon

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lightcar-iot/lightcar/internal/config"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type (
	AppConfig = appConfig
)

// DefaultDaemonConfig returns the daemon configuration used when no flag is set.
var DefaultDaemonConfig = defaultDaemonConfig

// Config returns the configuration of the app.
func (a *App) Config() AppConfig {
	return a.config
}

// Addr returns the address the API listens on, once ready.
func (a *App) Addr() string {
	return a.daemon.Addr()
}

// MetricsAddr returns the address the metrics endpoint listens on, once ready.
func (a *App) MetricsAddr() string {
	return a.daemon.MetricsAddr()
}

// NewForTests creates a new App instance for testing purposes.
func NewForTests(t *testing.T, conf *AppConfig, args ...string) *App {
	t.Helper()

	p := GenerateTestConfig(t, conf)
	argsWithConf := []string{"--config", p}
	argsWithConf = append(argsWithConf, args...)

	a, err := New()
	require.NoError(t, err, "Setup: failed to create app")
	a.cmd.SetArgs(argsWithConf)
	return a
}

// GenerateTestAllowlist generates a temporary allow list file for testing.
func GenerateTestAllowlist(t *testing.T, allowlist *config.Conf) string {
	t.Helper()

	d, err := json.Marshal(allowlist)
	require.NoError(t, err, "Setup: failed to marshal allow list for tests")
	allowlistPath := filepath.Join(t.TempDir(), "allowlist-test.json")
	require.NoError(t, os.WriteFile(allowlistPath, d, 0600), "Setup: failed to write allow list for tests")

	return allowlistPath
}

// GenerateTestConfig generates a temporary config file for testing.
// Unset daemon settings get their defaults, except ports which are picked by the system.
func GenerateTestConfig(t *testing.T, origConf *AppConfig) string {
	t.Helper()

	var conf appConfig

	if origConf != nil {
		conf = *origConf
	}

	if conf.Verbosity == 0 {
		conf.Verbosity = 2
	}

	def := defaultDaemonConfig()
	if conf.Daemon.ReadTimeout == 0 {
		conf.Daemon.ReadTimeout = def.ReadTimeout
	}
	if conf.Daemon.WriteTimeout == 0 {
		conf.Daemon.WriteTimeout = def.WriteTimeout
	}
	if conf.Daemon.RequestTimeout == 0 {
		conf.Daemon.RequestTimeout = def.RequestTimeout
	}
	if conf.Daemon.MaxHeaderBytes == 0 {
		conf.Daemon.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if conf.Daemon.MaxUploadBytes == 0 {
		conf.Daemon.MaxUploadBytes = def.MaxUploadBytes
	}
	if conf.Daemon.ListenHost == "" {
		conf.Daemon.ListenHost = "127.0.0.1"
	}
	if conf.Daemon.MetricsHost == "" {
		conf.Daemon.MetricsHost = "127.0.0.1"
	}

	d, err := yaml.Marshal(conf)
	require.NoError(t, err, "Setup: failed to marshal config for tests")

	confPath := filepath.Join(t.TempDir(), "testconfig.yaml")
	require.NoError(t, os.WriteFile(confPath, d, 0600), "Setup: failed to write config for tests")

	return confPath
}

// SetArgs set some arguments on root command for tests.
func (a *App) SetArgs(args ...string) {
	a.cmd.SetArgs(args)
}

// SetSilenceUsage set the SilenceUsage flag on root command for tests.
func (a *App) SetSilenceUsage(silence bool) {
	a.cmd.SilenceUsage = silence
}
