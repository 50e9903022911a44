// Package cli provides utility functions shared by the command line entry points.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvAlias binds a configuration key to an environment variable that does not follow the
// command prefix convention.
type EnvAlias struct {
	Key string
	Env string
}

type options struct {
	dotEnvFiles []string
	aliases     []EnvAlias
}

// Option represents an optional function to override InitViperConfig default values.
type Option func(*options)

// WithDotEnv loads the given files into the process environment before binding it.
// Missing files are ignored. Variables already set in the environment win.
func WithDotEnv(files ...string) Option {
	return func(o *options) {
		o.dotEnvFiles = append(o.dotEnvFiles, files...)
	}
}

// WithEnvAliases binds extra, unprefixed, environment variables to configuration keys.
func WithEnvAliases(aliases ...EnvAlias) Option {
	return func(o *options) {
		o.aliases = append(o.aliases, aliases...)
	}
}

// InitViperConfig initializes the Viper configuration for a command.
//
// Configuration is looked up, by order of precedence, in flags, prefixed environment variables,
// aliased environment variables, the configuration file and finally defaults.
func InitViperConfig(cmdName string, cmd *cobra.Command, vip *viper.Viper, args ...Option) error {
	var opts options
	for _, opt := range args {
		opt(&opts)
	}

	if err := loadDotEnv(opts.dotEnvFiles); err != nil {
		return err
	}

	if v, err := cmd.Flags().GetString("config"); err == nil && v != "" {
		vip.SetConfigFile(v)
	} else {
		vip.SetConfigName(cmdName)
		vip.AddConfigPath(".")
		vip.AddConfigPath("/etc/" + cmdName)
		vip.AddConfigPath("/usr/local/etc/" + cmdName)

		if binPath, err := os.Executable(); err != nil {
			slog.Warn("Failed to get current executable path, not adding it as a config dir", "error", err)
		} else {
			vip.AddConfigPath(filepath.Dir(binPath))
		}
	}

	if err := vip.ReadInConfig(); err != nil {
		var e viper.ConfigFileNotFoundError
		if !errors.As(err, &e) {
			return fmt.Errorf("invalid configuration file: %w", err)
		}
		slog.Info("No configuration file, using defaults, env variables and flags only", "error", e)
	} else {
		slog.Info("Using configuration file", "file", vip.ConfigFileUsed())
	}

	for _, a := range opts.aliases {
		if _, ok := os.LookupEnv(a.Env); !ok {
			continue
		}
		if err := vip.BindEnv(a.Key, a.Env); err != nil {
			return fmt.Errorf("could not bind environment variable %s: %w", a.Env, err)
		}
	}

	vip.SetEnvPrefix(cmdName)
	vip.AutomaticEnv()

	// Nested keys are only unmarshalled when bound explicitly.
	// More context on https://github.com/spf13/viper/pull/1429.
	prefix := EnvPrefix(cmdName)
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, prefix) {
			continue
		}

		name, _, _ := strings.Cut(e, "=")
		k := strings.ReplaceAll(strings.TrimPrefix(name, prefix), "_", ".")
		if err := vip.BindEnv(k, name); err != nil {
			return fmt.Errorf("could not bind environment variable: %w", err)
		}
	}

	return nil
}

// EnvPrefix returns the prefix environment variables need to carry to configure cmdName.
func EnvPrefix(cmdName string) string {
	return strings.ToUpper(strings.ReplaceAll(cmdName, "-", "_")) + "_"
}

// InstallConfigFlag adds a config flag to the command.
func InstallConfigFlag(cmd *cobra.Command) *string {
	return cmd.PersistentFlags().String("config", "", "use a specific configuration file")
}

func loadDotEnv(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("could not load environment file %s: %w", f, err)
		}
		slog.Debug("Loaded environment file", "file", f)
	}
	return nil
}
