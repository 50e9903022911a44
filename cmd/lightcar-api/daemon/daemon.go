// Package daemon provides the sensor reading API daemon.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/lightcar-iot/lightcar/internal/cli"
	"github.com/lightcar-iot/lightcar/internal/config"
	"github.com/lightcar-iot/lightcar/internal/constants"
	"github.com/lightcar-iot/lightcar/internal/mqttbridge"
	"github.com/lightcar-iot/lightcar/internal/readings"
	"github.com/lightcar-iot/lightcar/internal/store"
	"github.com/lightcar-iot/lightcar/internal/webservice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon *webservice.Server

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool
	Mongo     store.Config
	Daemon    webservice.StaticConfig
	MQTT      mqttbridge.Config
}

// allowList is the device allow list watched by the web service.
type allowList interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.APICmdName,
		Short:         "LightCar sensor reading API",
		Long:          "LightCar sensor reading API, used to ingest distance readings from field devices and query them back.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetVerbosity(a.config.Verbosity) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.APICmdName, a.cmd, a.viper,
				cli.WithDotEnv(".env"),
				cli.WithEnvAliases(
					cli.EnvAlias{Key: "mongo.uri", Env: constants.MongoURIEnv},
					cli.EnvAlias{Key: "mongo.dbname", Env: constants.DBNameEnv},
				)); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("Got app config", "daemon", a.config.Daemon, "db_name", a.config.Mongo.DBName, "mqtt_broker", a.config.MQTT.Broker)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}
	// Flags backing aliased environment variables are bound to their keys so flags win.
	for key, flag := range map[string]string{"mongo.uri": "mongo-uri", "mongo.dbname": "db-name"} {
		if err := a.viper.BindPFlag(key, a.cmd.PersistentFlags().Lookup(flag)); err != nil {
			return nil, err
		}
	}

	a.installVersion()
	installMigrateCmd(&a)

	return &a, nil
}

func defaultDaemonConfig() webservice.StaticConfig {
	return webservice.StaticConfig{
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		RequestTimeout: 3 * time.Second,
		MaxHeaderBytes: 1 << 13, // 8 KB
		MaxUploadBytes: 1 << 14, // 16 KB

		ListenPort:  8000,
		MetricsPort: 2112,

		CORSOrigins: []string{"*"},
	}
}

func installRootCmd(app *App) {
	cmd := app.cmd
	defaultConf := defaultDaemonConfig()

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "write logs as JSON")

	// Document store flags
	cmd.PersistentFlags().StringVar(&app.config.Mongo.URI, "mongo-uri", "", "document store connection string, also read from "+constants.MongoURIEnv)
	cmd.PersistentFlags().StringVar(&app.config.Mongo.DBName, "db-name", constants.DefaultDBName, "database name, also read from "+constants.DBNameEnv)

	// Daemon flags
	cmd.Flags().StringVar(&app.config.Daemon.AllowListPath, "allowlist", "", "path to a JSON device allow list, all devices are accepted when unset")

	cmd.Flags().DurationVar(&app.config.Daemon.ReadTimeout, "read-timeout", defaultConf.ReadTimeout, "read timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.WriteTimeout, "write-timeout", defaultConf.WriteTimeout, "write timeout for HTTP server")
	cmd.Flags().DurationVar(&app.config.Daemon.RequestTimeout, "request-timeout", defaultConf.RequestTimeout, "request timeout for HTTP server")
	cmd.Flags().IntVar(&app.config.Daemon.MaxHeaderBytes, "max-header-bytes", defaultConf.MaxHeaderBytes, "maximum header bytes for HTTP server")
	cmd.Flags().IntVar(&app.config.Daemon.MaxUploadBytes, "max-upload-bytes", defaultConf.MaxUploadBytes, "maximum upload bytes for HTTP server")

	cmd.Flags().StringVar(&app.config.Daemon.ListenHost, "listen-host", defaultConf.ListenHost, "host to listen on")
	cmd.Flags().IntVar(&app.config.Daemon.ListenPort, "listen-port", defaultConf.ListenPort, "port to listen on")

	cmd.Flags().StringVar(&app.config.Daemon.MetricsHost, "metrics-host", defaultConf.MetricsHost, "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.Daemon.MetricsPort, "metrics-port", defaultConf.MetricsPort, "port for the metrics endpoint")

	cmd.Flags().StringSliceVar(&app.config.Daemon.CORSOrigins, "cors-origin", defaultConf.CORSOrigins, "origins allowed to call the API from a browser, * for any")

	// MQTT bridge flags
	cmd.Flags().StringVar(&app.config.MQTT.Broker, "mqtt-broker", "", "MQTT broker to ingest readings from, the bridge is disabled when unset")
	cmd.Flags().StringVar(&app.config.MQTT.Topic, "mqtt-topic", constants.DefaultMQTTTopic, "MQTT topic carrying readings")
	cmd.Flags().StringVar(&app.config.MQTT.ClientID, "mqtt-client-id", constants.APICmdName, "MQTT client identifier")
	cmd.Flags().StringVar(&app.config.MQTT.Username, "mqtt-user", "", "MQTT user name")
	cmd.Flags().StringVar(&app.config.MQTT.Password, "mqtt-password", "", "MQTT password")

	err := cmd.MarkFlagFilename("allowlist")
	if err != nil {
		// This should never happen.
		panic(fmt.Sprintf("failed to mark allowlist flag as filename: %v", err))
	}
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	// Commands that never reach run must not leave Quit waiting.
	defer a.markReady()
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// markReady releases WaitReady. It is only called from the goroutine executing Run.
func (a *App) markReady() {
	select {
	case <-a.ready:
	default:
		close(a.ready)
	}
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, bridge, err := a.setup(ctx)
	a.markReady()
	if err != nil {
		return err
	}
	defer func() {
		if bridge != nil {
			bridge.Stop()
		}
		if cErr := st.Close(); cErr != nil {
			slog.Error("Failed to disconnect from document store", "err", cErr)
		}
	}()

	return a.daemon.Run()
}

// setup wires the store, the reading service, the web service and the optional MQTT bridge.
// The returned bridge is nil when no broker is configured.
func (a *App) setup(ctx context.Context) (*store.Manager, *mqttbridge.Bridge, error) {
	if a.config.Mongo.URI == "" {
		return nil, nil, fmt.Errorf("document store connection string is required, set %s or --mongo-uri", constants.MongoURIEnv)
	}

	st, err := store.New(ctx, a.config.Mongo)
	if err != nil {
		return nil, nil, err
	}

	bridge, err := a.setupServices(ctx, st)
	if err != nil {
		if cErr := st.Close(); cErr != nil {
			slog.Error("Failed to disconnect from document store", "err", cErr)
		}
		return nil, nil, err
	}
	return st, bridge, nil
}

// setupServices builds the reading service on st and what serves it.
func (a *App) setupServices(ctx context.Context, st *store.Manager) (*mqttbridge.Bridge, error) {
	var cm allowList
	var svcOpts []readings.Options
	if p := a.config.Daemon.AllowListPath; p != "" {
		p, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for allow list: %v", err)
		}
		m := config.New(p)
		cm = m
		svcOpts = append(svcOpts, readings.WithDeviceFilter(m))
	}
	svc := readings.New(st, svcOpts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := webservice.New(ctx, cm, svc, a.config.Daemon, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %v", err)
	}

	var bridge *mqttbridge.Bridge
	if a.config.MQTT.Broker != "" {
		bridge, err = mqttbridge.New(a.config.MQTT, svc, reg)
		if err != nil {
			return nil, fmt.Errorf("failed to create MQTT bridge: %v", err)
		}
		if err = bridge.Start(ctx); err != nil {
			return nil, err
		}
	}

	a.daemon = srv
	return bridge, nil
}
