// Package daemon provides the field acquisition daemon, sampling the distance sensor and
// delivering readings.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/lightcar-iot/lightcar/internal/acquisition"
	"github.com/lightcar-iot/lightcar/internal/acquisition/delivery"
	"github.com/lightcar-iot/lightcar/internal/acquisition/sensor"
	"github.com/lightcar-iot/lightcar/internal/cli"
	"github.com/lightcar-iot/lightcar/internal/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Output names accepted by --outputs.
const (
	outputHTTP    = "http"
	outputMQTT    = "mqtt"
	outputConsole = "console"
)

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	mu     sync.Mutex
	cancel context.CancelFunc

	openOutput func(name string) (acquisition.Output, error)

	ready chan struct{}
}

type deviceConfig struct {
	ID         string
	SensorType string
	Unit       string
	Interval   time.Duration
	Timeout    time.Duration
}

type sensorConfig struct {
	Kind        string
	TriggerPin  string
	EchoPin     string
	MaxDistance float64
}

type mqttConfig struct {
	Broker   string
	Topic    string
	ClientID string
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool
	APIURL    string
	Outputs   []string
	Device    deviceConfig
	Sensor    sensorConfig
	MQTT      mqttConfig
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.SensorCmdName,
		Short:         "LightCar field acquisition daemon",
		Long:          "LightCar field acquisition daemon, sampling an ultrasonic distance sensor and sending each reading to the API.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetVerbosity(a.config.Verbosity) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.SensorCmdName, a.cmd, a.viper); err != nil {
				return err
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("Got app config", "config", a.config)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.openOutput = a.newOutput
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd
	c := &app.config

	cmd.PersistentFlags().CountVarP(&c.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&c.JSONLogs, "json-logs", false, "write logs as JSON")

	cmd.Flags().StringVar(&c.APIURL, "api-url", constants.DefaultAPIURL, "ingestion endpoint of the API")
	cmd.Flags().StringSliceVar(&c.Outputs, "outputs", []string{outputHTTP}, "where readings are sent: http, mqtt, console")

	cmd.Flags().StringVar(&c.Device.ID, "device-id", constants.DefaultDeviceID, "identifier of this device")
	cmd.Flags().StringVar(&c.Device.SensorType, "sensor-type", constants.DefaultSensorType, "kind of sensor reported in readings")
	cmd.Flags().StringVar(&c.Device.Unit, "unit", constants.DefaultUnit, "unit reported in readings")
	cmd.Flags().DurationVar(&c.Device.Interval, "interval", constants.DefaultInterval, "time between two readings")
	cmd.Flags().DurationVar(&c.Device.Timeout, "timeout", constants.DefaultSendTimeout, "time allowed to deliver a reading")

	cmd.Flags().StringVar(&c.Sensor.Kind, "sensor", sensor.KindHCSR04, "sensor to sample: hcsr04 or simulation")
	cmd.Flags().StringVar(&c.Sensor.TriggerPin, "trigger-pin", constants.DefaultTriggerPin, "GPIO pin wired to the sensor trigger")
	cmd.Flags().StringVar(&c.Sensor.EchoPin, "echo-pin", constants.DefaultEchoPin, "GPIO pin wired to the sensor echo")
	cmd.Flags().Float64Var(&c.Sensor.MaxDistance, "max-distance", constants.DefaultMaxDistance, "maximum measurable distance in meters")

	cmd.Flags().StringVar(&c.MQTT.Broker, "mqtt-broker", constants.DefaultMQTTBroker, "MQTT broker used by the mqtt output")
	cmd.Flags().StringVar(&c.MQTT.Topic, "mqtt-topic", constants.DefaultMQTTTopic, "MQTT topic used by the mqtt output")
	cmd.Flags().StringVar(&c.MQTT.ClientID, "mqtt-client-id", constants.DefaultMQTTClientID, "MQTT client identifier")
}

// Run executes the command and associated process, returning an error if any.
func (a *App) Run() error {
	// Commands that never reach run must not leave Quit waiting.
	defer a.markReady()
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a *App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a *App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit stops the acquisition loop, which releases the sensor.
func (a *App) Quit() {
	a.WaitReady()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
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
func (a *App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop, outputs, err := a.setup()
	if err == nil {
		a.mu.Lock()
		a.cancel = cancel
		a.mu.Unlock()
	}
	a.markReady()
	if err != nil {
		return err
	}
	defer closeAll(outputs)

	return loop.Run(ctx)
}

// setup opens the outputs and the sensor. Nothing is left open on error.
func (a *App) setup() (*acquisition.Loop, []acquisition.Output, error) {
	outputs, err := a.newOutputs()
	if err != nil {
		return nil, nil, err
	}

	s, err := a.newSensor()
	if err != nil {
		closeAll(outputs)
		return nil, nil, err
	}

	loop, err := acquisition.New(s, outputs, acquisition.Config{
		DeviceID:    a.config.Device.ID,
		SensorType:  a.config.Device.SensorType,
		Unit:        a.config.Device.Unit,
		Interval:    a.config.Device.Interval,
		SendTimeout: a.config.Device.Timeout,
	})
	if err != nil {
		closeAll(outputs)
		return nil, nil, errors.Join(err, s.Close())
	}
	return loop, outputs, nil
}

func (a *App) newSensor() (acquisition.Sensor, error) {
	sc := a.config.Sensor
	switch sc.Kind {
	case sensor.KindHCSR04:
		s, err := sensor.NewHCSR04(sc.TriggerPin, sc.EchoPin, sc.MaxDistance)
		if err != nil {
			return nil, fmt.Errorf("failed to set up HC-SR04 sensor: %w", err)
		}
		return s, nil
	case sensor.KindSimulation:
		return sensor.NewSimulated(sc.MaxDistance, uint64(time.Now().UnixNano())), nil
	default:
		return nil, fmt.Errorf("unknown sensor %q, expected %s or %s", sc.Kind, sensor.KindHCSR04, sensor.KindSimulation)
	}
}

func (a *App) newOutputs() ([]acquisition.Output, error) {
	if len(a.config.Outputs) == 0 {
		return nil, errors.New("at least one output is required")
	}

	var seen []string
	var outputs []acquisition.Output
	for _, name := range a.config.Outputs {
		if slices.Contains(seen, name) {
			continue
		}
		seen = append(seen, name)

		o, err := a.openOutput(name)
		if err != nil {
			closeAll(outputs)
			return nil, err
		}
		outputs = append(outputs, o)
	}
	return outputs, nil
}

func (a *App) newOutput(name string) (acquisition.Output, error) {
	switch name {
	case outputHTTP:
		return delivery.NewHTTP(a.config.APIURL, a.config.Device.Timeout), nil
	case outputMQTT:
		m, err := delivery.NewMQTT(delivery.MQTTConfig{
			Broker:   a.config.MQTT.Broker,
			Topic:    a.config.MQTT.Topic,
			ClientID: a.config.MQTT.ClientID,
			Timeout:  a.config.Device.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to set up MQTT output: %w", err)
		}
		return m, nil
	case outputConsole:
		return delivery.NewConsole(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unknown output %q, expected %s, %s or %s", name, outputHTTP, outputMQTT, outputConsole)
	}
}

func closeAll(outputs []acquisition.Output) {
	for _, o := range outputs {
		c, ok := o.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			slog.Warn("Failed to close output", "output", o.Name(), "err", err)
		}
	}
}
