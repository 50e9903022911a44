package daemon_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lightcar-iot/lightcar/cmd/lightcar-sensor/daemon"
	"github.com/lightcar-iot/lightcar/internal/acquisition"
	"github.com/lightcar-iot/lightcar/internal/constants"
	"github.com/lightcar-iot/lightcar/internal/readings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	require.NoError(t, a.Run(), "Run should not return an error")
	c := a.Config()
	assert.Equal(t, constants.DefaultAPIURL, c.APIURL, "API URL should default")
	assert.Equal(t, []string{"http"}, c.Outputs, "Outputs should default to HTTP")
	assert.Equal(t, constants.DefaultDeviceID, c.Device.ID, "Device should default")
	assert.Equal(t, constants.DefaultInterval, c.Device.Interval, "Interval should default")
	assert.Equal(t, constants.DefaultSendTimeout, c.Device.Timeout, "Timeout should default")
	assert.Equal(t, "hcsr04", c.Sensor.Kind, "Sensor should default to the HC-SR04")
	assert.Equal(t, constants.DefaultTriggerPin, c.Sensor.TriggerPin, "Trigger pin should default")
	assert.Equal(t, constants.DefaultEchoPin, c.Sensor.EchoPin, "Echo pin should default")
	assert.InDelta(t, constants.DefaultMaxDistance, c.Sensor.MaxDistance, 1e-9, "Max distance should default")
}

func TestConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "conf.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("device:\n  id: lightcar_42\n  interval: 5s\nsensor:\n  kind: simulation\n"), 0600),
		"Setup: couldn't write config file")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version", "--config", configPath)

	require.NoError(t, a.Run(), "Run should not return an error")
	c := a.Config()
	assert.Equal(t, "lightcar_42", c.Device.ID, "Device should be read from the file")
	assert.Equal(t, 5*time.Second, c.Device.Interval, "Interval should be read from the file")
	assert.Equal(t, "simulation", c.Sensor.Kind, "Sensor should be read from the file")
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("LIGHTCAR_SENSOR_DEVICE_ID", "lightcar_env")

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("version")

	require.NoError(t, a.Run(), "Run should not return an error")
	assert.Equal(t, "lightcar_env", a.Config().Device.ID, "Device should be read from the environment")
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args []string
	}{
		"Error on unknown sensor":   {args: []string{"--sensor", "lidar"}},
		"Error on unknown output":   {args: []string{"--sensor", "simulation", "--outputs", "carrier-pigeon"}},
		"Error on no output":        {args: []string{"--sensor", "simulation", "--outputs", ""}},
		"Error on zero interval":    {args: []string{"--sensor", "simulation", "--outputs", "console", "--interval", "0s"}},
		"Error on missing GPIO pin": {args: []string{"--trigger-pin", "NOT_A_PIN", "--outputs", "console"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(tc.args...)

			require.Error(t, a.Run(), "Run should fail")
			assert.False(t, a.UsageError(), "Runtime errors are not usage errors")
			// Quitting after a failed start must not block.
			a.Quit()
		})
	}
}

func TestUsageError(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("doesnotexist")

	require.Error(t, a.Run(), "Run should return an error")
	require.True(t, a.UsageError(), "Usage error is reported as such")
}

func TestRootCmd(t *testing.T) {
	t.Parallel()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")

	cmd := a.RootCmd()
	assert.Equal(t, constants.SensorCmdName, cmd.Name(), "Unexpected command name")
}

func TestOutputsAreClosedWhenSetupFails(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args   []string
		failOn string

		wantOpened []string
	}{
		"Outputs are closed on unknown sensor": {
			args:       []string{"--sensor", "lidar", "--outputs", "mqtt,http"},
			wantOpened: []string{"mqtt", "http"},
		},
		"Outputs are closed on invalid loop configuration": {
			args:       []string{"--sensor", "simulation", "--outputs", "mqtt,console", "--interval", "0s"},
			wantOpened: []string{"mqtt", "console"},
		},
		"Opened outputs are closed when a later one fails": {
			args:       []string{"--sensor", "simulation", "--outputs", "mqtt,http,console"},
			failOn:     "http",
			wantOpened: []string{"mqtt"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(tc.args...)

			var opened []*closableOutput
			a.SetOutputOpener(func(name string) (acquisition.Output, error) {
				if name == tc.failOn {
					return nil, assert.AnError
				}
				o := &closableOutput{name: name}
				opened = append(opened, o)
				return o, nil
			})

			require.Error(t, a.Run(), "Run should fail")

			var names []string
			for _, o := range opened {
				names = append(names, o.name)
				assert.True(t, o.closed, "Output %q should be closed", o.name)
			}
			assert.Equal(t, tc.wantOpened, names, "Unexpected opened outputs")
		})
	}
}

func TestQuitDoesNotBlockWithoutRunningLoop(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		args []string
	}{
		"After version":         {args: []string{"version"}},
		"After usage error":     {args: []string{"--doesnotexist"}},
		"After bad config file": {args: []string{"--config", "/does/not/exist.yaml"}},
		"After failed set up":   {args: []string{"--sensor", "lidar"}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			a, err := daemon.New()
			require.NoError(t, err, "Setup: New should not return an error")
			a.SetArgs(tc.args...)
			_ = a.Run()

			done := make(chan struct{})
			go func() {
				defer close(done)
				a.Quit()
			}()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				require.Fail(t, "Quit should return once Run has returned")
			}
		})
	}
}

type closableOutput struct {
	name   string
	closed bool
}

func (o *closableOutput) Name() string { return o.name }

func (o *closableOutput) Send(context.Context, readings.Inbound) error { return nil }

func (o *closableOutput) Close() error {
	o.closed = true
	return nil
}

func TestRunSendsReadingsUntilQuit(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []readings.Inbound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		assert.NoError(t, err, "Body should be readable")
		var in readings.Inbound
		assert.NoError(t, json.Unmarshal(b, &in), "Body should be a reading")

		mu.Lock()
		got = append(got, in)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a, err := daemon.New()
	require.NoError(t, err, "Setup: New should not return an error")
	a.SetArgs("--sensor", "simulation", "--api-url", srv.URL+"/api/sensor-data",
		"--interval", "10ms", "--device-id", "lightcar_test", "--max-distance", "1")

	chErr := make(chan error, 1)
	go func() { chErr <- a.Run() }()
	a.WaitReady()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 3
	}, 5*time.Second, 10*time.Millisecond, "Readings should be delivered periodically")

	a.Quit()
	select {
	case err := <-chErr:
		require.NoError(t, err, "Run should return without an error once quit")
	case <-time.After(5 * time.Second):
		t.Fatal("Run should return once quit")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, in := range got {
		assert.Equal(t, "lightcar_test", in.DeviceID, "Device should be set")
		assert.Equal(t, "ultrasonic", in.SensorType, "Sensor type should default")
		assert.Equal(t, "cm", in.Unit, "Unit should default")
		assert.GreaterOrEqual(t, in.Value, 0.0, "Value should not be negative")
		assert.LessOrEqual(t, in.Value, 100.0, "Value should not exceed the max distance")
		require.NotNil(t, in.Timestamp, "Timestamp should be set")
		_, err := time.ParseInLocation(constants.TimestampLayout, *in.Timestamp, time.Local)
		assert.NoError(t, err, "Timestamp should follow the reading layout")
	}
}
