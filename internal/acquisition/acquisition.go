// Package acquisition runs the field side loop sampling a distance sensor and delivering each
// reading to the configured outputs.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/lightcar-iot/lightcar/internal/acquisition/delivery"
	"github.com/lightcar-iot/lightcar/internal/constants"
	"github.com/lightcar-iot/lightcar/internal/readings"
)

// Sensor measures a distance in meters.
type Sensor interface {
	Distance(ctx context.Context) (float64, error)
	Close() error
}

// Output delivers a reading.
type Output interface {
	Name() string
	Send(ctx context.Context, in readings.Inbound) error
}

// Config holds the identity of the readings and the loop pacing.
type Config struct {
	DeviceID   string
	SensorType string
	Unit       string

	Interval    time.Duration
	SendTimeout time.Duration
}

// Loop samples the sensor every interval and delivers the reading to every output.
type Loop struct {
	sensor  Sensor
	outputs []Output
	conf    Config

	log *slog.Logger
	now func() time.Time
}

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

// Options represents an optional function to override Loop default values.
type Options func(*options)

// WithLogger sets the logger used by the loop.
func WithLogger(l *slog.Logger) Options {
	return func(o *options) {
		o.logger = l
	}
}

// New returns a loop reading s and sending to outputs. The loop owns s and releases it when Run returns.
func New(s Sensor, outputs []Output, conf Config, args ...Options) (*Loop, error) {
	if len(outputs) == 0 {
		return nil, errors.New("at least one output is required")
	}
	if conf.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", conf.Interval)
	}
	if conf.SendTimeout <= 0 {
		return nil, fmt.Errorf("send timeout must be positive, got %s", conf.SendTimeout)
	}

	opts := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Loop{
		sensor:  s,
		outputs: outputs,
		conf:    conf,
		log:     opts.logger,
		now:     opts.now,
	}, nil
}

// Run samples and delivers until ctx is cancelled. Delivery failures are logged and never retried.
func (l *Loop) Run(ctx context.Context) error {
	defer func() {
		if err := l.sensor.Close(); err != nil {
			l.log.Warn("Failed to release sensor", "err", err)
		}
	}()

	names := make([]string, 0, len(l.outputs))
	for _, o := range l.outputs {
		names = append(names, o.Name())
	}
	l.log.Info("LightCar online", "device_id", l.conf.DeviceID, "outputs", names, "interval", l.conf.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Info("Connection closed, goodbye")
			return nil
		case <-timer.C:
		}

		l.tick(ctx)
		timer.Reset(l.conf.Interval)
	}
}

func (l *Loop) tick(ctx context.Context) {
	d, err := l.sensor.Distance(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.log.Warn("Failed to read sensor", "err", err)
		}
		return
	}

	in := l.reading(d)
	for _, o := range l.outputs {
		sctx, cancel := context.WithTimeout(ctx, l.conf.SendTimeout)
		err := o.Send(sctx, in)
		cancel()
		if ctx.Err() != nil {
			return
		}
		l.report(o.Name(), in, err)
	}
}

// reading converts a distance in meters to a reading in centimeters, rounded to 2 decimals and
// stamped with the local time.
func (l *Loop) reading(meters float64) readings.Inbound {
	ts := l.now().Local().Format(constants.TimestampLayout)
	return readings.Inbound{
		DeviceID:   l.conf.DeviceID,
		SensorType: l.conf.SensorType,
		Value:      math.Round(meters*100*100) / 100,
		Unit:       l.conf.Unit,
		Timestamp:  &ts,
	}
}

func (l *Loop) report(output string, in readings.Inbound, err error) {
	var statusErr *delivery.StatusError
	switch {
	case err == nil:
		l.log.Info("Reading sent", "output", output, "value", in.Value, "unit", in.Unit)
	case errors.As(err, &statusErr):
		l.log.Error("API rejected reading", "output", output, "status", statusErr.Code, "body", statusErr.Body)
	case errors.Is(err, delivery.ErrConnectionRefused):
		l.log.Error("Connection refused, check the server address and that the API is running", "output", output)
	case errors.Is(err, delivery.ErrTimeout):
		l.log.Warn("Delivery timed out", "output", output, "timeout", l.conf.SendTimeout)
	default:
		l.log.Error("Unexpected delivery error", "output", output, "err", err)
	}
}
