// Package sensor provides the distance sensors sampled by the acquisition loop.
package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// speedOfSound is expressed in meters per second, at 20°C.
const speedOfSound = 343.0

const (
	triggerPulse = 10 * time.Microsecond
	settleDelay  = 2 * time.Microsecond
	// echoMargin is added to the longest round trip before an echo is considered lost.
	echoMargin = 5 * time.Millisecond
)

// Supported sensor kinds.
const (
	KindHCSR04     = "hcsr04"
	KindSimulation = "simulation"
)

// ErrUnknownPin is returned when a GPIO pin name can't be resolved on the host.
var ErrUnknownPin = errors.New("unknown GPIO pin")

// triggerPin is the output side of an HC-SR04.
type triggerPin interface {
	Out(l gpio.Level) error
	Halt() error
}

// echoPin is the input side of an HC-SR04.
type echoPin interface {
	In(pull gpio.Pull, edge gpio.Edge) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
	Halt() error
}

// HCSR04 is an ultrasonic distance sensor wired to two GPIO pins.
type HCSR04 struct {
	trigger     triggerPin
	echo        echoPin
	maxDistance float64
	echoTimeout time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// NewHCSR04 initializes the host drivers and claims the trigger and echo pins, named as known by
// the host (e.g. "GPIO23"). Distances are capped at maxDistance meters.
func NewHCSR04(triggerName, echoName string, maxDistance float64) (*HCSR04, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}

	trigger := gpioreg.ByName(triggerName)
	if trigger == nil {
		return nil, fmt.Errorf("%w: trigger %q", ErrUnknownPin, triggerName)
	}
	echo := gpioreg.ByName(echoName)
	if echo == nil {
		return nil, fmt.Errorf("%w: echo %q", ErrUnknownPin, echoName)
	}

	return newHCSR04(trigger, echo, maxDistance, time.Now, busySleep)
}

func newHCSR04(trigger triggerPin, echo echoPin, maxDistance float64, now func() time.Time, sleep func(time.Duration)) (*HCSR04, error) {
	if maxDistance <= 0 {
		return nil, fmt.Errorf("max distance must be positive, got %v", maxDistance)
	}
	if err := trigger.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to set up trigger pin: %v", err)
	}
	if err := echo.In(gpio.PullDown, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("failed to set up echo pin: %v", err)
	}

	roundTrip := time.Duration(2 * maxDistance / speedOfSound * float64(time.Second))
	return &HCSR04{
		trigger:     trigger,
		echo:        echo,
		maxDistance: maxDistance,
		echoTimeout: roundTrip + echoMargin,
		now:         now,
		sleep:       sleep,
	}, nil
}

// Distance fires one ultrasonic burst and returns the measured distance in meters.
// A lost echo or an obstacle out of range reads as the max distance.
func (s *HCSR04) Distance(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := s.pulse(); err != nil {
		return 0, err
	}

	if !s.waitFor(gpio.High) {
		return s.maxDistance, nil
	}
	start := s.now()
	if !s.waitFor(gpio.Low) {
		return s.maxDistance, nil
	}
	elapsed := s.now().Sub(start)

	return min(elapsed.Seconds()*speedOfSound/2, s.maxDistance), nil
}

// Close releases both pins.
func (s *HCSR04) Close() error {
	return errors.Join(s.trigger.Halt(), s.echo.Halt())
}

func (s *HCSR04) pulse() error {
	if err := s.trigger.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to reset trigger: %v", err)
	}
	s.sleep(settleDelay)
	if err := s.trigger.Out(gpio.High); err != nil {
		return fmt.Errorf("failed to raise trigger: %v", err)
	}
	s.sleep(triggerPulse)
	if err := s.trigger.Out(gpio.Low); err != nil {
		return fmt.Errorf("failed to lower trigger: %v", err)
	}
	return nil
}

// waitFor blocks until the echo pin reaches level, or the echo timeout expires.
func (s *HCSR04) waitFor(level gpio.Level) bool {
	deadline := s.now().Add(s.echoTimeout)
	for s.echo.Read() != level {
		remaining := deadline.Sub(s.now())
		if remaining <= 0 || !s.echo.WaitForEdge(remaining) {
			return false
		}
	}
	return true
}

// busySleep spins for short durations, where the scheduler granularity is too coarse.
func busySleep(d time.Duration) {
	for end := time.Now().Add(d); time.Now().Before(end); {
	}
}
