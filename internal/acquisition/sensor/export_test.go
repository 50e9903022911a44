package sensor

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// NewHCSR04WithPins returns a sensor driving fake pins on a fake clock.
func NewHCSR04WithPins(trigger *FakeTrigger, echo *FakeEcho, maxDistance float64) (*HCSR04, error) {
	return newHCSR04(trigger, echo, maxDistance, echo.now, func(d time.Duration) { echo.clock = echo.clock.Add(d) })
}

// FakeTrigger records the levels it is driven to.
type FakeTrigger struct {
	Levels []gpio.Level
	OutErr error
	Halted bool
}

func (p *FakeTrigger) Out(l gpio.Level) error {
	p.Levels = append(p.Levels, l)
	return p.OutErr
}

func (p *FakeTrigger) Halt() error {
	p.Halted = true
	return nil
}

// FakeEcho goes high then low, each edge Step after the previous one.
// With Lost set, no edge ever comes.
type FakeEcho struct {
	Step  time.Duration
	Lost  bool
	InErr error

	Halted bool

	level gpio.Level
	clock time.Time
}

func (p *FakeEcho) In(gpio.Pull, gpio.Edge) error { return p.InErr }
func (p *FakeEcho) Read() gpio.Level             { return p.level }

func (p *FakeEcho) WaitForEdge(timeout time.Duration) bool {
	if p.Lost || p.Step > timeout {
		p.clock = p.clock.Add(timeout)
		return false
	}
	p.clock = p.clock.Add(p.Step)
	p.level = !p.level
	return true
}

func (p *FakeEcho) Halt() error {
	p.Halted = true
	return nil
}

func (p *FakeEcho) now() time.Time {
	return p.clock
}
