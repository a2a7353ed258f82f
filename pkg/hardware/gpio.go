package hardware

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/dougsko/rdsmpx/pkg/logging"
)

// OnAirIndicator is a lamp or relay that is lit while a session runs
type OnAirIndicator interface {
	Set(active bool) error
	Close() error
}

// GPIOIndicator drives an on-air lamp from a GPIO line
type GPIOIndicator struct {
	pin   gpio.PinIO
	mutex sync.Mutex
}

var hostInit struct {
	once sync.Once
	err  error
}

// NewGPIOIndicator opens the named GPIO line (for example "GPIO17") and
// drives it low.
func NewGPIOIndicator(name string) (*GPIOIndicator, error) {
	hostInit.once.Do(func() {
		_, hostInit.err = host.Init()
	})
	if hostInit.err != nil {
		return nil, fmt.Errorf("failed to initialize GPIO host: %w", hostInit.err)
	}

	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("GPIO pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to drive pin %s: %w", name, err)
	}

	logging.Infof("hardware", "On-air indicator on %s", p.Name())
	return &GPIOIndicator{pin: p}, nil
}

// Set lights or clears the indicator
func (g *GPIOIndicator) Set(active bool) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	level := gpio.Low
	if active {
		level = gpio.High
	}
	if err := g.pin.Out(level); err != nil {
		return fmt.Errorf("failed to set %s: %w", g.pin.Name(), err)
	}
	return nil
}

// Close clears the indicator and releases the pin
func (g *GPIOIndicator) Close() error {
	if err := g.Set(false); err != nil {
		return err
	}
	return g.pin.Halt()
}

// MockIndicator records indicator changes
type MockIndicator struct {
	mutex   sync.Mutex
	active  bool
	changes int
}

// NewMockIndicator creates a new mock indicator
func NewMockIndicator() *MockIndicator {
	return &MockIndicator{}
}

// Set records the new state
func (m *MockIndicator) Set(active bool) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.active != active {
		m.changes++
	}
	m.active = active
	logging.Debugf("hardware", "MockIndicator: on-air %t", active)
	return nil
}

// Close turns the mock off
func (m *MockIndicator) Close() error { return m.Set(false) }

// Active reports the recorded state
func (m *MockIndicator) Active() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.active
}

// Changes counts state transitions
func (m *MockIndicator) Changes() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.changes
}
