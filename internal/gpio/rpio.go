package gpio

import (
	"fmt"
	"sync"

	rpio "github.com/stianeikeland/go-rpio/v4"
)

// RPiChip drives on-board BCM pins through /dev/gpiomem.
type RPiChip struct {
	mu     sync.Mutex
	opened bool
}

// NewRPiChip maps the GPIO registers. Fails on non-Pi hardware or without
// access to /dev/gpiomem.
func NewRPiChip() (*RPiChip, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("gpio: open rpio: %w", err)
	}
	return &RPiChip{opened: true}, nil
}

func (c *RPiChip) OpenInput(pin int, cfg InputConfig) (InputPin, error) {
	if pin < 0 || pin > 27 {
		return nil, fmt.Errorf("gpio: bcm pin %d out of range", pin)
	}
	p := rpio.Pin(pin)
	p.Input()
	switch cfg.Pull {
	case PullUp:
		p.PullUp()
	case PullDown:
		p.PullDown()
	default:
		p.PullOff()
	}
	return &rpiInput{pin: p, invert: cfg.Invert}, nil
}

func (c *RPiChip) OpenOutput(pin int, cfg OutputConfig) (OutputPin, error) {
	if pin < 0 || pin > 27 {
		return nil, fmt.Errorf("gpio: bcm pin %d out of range", pin)
	}
	p := rpio.Pin(pin)
	p.Output()
	out := &rpiOutput{pin: p}
	if err := out.Write(cfg.Initial); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *RPiChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened {
		return nil
	}
	c.opened = false
	return rpio.Close()
}

type rpiInput struct {
	pin    rpio.Pin
	invert bool
}

// Read returns the logical level. Register reads do not fail.
func (p *rpiInput) Read() (bool, error) {
	level := p.pin.Read() == rpio.High
	if p.invert {
		level = !level
	}
	return level, nil
}

type rpiOutput struct {
	pin rpio.Pin
}

func (p *rpiOutput) Write(level bool) error {
	if level {
		p.pin.High()
	} else {
		p.pin.Low()
	}
	return nil
}
