package gpio

import (
	"fmt"
	"sync"
)

// MemoryChip is an in-process Chip for tests and dry runs. Raw input levels
// are set by the caller and output writes are recorded. An unset input
// floats to the level its pull resistor gives it.
type MemoryChip struct {
	mu       sync.Mutex
	inputs   map[int]bool
	outputs  map[int]bool
	history  map[int][]bool
	readErr  map[int]error
	writeErr map[int]error
	closed   bool
}

// NewMemoryChip creates an empty in-memory chip.
func NewMemoryChip() *MemoryChip {
	return &MemoryChip{
		inputs:   make(map[int]bool),
		outputs:  make(map[int]bool),
		history:  make(map[int][]bool),
		readErr:  make(map[int]error),
		writeErr: make(map[int]error),
	}
}

func (c *MemoryChip) OpenInput(pin int, cfg InputConfig) (InputPin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("gpio: memory chip closed")
	}
	if _, ok := c.inputs[pin]; !ok {
		c.inputs[pin] = cfg.Pull == PullUp
	}
	return &memoryInput{chip: c, pin: pin, invert: cfg.Invert}, nil
}

func (c *MemoryChip) OpenOutput(pin int, cfg OutputConfig) (OutputPin, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, fmt.Errorf("gpio: memory chip closed")
	}
	c.outputs[pin] = cfg.Initial
	c.history[pin] = append(c.history[pin], cfg.Initial)
	return &memoryOutput{chip: c, pin: pin}, nil
}

func (c *MemoryChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// SetInput sets the raw line level an input pin reads.
func (c *MemoryChip) SetInput(pin int, level bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs[pin] = level
}

// Output returns the last level written to an output pin and whether the
// pin has been written at all.
func (c *MemoryChip) Output(pin int) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	level, ok := c.outputs[pin]
	return level, ok
}

// Writes returns the full write history of an output pin, including the
// initial level set at open.
func (c *MemoryChip) Writes(pin int) []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]bool, len(c.history[pin]))
	copy(out, c.history[pin])
	return out
}

// FailReads makes every Read on the pin return err. A nil err clears it.
func (c *MemoryChip) FailReads(pin int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.readErr, pin)
		return
	}
	c.readErr[pin] = err
}

// FailWrites makes every Write on the pin return err. A nil err clears it.
func (c *MemoryChip) FailWrites(pin int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.writeErr, pin)
		return
	}
	c.writeErr[pin] = err
}

type memoryInput struct {
	chip   *MemoryChip
	pin    int
	invert bool
}

func (p *memoryInput) Read() (bool, error) {
	p.chip.mu.Lock()
	defer p.chip.mu.Unlock()
	if err := p.chip.readErr[p.pin]; err != nil {
		return false, err
	}
	level := p.chip.inputs[p.pin]
	if p.invert {
		level = !level
	}
	return level, nil
}

type memoryOutput struct {
	chip *MemoryChip
	pin  int
}

func (p *memoryOutput) Write(level bool) error {
	p.chip.mu.Lock()
	defer p.chip.mu.Unlock()
	if err := p.chip.writeErr[p.pin]; err != nil {
		return err
	}
	p.chip.outputs[p.pin] = level
	p.chip.history[p.pin] = append(p.chip.history[p.pin], level)
	return nil
}
