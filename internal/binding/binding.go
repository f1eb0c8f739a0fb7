// Package binding couples GPIO pins to attributes: inbound attribute
// writes drive output pins, and debounced input presses toggle the
// attribute through the store's normal write path. Each binding owns
// exactly one attribute address and its own debounce window.
package binding

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/gpio"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
)

// DefaultDebounce is the toggle suppression window used when a binding
// does not configure its own.
const DefaultDebounce = 500 * time.Millisecond

// Kind says how a binding maps its attribute value to a pin level.
type Kind uint8

const (
	// KindBoolean binds a bool attribute; the output follows the bit.
	KindBoolean Kind = iota
	// KindMultiValue binds a uint8 attribute; nonzero means active.
	KindMultiValue
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindMultiValue:
		return "multi_value"
	default:
		return "unknown"
	}
}

// State is a binding's position in its debounce window.
type State uint8

const (
	// StateIdle accepts the next toggle.
	StateIdle State = iota
	// StateSuppressed rejects toggles until the window elapses.
	StateSuppressed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// AttributeStore is the slice of the node a binding needs. *node.Node
// implements it.
type AttributeStore interface {
	ReadAttribute(addr datamodel.Address) (interface{}, error)
	WriteAttribute(addr datamodel.Address, value interface{}) error
}

// Config describes one binding.
type Config struct {
	Address datamodel.Address
	Kind    Kind
	Input   gpio.InputPin
	Output  gpio.OutputPin
	// Debounce defaults to DefaultDebounce when zero.
	Debounce   time.Duration
	Attributes AttributeStore
	Logger     *slog.Logger
}

// Binding couples one input pin and one output pin to one attribute.
type Binding struct {
	addr     datamodel.Address
	kind     Kind
	input    gpio.InputPin
	output   gpio.OutputPin
	debounce time.Duration
	attrs    AttributeStore
	logger   *slog.Logger

	mu         sync.Mutex
	lastToggle time.Time
}

// New validates the configuration and resolves the attribute once, so
// wiring mistakes surface at setup instead of on the first press.
func New(cfg Config) (*Binding, error) {
	if cfg.Input == nil {
		return nil, fmt.Errorf("binding %s: no input pin", cfg.Address)
	}
	if cfg.Output == nil {
		return nil, fmt.Errorf("binding %s: no output pin", cfg.Address)
	}
	if cfg.Attributes == nil {
		return nil, fmt.Errorf("binding %s: no attribute store", cfg.Address)
	}
	if cfg.Kind != KindBoolean && cfg.Kind != KindMultiValue {
		return nil, fmt.Errorf("binding %s: unknown kind %d", cfg.Address, cfg.Kind)
	}
	if _, err := cfg.Attributes.ReadAttribute(cfg.Address); err != nil {
		return nil, fmt.Errorf("binding %s: %w", cfg.Address, err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Binding{
		addr:     cfg.Address,
		kind:     cfg.Kind,
		input:    cfg.Input,
		output:   cfg.Output,
		debounce: cfg.Debounce,
		attrs:    cfg.Attributes,
		logger:   cfg.Logger,
	}, nil
}

// Address returns the bound attribute address.
func (b *Binding) Address() datamodel.Address { return b.addr }

// Kind returns the binding kind.
func (b *Binding) Kind() Kind { return b.kind }

// Debounce returns the suppression window.
func (b *Binding) Debounce() time.Duration { return b.debounce }

// State reports Idle or Suppressed at the given instant.
func (b *Binding) State(now time.Time) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.Sub(b.lastToggle) < b.debounce {
		return StateSuppressed
	}
	return StateIdle
}

// LastToggle returns the time of the last accepted toggle, zero if none.
func (b *Binding) LastToggle() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastToggle
}

// OnInboundUpdate drives the output pin from a pre-apply write
// notification for this binding's address. Other notifications are
// ignored. Driving the pin to its current level is a no-op in effect.
//
// Takes no binding lock: the toggle path triggers it synchronously from
// inside WriteAttribute.
func (b *Binding) OnInboundUpdate(n node.Notification) {
	if n.Phase != node.PreApply || n.Address != b.addr {
		return
	}
	var level bool
	switch b.kind {
	case KindBoolean:
		on, ok := n.Value.(bool)
		if !ok {
			b.logger.Warn("binding got non-boolean value, ignored", "addr", b.addr.String(), "value", n.Value)
			return
		}
		level = on
	case KindMultiValue:
		field, ok := n.Value.(uint8)
		if !ok {
			b.logger.Warn("binding got non-uint8 value, ignored", "addr", b.addr.String(), "value", n.Value)
			return
		}
		level = field != 0
	}
	if err := b.output.Write(level); err != nil {
		b.logger.Error("binding output write failed", "addr", b.addr.String(), "err", err)
	}
}

// PollInput samples the input pin and toggles the attribute on a press.
// Inside the debounce window it returns without touching the pin.
func (b *Binding) PollInput(now time.Time) {
	if b.State(now) == StateSuppressed {
		return
	}
	pressed, err := b.input.Read()
	if err != nil {
		b.logger.Warn("binding input read failed", "addr", b.addr.String(), "err", err)
		return
	}
	if !pressed {
		return
	}
	b.Trigger(now)
}

// Trigger performs one debounce-checked toggle: read the attribute,
// invert it, write it back to the same address. The debounce timestamp
// is consumed up front, so a slow or failed write never reopens the
// window early. Read and write failures are logged, the attribute and
// output stay as they were.
func (b *Binding) Trigger(now time.Time) {
	b.mu.Lock()
	if now.Sub(b.lastToggle) < b.debounce {
		b.mu.Unlock()
		return
	}
	b.lastToggle = now
	b.mu.Unlock()

	v, err := b.attrs.ReadAttribute(b.addr)
	if err != nil {
		b.logger.Warn("binding read failed, toggle skipped", "addr", b.addr.String(), "err", err)
		return
	}
	next, err := b.toggled(v)
	if err != nil {
		b.logger.Warn("binding has no usable sample, toggle skipped", "addr", b.addr.String(), "err", err)
		return
	}
	if err := b.attrs.WriteAttribute(b.addr, next); err != nil {
		b.logger.Warn("binding toggle not applied", "addr", b.addr.String(), "err", err)
		return
	}
	b.logger.Debug("binding toggled", "addr", b.addr.String(), "value", next)
}

// toggled computes the inverse of the current attribute value by kind.
func (b *Binding) toggled(v interface{}) (interface{}, error) {
	switch b.kind {
	case KindBoolean:
		on, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("boolean binding read %T", v)
		}
		return !on, nil
	default:
		field, ok := v.(uint8)
		if !ok {
			return nil, fmt.Errorf("multi-value binding read %T", v)
		}
		if field != 0 {
			return uint8(0), nil
		}
		return uint8(1), nil
	}
}
