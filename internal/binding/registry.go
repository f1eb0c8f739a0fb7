package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
)

// ErrDuplicateAddress is returned when two bindings claim one attribute.
var ErrDuplicateAddress = errors.New("address already bound")

// Registry holds all bindings and routes inbound notifications and polls
// to them. Registration happens at setup; afterwards DispatchInbound and
// PollAll may run concurrently.
type Registry struct {
	mu       sync.RWMutex
	byAddr   map[datamodel.Address]*Binding
	bindings []*Binding
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		byAddr: make(map[datamodel.Address]*Binding),
		logger: logger,
	}
}

// Register adds a binding. Each attribute address can be bound once.
func (r *Registry) Register(b *Binding) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	addr := b.Address()
	if _, exists := r.byAddr[addr]; exists {
		return fmt.Errorf("binding %s: %w", addr, ErrDuplicateAddress)
	}
	r.byAddr[addr] = b
	r.bindings = append(r.bindings, b)
	r.logger.Info("binding registered", "addr", addr.String(), "kind", b.Kind().String(), "debounce", b.Debounce())
	return nil
}

// DispatchInbound routes a notification to the binding with the exact
// matching address. Notifications for unbound addresses belong to
// attributes the binding layer does not manage and are ignored.
func (r *Registry) DispatchInbound(n node.Notification) {
	r.mu.RLock()
	b := r.byAddr[n.Address]
	r.mu.RUnlock()
	if b == nil {
		return
	}
	b.OnInboundUpdate(n)
}

// PollAll polls every binding in registration order. A failed poll on one
// binding never stops the scan.
func (r *Registry) PollAll(now time.Time) {
	r.mu.RLock()
	bindings := r.bindings
	r.mu.RUnlock()
	for _, b := range bindings {
		b.PollInput(now)
	}
}

// Status is a diagnostic snapshot of one binding.
type Status struct {
	Address    datamodel.Address `json:"address"`
	Kind       string            `json:"kind"`
	State      string            `json:"state"`
	LastToggle time.Time         `json:"last_toggle"`
	DebounceMs int64             `json:"debounce_ms"`
}

// Bindings returns status snapshots in registration order.
func (r *Registry) Bindings(now time.Time) []Status {
	r.mu.RLock()
	bindings := r.bindings
	r.mu.RUnlock()
	out := make([]Status, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, Status{
			Address:    b.Address(),
			Kind:       b.Kind().String(),
			State:      b.State(now).String(),
			LastToggle: b.LastToggle(),
			DebounceMs: b.Debounce().Milliseconds(),
		})
	}
	return out
}

// Get returns the binding for an address, nil when unbound.
func (r *Registry) Get(addr datamodel.Address) *Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddr[addr]
}
