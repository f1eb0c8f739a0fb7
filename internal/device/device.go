// Package device glues the pieces into one running appliance: it pumps
// node write notifications into the binding dispatcher, republishes them
// on the event bus, and owns the input polling loop.
package device

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wakky-alcedo/auto-curtain/internal/binding"
	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/gpio"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
	"github.com/wakky-alcedo/auto-curtain/internal/store"
)

// DefaultPollInterval is the input scan period used when none is
// configured.
const DefaultPollInterval = 20 * time.Millisecond

// Config holds device configuration.
type Config struct {
	PollInterval time.Duration
}

// Device wires the node, the binding registry, and the pin chip together.
type Device struct {
	node     *node.Node
	bindings *binding.Registry
	names    *datamodel.Registry
	chip     gpio.Chip
	store    store.Store
	events   *EventBus
	logger   *slog.Logger
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()
}

// New creates the device and hooks it into the node: pre-apply
// notifications feed the binding dispatcher, post-apply notifications
// become attribute_update bus events, and node device events are
// republished on the bus.
func New(n *node.Node, bindings *binding.Registry, names *datamodel.Registry, chip gpio.Chip, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Device {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Device{
		node:     n,
		bindings: bindings,
		names:    names,
		chip:     chip,
		store:    st,
		events:   events,
		logger:   logger,
		interval: cfg.PollInterval,
		ctx:      ctx,
		cancel:   cancel,
	}
	if d.interval <= 0 {
		d.interval = DefaultPollInterval
	}
	d.unsub = n.Subscribe(d.onNotification)
	n.SetEventSink(d)
	return d
}

// Context returns the device's context, which is cancelled on Stop().
func (d *Device) Context() context.Context {
	return d.ctx
}

// Start launches the input polling loop.
func (d *Device) Start() {
	d.wg.Add(1)
	go d.pollLoop()
	d.logger.Info("device started", "poll_interval", d.interval)
	d.events.Emit(Event{Type: EventDeviceEvent, Data: node.DeviceEvent{Type: node.EventStarted}})
}

// Stop cancels the poll loop, waits for it, and detaches from the node.
func (d *Device) Stop() {
	d.cancel()
	d.wg.Wait()
	d.unsub()
	d.node.SetEventSink(nil)
	d.logger.Info("device stopped")
}

func (d *Device) pollLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.bindings.PollAll(time.Now())
		}
	}
}

// onNotification is the single node subscriber the daemon installs.
func (d *Device) onNotification(note node.Notification) error {
	switch note.Phase {
	case node.PreApply:
		d.bindings.DispatchInbound(note)
	case node.PostApply:
		clusterName, attrName := d.names.AttributeName(note.Address.Cluster, note.Address.Attribute)
		d.events.Emit(Event{Type: EventAttributeUpdate, Data: AttributeUpdate{
			Address:   note.Address,
			Cluster:   clusterName,
			Attribute: attrName,
			Value:     note.Value,
		}})
	}
	return nil
}

// DeviceEvent implements node.DeviceEventSink: lifecycle and identify
// events are logged and republished on the bus.
func (d *Device) DeviceEvent(ev node.DeviceEvent) {
	d.logger.Info("device event", "type", ev.Type, "endpoint", ev.Endpoint)
	d.events.Emit(Event{Type: EventDeviceEvent, Data: ev})
}

// FactoryReset wipes all persisted state. The process keeps running with
// its in-memory state; a restart brings the node up factory fresh.
func (d *Device) FactoryReset() error {
	if d.store != nil {
		if err := d.store.Reset(); err != nil {
			return fmt.Errorf("factory reset: %w", err)
		}
	}
	d.logger.Info("factory reset, persisted state cleared")
	d.events.Emit(Event{Type: EventDeviceEvent, Data: node.DeviceEvent{Type: node.EventFactoryReset}})
	return nil
}

// Node returns the attribute store.
func (d *Device) Node() *node.Node {
	return d.node
}

// Bindings returns the binding registry.
func (d *Device) Bindings() *binding.Registry {
	return d.bindings
}

// Events returns the event bus.
func (d *Device) Events() *EventBus {
	return d.events
}

// Store returns the store, nil when running without persistence.
func (d *Device) Store() store.Store {
	return d.store
}

// Names returns the cluster definition registry.
func (d *Device) Names() *datamodel.Registry {
	return d.names
}
