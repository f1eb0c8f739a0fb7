// Package node implements the in-process attribute store: endpoints carrying
// clusters of typed attributes, one serialized write path with pre- and
// post-apply notifications, and persistence of nonvolatile values.
//
// Every writer (bindings, web API, MQTT bridge, Lua, restore) funnels
// through WriteAttribute, so each write surfaces exactly one pre-apply
// notification before the new value becomes visible.
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/store"
)

// Write path errors.
var (
	ErrNotFound     = errors.New("attribute not found")
	ErrInvalidValue = errors.New("invalid attribute value")
	ErrRejected     = errors.New("write rejected")
)

// Config is the node identity used to populate Basic Information on the
// root endpoint.
type Config struct {
	VendorName      string
	VendorID        uint16
	ProductName     string
	ProductID       uint16
	SerialNumber    string
	NodeLabel       string
	SoftwareVersion string
}

// Node is the attribute store. Reads are concurrent; writes are serialized
// on writeMu so notification order matches apply order.
type Node struct {
	cfg      Config
	registry *datamodel.Registry
	store    store.Store
	logger   *slog.Logger

	mu        sync.RWMutex // endpoint structure and attribute values
	endpoints map[datamodel.EndpointID]*Endpoint
	order     []datamodel.EndpointID
	nextID    datamodel.EndpointID

	writeMu sync.Mutex

	subMu    sync.RWMutex
	subs     map[uint64]Subscriber
	subOrder []uint64
	nextSub  uint64

	sinkMu sync.RWMutex
	sink   DeviceEventSink
}

// NewNode creates a node with root endpoint 0 carrying Basic Information
// populated from cfg. st may be nil to run without persistence.
func NewNode(cfg Config, registry *datamodel.Registry, st store.Store, logger *slog.Logger) (*Node, error) {
	n := &Node{
		cfg:       cfg,
		registry:  registry,
		store:     st,
		logger:    logger,
		endpoints: make(map[datamodel.EndpointID]*Endpoint),
		subs:      make(map[uint64]Subscriber),
		nextID:    1,
		sink:      NopSink{},
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	root, err := n.addEndpoint(0, "root", datamodel.DeviceTypeRootNode, datamodel.ClusterBasicInformation)
	if err != nil {
		return nil, err
	}
	root.seed(datamodel.ClusterBasicInformation, datamodel.AttrVendorName, cfg.VendorName)
	root.seed(datamodel.ClusterBasicInformation, datamodel.AttrVendorID, cfg.VendorID)
	root.seed(datamodel.ClusterBasicInformation, datamodel.AttrProductName, cfg.ProductName)
	root.seed(datamodel.ClusterBasicInformation, datamodel.AttrProductID, cfg.ProductID)
	root.seed(datamodel.ClusterBasicInformation, datamodel.AttrNodeLabel, cfg.NodeLabel)
	root.seed(datamodel.ClusterBasicInformation, datamodel.AttrSoftwareVersionString, cfg.SoftwareVersion)
	root.seed(datamodel.ClusterBasicInformation, datamodel.AttrSerialNumber, cfg.SerialNumber)
	return n, nil
}

// ReadAttribute returns the current value of an attribute.
func (n *Node) ReadAttribute(addr datamodel.Address) (interface{}, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep := n.endpoints[addr.Endpoint]
	if ep == nil {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	cs := ep.clusters[addr.Cluster]
	if cs == nil {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	v, ok := cs.values[addr.Attribute]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	return v, nil
}

// WriteAttribute validates the value against the attribute's type, fires
// exactly one pre-apply notification to every subscriber in subscription
// order, applies the value, fires a post-apply notification, and persists
// nonvolatile attributes. A pre-apply subscriber error rejects the write
// and leaves the stored value unchanged. Persist errors are logged, never
// returned.
func (n *Node) WriteAttribute(addr datamodel.Address, value interface{}) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()

	n.mu.RLock()
	def, err := n.lookupDef(addr)
	n.mu.RUnlock()
	if err != nil {
		return err
	}

	coerced, err := coerceValue(def.Type, value)
	if err != nil {
		return fmt.Errorf("write %s: %w: %v", addr, ErrInvalidValue, err)
	}

	// Subscribers run without node locks so they can read attributes.
	if err := n.notify(Notification{Address: addr, Value: coerced, Phase: PreApply}); err != nil {
		n.logger.Warn("write rejected by subscriber", "addr", addr.String(), "err", err)
		return fmt.Errorf("write %s: %w: %v", addr, ErrRejected, err)
	}

	n.mu.Lock()
	if ep := n.endpoints[addr.Endpoint]; ep != nil {
		if cs := ep.clusters[addr.Cluster]; cs != nil {
			cs.values[addr.Attribute] = coerced
		}
	}
	n.mu.Unlock()

	n.logger.Debug("attribute written", "addr", addr.String(), "value", coerced)

	_ = n.notify(Notification{Address: addr, Value: coerced, Phase: PostApply})

	if def.IsNonvolatile() {
		n.persist(addr, def.Type, coerced)
	}

	n.fireIdentify(addr, coerced)
	return nil
}

// Subscribe registers a write subscriber. Subscribers are notified in
// subscription order. The returned function unsubscribes.
func (n *Node) Subscribe(fn Subscriber) func() {
	n.subMu.Lock()
	defer n.subMu.Unlock()
	id := n.nextSub
	n.nextSub++
	n.subs[id] = fn
	n.subOrder = append(n.subOrder, id)
	return func() {
		n.subMu.Lock()
		defer n.subMu.Unlock()
		delete(n.subs, id)
		for i, v := range n.subOrder {
			if v == id {
				n.subOrder = append(n.subOrder[:i], n.subOrder[i+1:]...)
				break
			}
		}
	}
}

// SetEventSink installs the device event sink. A nil sink restores the
// no-op default.
func (n *Node) SetEventSink(sink DeviceEventSink) {
	n.sinkMu.Lock()
	defer n.sinkMu.Unlock()
	if sink == nil {
		n.sink = NopSink{}
		return
	}
	n.sink = sink
}

// AttributeDef returns a copy of the definition for an attribute.
func (n *Node) AttributeDef(addr datamodel.Address) (*datamodel.AttributeDef, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lookupDef(addr)
}

// RestoreAttributes replays persisted attribute records through the normal
// write path, so subscribers drive outputs to the restored state. Records
// that no longer resolve are logged and skipped.
func (n *Node) RestoreAttributes(st store.Store) error {
	records, err := st.ListAttributes()
	if err != nil {
		return fmt.Errorf("node: list persisted attributes: %w", err)
	}
	restored := 0
	for _, rec := range records {
		value, _, err := datamodel.DecodeValue(rec.DataType, rec.Data)
		if err != nil {
			n.logger.Warn("persisted attribute undecodable, skipped", "addr", rec.Address.String(), "err", err)
			continue
		}
		if err := n.WriteAttribute(rec.Address, value); err != nil {
			n.logger.Warn("persisted attribute not restored", "addr", rec.Address.String(), "err", err)
			continue
		}
		restored++
	}
	if restored > 0 {
		n.logger.Info("attributes restored", "count", restored)
	}
	return nil
}

// lookupDef resolves an address to its attribute definition. Caller holds
// at least a read lock.
func (n *Node) lookupDef(addr datamodel.Address) (*datamodel.AttributeDef, error) {
	ep := n.endpoints[addr.Endpoint]
	if ep == nil {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	cs := ep.clusters[addr.Cluster]
	if cs == nil {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	def := cs.def.FindAttribute(addr.Attribute)
	if def == nil {
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	}
	cp := *def
	return &cp, nil
}

// notify delivers a notification to all subscribers. At PreApply the first
// subscriber error aborts delivery and is returned; at PostApply errors
// are logged and delivery continues.
func (n *Node) notify(note Notification) error {
	n.subMu.RLock()
	subs := make([]Subscriber, 0, len(n.subOrder))
	for _, id := range n.subOrder {
		if fn, ok := n.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	n.subMu.RUnlock()

	for _, fn := range subs {
		if err := fn(note); err != nil {
			if note.Phase == PreApply {
				return err
			}
			n.logger.Warn("post-apply subscriber error", "addr", note.Address.String(), "err", err)
		}
	}
	return nil
}

func (n *Node) persist(addr datamodel.Address, typeID uint8, value interface{}) {
	if n.store == nil {
		return
	}
	data, err := datamodel.EncodeValue(typeID, value)
	if err != nil {
		n.logger.Error("persist encode failed", "addr", addr.String(), "err", err)
		return
	}
	err = n.store.SaveAttribute(&store.AttributeState{Address: addr, DataType: typeID, Data: data})
	if err != nil {
		n.logger.Error("persist failed", "addr", addr.String(), "err", err)
	}
}

// fireIdentify surfaces writes to IdentifyTime as identify device events.
func (n *Node) fireIdentify(addr datamodel.Address, value interface{}) {
	if addr.Cluster != datamodel.ClusterIdentify || addr.Attribute != datamodel.AttrIdentifyTime {
		return
	}
	n.sinkMu.RLock()
	sink := n.sink
	n.sinkMu.RUnlock()

	secs, _ := value.(uint16)
	if secs > 0 {
		sink.DeviceEvent(DeviceEvent{Type: EventIdentifyStart, Endpoint: addr.Endpoint, Duration: secs})
	} else {
		sink.DeviceEvent(DeviceEvent{Type: EventIdentifyStop, Endpoint: addr.Endpoint})
	}
}

// coerceValue normalizes a value to the attribute's canonical Go type by
// round-tripping it through the wire codec.
func coerceValue(typeID uint8, value interface{}) (interface{}, error) {
	data, err := datamodel.EncodeValue(typeID, value)
	if err != nil {
		return nil, err
	}
	v, _, err := datamodel.DecodeValue(typeID, data)
	if err != nil {
		return nil, err
	}
	return v, nil
}
