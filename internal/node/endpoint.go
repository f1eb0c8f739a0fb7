package node

import (
	"fmt"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
)

// Endpoint is one logical sub-device on the node.
type Endpoint struct {
	ID         datamodel.EndpointID
	Name       string
	DeviceType datamodel.DeviceTypeID

	clusters map[datamodel.ClusterID]*clusterState
	order    []datamodel.ClusterID
}

type clusterState struct {
	def    *datamodel.ClusterDef
	values map[datamodel.AttributeID]interface{}
}

// seed sets an initial value without notifications. Caller holds the node
// write lock.
func (ep *Endpoint) seed(cluster datamodel.ClusterID, attr datamodel.AttributeID, v interface{}) {
	if cs := ep.clusters[cluster]; cs != nil {
		cs.values[attr] = v
	}
}

// OnOffLightConfig configures an on/off light endpoint.
type OnOffLightConfig struct {
	Name  string
	OnOff bool
}

// NewOnOffLight adds an on/off light endpoint and returns it.
func (n *Node) NewOnOffLight(cfg OnOffLightConfig) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, err := n.addEndpoint(n.nextID, cfg.Name, datamodel.DeviceTypeOnOffLight,
		datamodel.ClusterIdentify, datamodel.ClusterOnOff)
	if err != nil {
		return nil, err
	}
	n.nextID++
	ep.seed(datamodel.ClusterOnOff, datamodel.AttrOnOff, cfg.OnOff)
	return ep, nil
}

// OnOffPluginUnitConfig configures an on/off plugin unit endpoint.
type OnOffPluginUnitConfig struct {
	Name  string
	OnOff bool
}

// NewOnOffPluginUnit adds an on/off plugin unit endpoint and returns it.
func (n *Node) NewOnOffPluginUnit(cfg OnOffPluginUnitConfig) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, err := n.addEndpoint(n.nextID, cfg.Name, datamodel.DeviceTypeOnOffPluginUnit,
		datamodel.ClusterIdentify, datamodel.ClusterOnOff)
	if err != nil {
		return nil, err
	}
	n.nextID++
	ep.seed(datamodel.ClusterOnOff, datamodel.AttrOnOff, cfg.OnOff)
	return ep, nil
}

// WindowCoveringConfig configures a window covering endpoint.
type WindowCoveringConfig struct {
	Name string
	Type uint8 // covering type, 0 = rollershade
}

// NewWindowCovering adds a window covering endpoint and returns it.
func (n *Node) NewWindowCovering(cfg WindowCoveringConfig) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	ep, err := n.addEndpoint(n.nextID, cfg.Name, datamodel.DeviceTypeWindowCovering,
		datamodel.ClusterIdentify, datamodel.ClusterWindowCovering)
	if err != nil {
		return nil, err
	}
	n.nextID++
	ep.seed(datamodel.ClusterWindowCovering, datamodel.AttrWindowCoveringType, cfg.Type)
	ep.seed(datamodel.ClusterWindowCovering, datamodel.AttrConfigStatus, uint8(0x01))
	return ep, nil
}

// addEndpoint instantiates an endpoint with the given clusters. Cluster
// definitions come from the registry with the global attributes appended.
// Caller holds the node write lock.
func (n *Node) addEndpoint(id datamodel.EndpointID, name string, devType datamodel.DeviceTypeID, clusters ...datamodel.ClusterID) (*Endpoint, error) {
	if _, exists := n.endpoints[id]; exists {
		return nil, fmt.Errorf("node: endpoint %d already exists", id)
	}
	ep := &Endpoint{
		ID:         id,
		Name:       name,
		DeviceType: devType,
		clusters:   make(map[datamodel.ClusterID]*clusterState),
	}
	for _, cid := range clusters {
		def := n.registry.Get(cid)
		if def == nil {
			return nil, fmt.Errorf("node: cluster 0x%04X not in registry", uint32(cid))
		}
		def.Merge(&datamodel.ClusterDef{Attributes: datamodel.GlobalAttributes()})
		cs := &clusterState{def: def, values: make(map[datamodel.AttributeID]interface{})}
		for _, a := range def.Attributes {
			cs.values[a.ID] = defaultValue(a.Type)
		}
		cs.values[datamodel.GlobalAttrClusterRevision] = clusterRevision(cid)
		ep.clusters[cid] = cs
		ep.order = append(ep.order, cid)
	}
	n.endpoints[id] = ep
	n.order = append(n.order, id)
	n.logger.Info("endpoint added", "id", id, "name", name, "type", datamodel.DeviceTypeName(devType))
	return ep, nil
}

func defaultValue(typeID uint8) interface{} {
	switch typeID {
	case datamodel.TypeBool:
		return false
	case datamodel.TypeBitmap8, datamodel.TypeUint8, datamodel.TypeEnum8:
		return uint8(0)
	case datamodel.TypeBitmap16, datamodel.TypeUint16, datamodel.TypeEnum16:
		return uint16(0)
	case datamodel.TypeBitmap32, datamodel.TypeUint32:
		return uint32(0)
	case datamodel.TypeString:
		return ""
	default:
		return nil
	}
}

// Cluster revisions reported by the global ClusterRevision attribute.
func clusterRevision(id datamodel.ClusterID) uint16 {
	switch id {
	case datamodel.ClusterBasicInformation:
		return 3
	case datamodel.ClusterIdentify:
		return 4
	case datamodel.ClusterOnOff:
		return 6
	case datamodel.ClusterWindowCovering:
		return 5
	default:
		return 1
	}
}

// Info is a full snapshot of the node for the admin API. Identity fields
// reflect the live Basic Information values, so a written NodeLabel shows
// up here.
type Info struct {
	VendorName      string         `json:"vendor_name"`
	VendorID        uint16         `json:"vendor_id"`
	ProductName     string         `json:"product_name"`
	ProductID       uint16         `json:"product_id"`
	SerialNumber    string         `json:"serial_number"`
	NodeLabel       string         `json:"node_label"`
	SoftwareVersion string         `json:"software_version"`
	Endpoints       []EndpointInfo `json:"endpoints"`
}

// EndpointInfo is a read-only snapshot of one endpoint.
type EndpointInfo struct {
	ID             datamodel.EndpointID   `json:"id"`
	Name           string                 `json:"name"`
	DeviceType     datamodel.DeviceTypeID `json:"device_type"`
	DeviceTypeName string                 `json:"device_type_name"`
	Clusters       []ClusterInfo          `json:"clusters"`
}

// ClusterInfo is a snapshot of one cluster instance.
type ClusterInfo struct {
	ID         datamodel.ClusterID `json:"id"`
	Name       string              `json:"name"`
	Attributes []AttributeInfo     `json:"attributes"`
}

// AttributeInfo is a snapshot of one attribute with its current value.
type AttributeInfo struct {
	ID    datamodel.AttributeID `json:"id"`
	Name  string                `json:"name"`
	Type  string                `json:"type"`
	Value interface{}           `json:"value"`
}

// Info returns a snapshot of the whole node.
func (n *Node) Info() Info {
	n.mu.RLock()
	defer n.mu.RUnlock()

	info := Info{
		VendorID:  n.cfg.VendorID,
		ProductID: n.cfg.ProductID,
	}
	if root := n.endpoints[0]; root != nil {
		if cs := root.clusters[datamodel.ClusterBasicInformation]; cs != nil {
			info.VendorName, _ = cs.values[datamodel.AttrVendorName].(string)
			info.ProductName, _ = cs.values[datamodel.AttrProductName].(string)
			info.SerialNumber, _ = cs.values[datamodel.AttrSerialNumber].(string)
			info.NodeLabel, _ = cs.values[datamodel.AttrNodeLabel].(string)
			info.SoftwareVersion, _ = cs.values[datamodel.AttrSoftwareVersionString].(string)
		}
	}
	for _, id := range n.order {
		info.Endpoints = append(info.Endpoints, n.snapshotEndpoint(n.endpoints[id]))
	}
	return info
}

// Endpoints returns snapshots of all endpoints in creation order.
func (n *Node) Endpoints() []EndpointInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(n.order))
	for _, id := range n.order {
		out = append(out, n.snapshotEndpoint(n.endpoints[id]))
	}
	return out
}

// Endpoint returns a snapshot of one endpoint.
func (n *Node) Endpoint(id datamodel.EndpointID) (*EndpointInfo, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ep := n.endpoints[id]
	if ep == nil {
		return nil, fmt.Errorf("endpoint %d: %w", id, ErrNotFound)
	}
	info := n.snapshotEndpoint(ep)
	return &info, nil
}

// snapshotEndpoint builds an EndpointInfo. Caller holds at least a read
// lock.
func (n *Node) snapshotEndpoint(ep *Endpoint) EndpointInfo {
	info := EndpointInfo{
		ID:             ep.ID,
		Name:           ep.Name,
		DeviceType:     ep.DeviceType,
		DeviceTypeName: datamodel.DeviceTypeName(ep.DeviceType),
	}
	for _, cid := range ep.order {
		cs := ep.clusters[cid]
		ci := ClusterInfo{ID: cid, Name: cs.def.Name}
		for _, a := range cs.def.Attributes {
			ci.Attributes = append(ci.Attributes, AttributeInfo{
				ID:    a.ID,
				Name:  a.Name,
				Type:  datamodel.TypeName(a.Type),
				Value: cs.values[a.ID],
			})
		}
		info.Clusters = append(info.Clusters, ci)
	}
	return info
}
