//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"strings"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/cover/auto_curtain_SN42/bedroom/config"
	Payload []byte
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
	SwVersion    string   `json:"sw_version,omitempty"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name              string   `json:"name"`
	UniqueID          string   `json:"unique_id"`
	StateTopic        string   `json:"state_topic"`
	CommandTopic      string   `json:"command_topic,omitempty"`
	AvailabilityTopic string   `json:"availability_topic"`
	PayloadOn         string   `json:"payload_on,omitempty"`
	PayloadOff        string   `json:"payload_off,omitempty"`
	PayloadOpen       string   `json:"payload_open,omitempty"`
	PayloadClose      string   `json:"payload_close,omitempty"`
	StateOpen         string   `json:"state_open,omitempty"`
	StateClosed       string   `json:"state_closed,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	Device            haDevice `json:"device"`
}

// nodeIdentifier returns the unique identifier for the HA device registry.
func nodeIdentifier(info node.Info) string {
	return "auto_curtain_" + info.SerialNumber
}

// nodeDisplayName returns a display name for the node.
func nodeDisplayName(info node.Info) string {
	if info.NodeLabel != "" {
		return info.NodeLabel
	}
	if info.ProductName != "" {
		return info.ProductName
	}
	return info.SerialNumber
}

// endpointTopic returns the topic segment for an endpoint: its name
// sanitized for MQTT, or endpoint_<id> when unnamed.
func endpointTopic(name string, id datamodel.EndpointID) string {
	if name == "" {
		return fmt.Sprintf("endpoint_%d", id)
	}
	s := strings.ToLower(name)
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, s)
}

// buildDiscovery generates HA discovery messages for every switchable
// endpoint: switch for on/off lights and plugin units, cover for window
// coverings. The root endpoint carries no controls.
func buildDiscovery(info node.Info, prefix string) []discoveryMsg {
	avail := prefix + "/bridge/state"
	nodeID := nodeIdentifier(info)
	displayName := nodeDisplayName(info)

	haDev := haDevice{
		Identifiers:  []string{nodeID},
		Manufacturer: info.VendorName,
		Model:        info.ProductName,
		Name:         displayName,
		SwVersion:    info.SoftwareVersion,
	}

	var msgs []discoveryMsg
	for _, ep := range info.Endpoints {
		if ep.ID == 0 {
			continue
		}
		epTopic := endpointTopic(ep.Name, ep.ID)
		stateTopic := prefix + "/" + epTopic + "/state"
		cmdTopic := prefix + "/" + epTopic + "/set"
		epName := ep.Name
		if epName == "" {
			epName = fmt.Sprintf("Endpoint %d", ep.ID)
		}
		entityName := displayName + " " + epName

		switch ep.DeviceType {
		case datamodel.DeviceTypeWindowCovering:
			msgs = append(msgs, buildCover(nodeID, epTopic, entityName, stateTopic, cmdTopic, avail, haDev))
		case datamodel.DeviceTypeOnOffLight, datamodel.DeviceTypeOnOffPluginUnit:
			msgs = append(msgs, buildSwitch(nodeID, epTopic, entityName, stateTopic, cmdTopic, avail, haDev))
		}
	}
	return msgs
}

func buildSwitch(nodeID, objectID, name, stateTopic, cmdTopic, avail string, haDev haDevice) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/switch/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              name,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		PayloadOn:         "ON",
		PayloadOff:        "OFF",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}

func buildCover(nodeID, objectID, name, stateTopic, cmdTopic, avail string, haDev haDevice) discoveryMsg {
	topic := fmt.Sprintf("homeassistant/cover/%s/%s/config", nodeID, objectID)
	payload := haDiscovery{
		Name:              name,
		UniqueID:          nodeID + "_" + objectID,
		StateTopic:        stateTopic,
		CommandTopic:      cmdTopic,
		AvailabilityTopic: avail,
		PayloadOpen:       "OPEN",
		PayloadClose:      "CLOSE",
		StateOpen:         "open",
		StateClosed:       "closed",
		DeviceClass:       "curtain",
		Device:            haDev,
	}
	return discoveryMsg{Topic: topic, Payload: mustJSON(payload)}
}
