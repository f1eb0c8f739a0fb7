//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wakky-alcedo/auto-curtain/internal/datamodel"
	"github.com/wakky-alcedo/auto-curtain/internal/device"
	"github.com/wakky-alcedo/auto-curtain/internal/node"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
}

// Bridge publishes endpoint state to MQTT with HA autodiscovery and
// turns command topics into attribute writes.
type Bridge struct {
	client pahomqtt.Client
	dev    *device.Device
	prefix string
	logger *slog.Logger
	unsub  func()
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(dev *device.Device, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := &Bridge{
		dev:    dev,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("auto-curtain-" + dev.Node().Info().SerialNumber).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(cfg.TopicPrefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishBridgeState("online")
			b.publishDiscovery()
			b.subscribeCommands()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	b.client = client
	return b, nil
}

// Start subscribes to device events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.dev.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, unsubscribes, and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

// handleEvent runs on the bus, possibly inside the node's write path.
// It only publishes, never writes back.
func (b *Bridge) handleEvent(event device.Event) {
	if event.Type != device.EventAttributeUpdate {
		return
	}
	upd, ok := event.Data.(device.AttributeUpdate)
	if !ok {
		return
	}

	payload := statePayload(upd.Address, upd.Value)
	if payload == "" {
		return
	}

	ep, err := b.dev.Node().Endpoint(upd.Address.Endpoint)
	if err != nil {
		return
	}
	topic := b.prefix + "/" + endpointTopic(ep.Name, ep.ID) + "/state"
	b.publish(topic, []byte(payload), true)
}

func (b *Bridge) publishBridgeState(state string) {
	topic := b.prefix + "/bridge/state"
	b.publish(topic, []byte(state), true)
}

func (b *Bridge) publishDiscovery() {
	info := b.dev.Node().Info()
	for _, msg := range buildDiscovery(info, b.prefix) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	b.logger.Info("published HA discovery", "device", nodeDisplayName(info))
}

func (b *Bridge) subscribeCommands() {
	for _, ep := range b.dev.Node().Endpoints() {
		if ep.ID == 0 {
			continue
		}
		ep := ep
		topic := b.prefix + "/" + endpointTopic(ep.Name, ep.ID) + "/set"
		b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			b.handleCommand(ep, msg.Payload())
		})
	}
}

// handleCommand turns a command payload into an attribute write. It runs
// on a paho goroutine, never on the bus emit path, so writing directly
// is safe.
func (b *Bridge) handleCommand(ep node.EndpointInfo, payload []byte) {
	cmd := parseCommand(payload)
	if cmd == "" {
		b.logger.Warn("invalid command payload", "endpoint", ep.ID, "payload", string(payload))
		return
	}

	switch ep.DeviceType {
	case datamodel.DeviceTypeWindowCovering:
		addr := datamodel.Address{
			Endpoint:  ep.ID,
			Cluster:   datamodel.ClusterWindowCovering,
			Attribute: datamodel.AttrOperationalStatus,
		}
		switch cmd {
		case "OPEN":
			b.write(addr, uint8(1))
		case "CLOSE":
			b.write(addr, uint8(0))
		case "STOP":
			// No positioning, nothing to interrupt.
			b.logger.Debug("stop command ignored", "endpoint", ep.ID)
		default:
			b.logger.Warn("unsupported cover command", "endpoint", ep.ID, "command", cmd)
		}
	default:
		addr := datamodel.Address{
			Endpoint:  ep.ID,
			Cluster:   datamodel.ClusterOnOff,
			Attribute: datamodel.AttrOnOff,
		}
		switch cmd {
		case "ON":
			b.write(addr, true)
		case "OFF":
			b.write(addr, false)
		case "TOGGLE":
			v, err := b.dev.Node().ReadAttribute(addr)
			if err != nil {
				b.logger.Warn("toggle read failed", "endpoint", ep.ID, "err", err)
				return
			}
			on, _ := v.(bool)
			b.write(addr, !on)
		default:
			b.logger.Warn("unsupported switch command", "endpoint", ep.ID, "command", cmd)
		}
	}
}

func (b *Bridge) write(addr datamodel.Address, value interface{}) {
	if err := b.dev.Node().WriteAttribute(addr, value); err != nil {
		b.logger.Warn("command write failed", "addr", addr.String(), "err", err)
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

// parseCommand accepts a bare command string or JSON {"state": "..."}
// and returns the normalized upper-case command. Empty means the payload
// is not a known command.
func parseCommand(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, "{") {
		var cmd struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return ""
		}
		text = cmd.State
	}
	text = strings.ToUpper(strings.TrimSpace(text))
	switch text {
	case "ON", "OFF", "TOGGLE", "OPEN", "CLOSE", "STOP":
		return text
	}
	return ""
}

// statePayload maps an attribute update to the state string published
// for it. Empty means the attribute has no MQTT representation.
func statePayload(addr datamodel.Address, value interface{}) string {
	switch {
	case addr.Cluster == datamodel.ClusterOnOff && addr.Attribute == datamodel.AttrOnOff:
		if on, ok := value.(bool); ok {
			if on {
				return "ON"
			}
			return "OFF"
		}
	case addr.Cluster == datamodel.ClusterWindowCovering && addr.Attribute == datamodel.AttrOperationalStatus:
		if v, ok := value.(uint8); ok {
			if v != 0 {
				return "open"
			}
			return "closed"
		}
	}
	return ""
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
