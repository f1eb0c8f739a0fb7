package node

import "github.com/wakky-alcedo/auto-curtain/internal/datamodel"

// Phase says where in the write path a notification was issued.
type Phase uint8

const (
	// PreApply fires before the new value becomes visible in the store.
	// A subscriber error at this phase rejects the write.
	PreApply Phase = iota
	// PostApply fires after the value has been applied.
	PostApply
)

func (p Phase) String() string {
	switch p {
	case PreApply:
		return "pre_apply"
	case PostApply:
		return "post_apply"
	default:
		return "unknown"
	}
}

// Notification is delivered to subscribers on every attribute write.
type Notification struct {
	Address datamodel.Address
	Value   interface{}
	Phase   Phase
}

// Subscriber receives write notifications. Returning a non-nil error from a
// PreApply notification rejects the write; errors from PostApply are ignored.
type Subscriber func(Notification) error

// Device event types.
const (
	EventStarted       = "started"
	EventFactoryReset  = "factory_reset"
	EventIdentifyStart = "identify_start"
	EventIdentifyStop  = "identify_stop"
)

// DeviceEvent is a node lifecycle or identify event.
type DeviceEvent struct {
	Type     string               `json:"type"`
	Endpoint datamodel.EndpointID `json:"endpoint,omitempty"`
	Duration uint16               `json:"duration,omitempty"`
}

// DeviceEventSink receives device events. Glue code that does not care
// installs nothing and gets NopSink behavior.
type DeviceEventSink interface {
	DeviceEvent(DeviceEvent)
}

// NopSink discards all device events.
type NopSink struct{}

func (NopSink) DeviceEvent(DeviceEvent) {}
