// Package mqtt publishes bike connection events, decoded readings and
// system heartbeats to an MQTT broker, with a fake for tests.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
	"github.com/robplow/ebike-monitor/internal/session"
)

// Connection event names.
const (
	EventConnected    = "CONNECTED"
	EventDisconnected = "DISCONNECTED"
	EventLinkLost     = "LINK_LOST"
	EventOffline      = "OFFLINE" // last will, published by the broker
)

// System event names.
const (
	EventStartup   = "STARTUP"
	EventShutdown  = "SHUTDOWN"
	EventHeartbeat = "HEARTBEAT"
)

// Topics are the per-bike topics, all under <prefix>/<bike slug>/.
type Topics struct {
	Connection string // QoS 1, retained
	Data       string // QoS 0
	System     string // QoS 1
}

// NewTopics builds the topic set for a bike.
func NewTopics(prefix, bikeName string) Topics {
	base := strings.TrimSuffix(prefix, "/") + "/" + Slug(bikeName)
	return Topics{
		Connection: base + "/connection",
		Data:       base + "/data",
		System:     base + "/system",
	}
}

// Slug lowercases name and collapses anything that is not a letter or digit
// into single dashes, e.g. "Bosch eBike #2" -> "bosch-ebike-2".
func Slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	if b.Len() == 0 {
		return "bike"
	}
	return b.String()
}

// Publisher publishes bike events to MQTT.
type Publisher interface {
	// PublishConnection sends a connection change. Errors are returned for
	// logging and should not stop the caller.
	PublishConnection(event ConnectionEvent) error

	// PublishData sends one decoded reading.
	PublishData(data bike.Data) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// ConnectionEvent is a bike link coming up or going down.
type ConnectionEvent struct {
	Timestamp time.Time
	Event     string // EventConnected, EventDisconnected, EventLinkLost
	Address   string
	Reason    string
}

// SystemEvent is a daemon lifecycle event carrying the session status.
type SystemEvent struct {
	Timestamp time.Time
	Event     string // EventStartup, EventShutdown, EventHeartbeat
	Reason    string // e.g. "SIGTERM" (shutdown only)
	State     string
	Address   string
	Data      bike.Field[bike.Data]
}

// NewSystemEvent stamps a lifecycle event with the session's state, link
// address and last known reading.
func NewSystemEvent(event, reason string, snap session.Snapshot, now time.Time) SystemEvent {
	return SystemEvent{
		Timestamp: now,
		Event:     event,
		Reason:    reason,
		State:     snap.State.String(),
		Address:   snap.Address,
		Data:      snap.Data,
	}
}

// ConnectionPayload is the JSON body of a connection message.
type ConnectionPayload struct {
	Connection ConnectionInner `json:"connection"`
}

// ConnectionInner contains the connection event details.
type ConnectionInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Address   string `json:"address,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// FormatConnectionPayload creates the JSON payload for a connection event.
func FormatConnectionPayload(event ConnectionEvent) ([]byte, error) {
	return json.Marshal(ConnectionPayload{
		Connection: ConnectionInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Address:   event.Address,
			Reason:    event.Reason,
		},
	})
}

// DataPayload is the JSON body of a data message.
type DataPayload struct {
	Data Reading `json:"data"`
}

// Reading is a decoded notification. Fields the payload did not carry are
// omitted.
type Reading struct {
	Timestamp  string   `json:"timestamp,omitempty"`
	Battery    *int     `json:"battery,omitempty"`
	Assist     *int     `json:"assist,omitempty"`
	AssistName string   `json:"assistName,omitempty"`
	Speed      *float64 `json:"speed,omitempty"`
	Raw        string   `json:"raw"`
}

// NewReading converts d for JSON output.
func NewReading(d bike.Data) Reading {
	r := Reading{Raw: d.Raw}
	if !d.CapturedAt.IsZero() {
		r.Timestamp = d.CapturedAt.UTC().Format(time.RFC3339Nano)
	}
	if v, ok := d.Battery.Get(); ok {
		r.Battery = &v
	}
	if v, ok := d.Assist.Get(); ok {
		r.Assist = &v
		r.AssistName = bike.AssistModeName(v)
	}
	if v, ok := d.Speed.Get(); ok {
		r.Speed = &v
	}
	return r
}

// FormatDataPayload creates the JSON payload for a decoded reading.
func FormatDataPayload(d bike.Data) ([]byte, error) {
	return json.Marshal(DataPayload{Data: NewReading(d)})
}

// SystemPayload is the JSON body of a system message.
type SystemPayload struct {
	System SystemInner `json:"system"`
}

// SystemInner contains the system event details.
type SystemInner struct {
	Timestamp string   `json:"timestamp"`
	Event     string   `json:"event"`
	Reason    string   `json:"reason,omitempty"`
	State     string   `json:"state,omitempty"`
	Address   string   `json:"address,omitempty"`
	Data      *Reading `json:"data,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	inner := SystemInner{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Event:     event.Event,
		Reason:    event.Reason,
		State:     event.State,
		Address:   event.Address,
	}
	if d, ok := event.Data.Get(); ok {
		r := NewReading(d)
		inner.Data = &r
	}
	return json.Marshal(SystemPayload{System: inner})
}
