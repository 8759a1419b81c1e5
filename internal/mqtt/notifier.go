package mqtt

import (
	"log/slog"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
)

// Notifier forwards session events to a Publisher. It satisfies
// session.Observer. Publish failures are logged and dropped.
type Notifier struct {
	pub Publisher
	now func() time.Time
}

// NewNotifier creates a Notifier publishing through pub.
func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub, now: time.Now}
}

// ConnectionEstablished publishes a CONNECTED event.
func (n *Notifier) ConnectionEstablished(address string) {
	n.connection(ConnectionEvent{
		Timestamp: n.now(),
		Event:     EventConnected,
		Address:   address,
	})
}

// ConnectionLost publishes DISCONNECTED for a requested disconnect and
// LINK_LOST, with the cause as reason, otherwise.
func (n *Notifier) ConnectionLost(address string, cause error) {
	event := ConnectionEvent{
		Timestamp: n.now(),
		Event:     EventDisconnected,
		Address:   address,
	}
	if cause != nil {
		event.Event = EventLinkLost
		event.Reason = cause.Error()
	}
	n.connection(event)
}

// DataReceived publishes the reading.
func (n *Notifier) DataReceived(data bike.Data) {
	if err := n.pub.PublishData(data); err != nil {
		slog.Warn("[MQTT] publish data", "error", err)
	}
}

func (n *Notifier) connection(event ConnectionEvent) {
	if err := n.pub.PublishConnection(event); err != nil {
		slog.Warn("[MQTT] publish connection", "event", event.Event, "error", err)
		return
	}
	slog.Debug("[MQTT] published connection", "event", event.Event, "address", event.Address)
}
