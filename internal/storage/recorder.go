package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/robplow/ebike-monitor/internal/bike"
)

const writeTimeout = 5 * time.Second

// Recorder writes session events to a History. It satisfies
// session.Observer. Write failures are logged and dropped.
type Recorder struct {
	history *History
	now     func() time.Time
}

// NewRecorder creates a Recorder writing to history.
func NewRecorder(history *History) *Recorder {
	return &Recorder{history: history, now: time.Now}
}

// ConnectionEstablished records a connected event.
func (r *Recorder) ConnectionEstablished(address string) {
	r.event(ConnectionEvent{OccurredAt: r.now(), Address: address, Event: EventConnected})
}

// ConnectionLost records a disconnected event, or link_lost with the cause
// when the link dropped on its own.
func (r *Recorder) ConnectionLost(address string, cause error) {
	e := ConnectionEvent{OccurredAt: r.now(), Address: address, Event: EventDisconnected}
	if cause != nil {
		e.Event = EventLinkLost
		e.Reason = cause.Error()
	}
	r.event(e)
}

// DataReceived records the reading.
func (r *Recorder) DataReceived(data bike.Data) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := r.history.AddReading(ctx, data); err != nil {
		slog.Warn("[STORAGE] record reading", "error", err)
	}
}

func (r *Recorder) event(e ConnectionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := r.history.AddConnectionEvent(ctx, e); err != nil {
		slog.Warn("[STORAGE] record connection event", "event", e.Event, "error", err)
	}
}
