package mqtt

import (
	"sync"

	"github.com/robplow/ebike-monitor/internal/bike"
)

// FakePublisher records published events for test assertions. It is safe
// for concurrent use since session observers publish from their own
// goroutine.
type FakePublisher struct {
	mu sync.Mutex

	connections    []ConnectionEvent
	data           []bike.Data
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	// PublishError, if set, is returned by every Publish method.
	PublishError error

	closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishConnection records the connection event.
func (f *FakePublisher) PublishConnection(event ConnectionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.connections = append(f.connections, event)
	return nil
}

// PublishData records the reading.
func (f *FakePublisher) PublishData(data bike.Data) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.data = append(f.data, data)
	return nil
}

// PublishSystem records the system event and its payload.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Connections returns the recorded connection events.
func (f *FakePublisher) Connections() []ConnectionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ConnectionEvent(nil), f.connections...)
}

// Data returns the recorded readings.
func (f *FakePublisher) Data() []bike.Data {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bike.Data(nil), f.data...)
}

// SystemEvents returns the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns the JSON payloads of the recorded system events.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connections = nil
	f.data = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.closed = false
	f.PublishError = nil
}
