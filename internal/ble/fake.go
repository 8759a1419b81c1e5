package ble

import (
	"context"
	"fmt"
	"sync"
)

// FakeAdapter is a scriptable Adapter for tests. Set the exported fields
// before handing it to the code under test.
type FakeAdapter struct {
	// Devices are reported, in order, at the start of every Scan.
	Devices []Device

	// EnableError, ScanError and ConnectError, if set, are returned by the
	// corresponding method.
	EnableError  error
	ScanError    error
	ConnectError error

	// ConnectGate, if set, makes Connect wait until it is closed or receives
	// a value. Connect then succeeds even if ctx was cancelled meanwhile,
	// which reproduces a platform connect that cannot be aborted.
	ConnectGate chan struct{}

	// DiscoverError and SubscribeError are applied to new connections.
	DiscoverError  error
	SubscribeError error

	// DiscoverGate, if set, makes DiscoverCharacteristic on new connections
	// wait until it is closed, after the lookup is recorded.
	DiscoverGate chan struct{}

	mu          sync.Mutex
	scans       int
	connects    []string
	connections []*FakeConnection
}

// NewFakeAdapter returns a FakeAdapter that advertises devices.
func NewFakeAdapter(devices ...Device) *FakeAdapter {
	return &FakeAdapter{Devices: devices}
}

func (a *FakeAdapter) Enable() error { return a.EnableError }

// Scan reports Devices then blocks until ctx is done.
func (a *FakeAdapter) Scan(ctx context.Context, _ string, found func(Device)) error {
	a.mu.Lock()
	a.scans++
	devices := append([]Device(nil), a.Devices...)
	a.mu.Unlock()

	if a.ScanError != nil {
		return a.ScanError
	}
	for _, d := range devices {
		found(d)
	}
	<-ctx.Done()
	return nil
}

func (a *FakeAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	a.mu.Lock()
	a.connects = append(a.connects, address)
	a.mu.Unlock()

	if a.ConnectGate != nil {
		<-a.ConnectGate
	} else if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fake: connect to %s: %w", address, err)
	}
	if a.ConnectError != nil {
		return nil, a.ConnectError
	}

	conn := &FakeConnection{
		Address:        address,
		discoverError:  a.DiscoverError,
		subscribeError: a.SubscribeError,
		discoverGate:   a.DiscoverGate,
		char:           &FakeCharacteristic{},
	}
	a.mu.Lock()
	a.connections = append(a.connections, conn)
	a.mu.Unlock()
	return conn, nil
}

// ScanCount returns how many times Scan was called.
func (a *FakeAdapter) ScanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// ConnectAttempts returns the addresses passed to Connect, in order.
func (a *FakeAdapter) ConnectAttempts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.connects...)
}

// LatestConnection returns the most recently created connection, or nil.
func (a *FakeAdapter) LatestConnection() *FakeConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.connections) == 0 {
		return nil
	}
	return a.connections[len(a.connections)-1]
}

var _ Adapter = (*FakeAdapter)(nil)

// FakeConnection simulates an established link.
type FakeConnection struct {
	Address string

	discoverError  error
	subscribeError error
	discoverGate   chan struct{}
	char           *FakeCharacteristic

	mu           sync.Mutex
	discovered   []string
	disconnectCb func()
	disconnects  int
}

func (c *FakeConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.mu.Lock()
	c.discovered = append(c.discovered, serviceUUID+"/"+charUUID)
	c.mu.Unlock()
	if c.discoverGate != nil {
		<-c.discoverGate
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.discoverError != nil {
		return nil, c.discoverError
	}
	c.char.subscribeError = c.subscribeError
	return c.char, nil
}

func (c *FakeConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
	return nil
}

func (c *FakeConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// Disconnected reports whether Disconnect was called at least once.
func (c *FakeConnection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects > 0
}

// Discovered returns the "service/characteristic" pairs looked up so far.
func (c *FakeConnection) Discovered() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.discovered...)
}

// SimulateLinkLoss fires the OnDisconnect callback.
func (c *FakeConnection) SimulateLinkLoss() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Notify delivers payload to the status characteristic's subscriber.
func (c *FakeConnection) Notify(payload []byte) {
	c.char.Notify(payload)
}

var _ Connection = (*FakeConnection)(nil)

// FakeCharacteristic records its subscriber.
type FakeCharacteristic struct {
	mu             sync.Mutex
	callback       func([]byte)
	subscribeError error
}

func (c *FakeCharacteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeError != nil {
		return c.subscribeError
	}
	c.callback = cb
	return nil
}

// Subscribed reports whether a subscriber is registered.
func (c *FakeCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callback != nil
}

// Notify sends payload to the subscriber, if any.
func (c *FakeCharacteristic) Notify(payload []byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(payload)
	}
}

var _ Characteristic = (*FakeCharacteristic)(nil)
