// Package ble is the transport boundary to the platform Bluetooth LE stack.
// The session package drives it only through the Adapter, Connection and
// Characteristic interfaces; TinyGoAdapter talks to real hardware and
// FakeAdapter scripts it for tests.
package ble

import "context"

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Subscribe registers a callback for notifications on this characteristic.
	// The payload slice is only valid for the duration of the callback.
	Subscribe(callback func(payload []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection. Calling it more than once is safe.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements through found until ctx is done or the
	// scan fails. An empty serviceUUID reports every advertiser. A scan
	// ended by ctx returns nil.
	Scan(ctx context.Context, serviceUUID string, found func(Device)) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
