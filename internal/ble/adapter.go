// Package ble defines the transport boundary between the Anova client and
// the underlying Bluetooth Low Energy stack. The core talks to these
// interfaces only; the production implementation wraps tinygo.org/x/bluetooth
// and tests substitute mocks.
package ble

import "context"

// Anova Precision Cooker A2/A3 GATT UUIDs.
const (
	ServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Peripheral describes a BLE device seen during a scan.
type Peripheral struct {
	Name         string
	Address      string
	RSSI         int
	ServiceUUIDs []string
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read performs a direct characteristic read.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// Unsubscribe disables notifications.
	Unsubscribe() error
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers nearby BLE peripherals until ctx is cancelled.
	Scan(ctx context.Context) ([]Peripheral, error)
	// Connect establishes a connection to the device at the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
