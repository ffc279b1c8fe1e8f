// Package ble manages the BLE session with the jump sensor units: peripheral
// discovery, the connect/reconnect lifecycle, and routing of decoded
// notification frames to a sensor.Sink.
package ble

// Default UUIDs of the serial-over-BLE service exposed by the sensor firmware.
const (
	DefaultServiceUUID  = "713d0000-503e-4c75-ba94-3148f18d941e"
	DefaultDataCharUUID = "713d0002-503e-4c75-ba94-3148f18d941e"
)

// Peripheral is a handle to a discovered sensor unit. ID is the transport's
// unique address for the device. The transport owns the underlying device;
// holders keep only the handle.
type Peripheral struct {
	ID   string
	Name string
	RSSI int
}

// PeripheralStatus is the session's view of a peripheral it asked for.
type PeripheralStatus int

const (
	PeripheralDiscovered PeripheralStatus = iota
	PeripheralConnecting
	PeripheralConnected
	PeripheralDisconnected
)

func (s PeripheralStatus) String() string {
	switch s {
	case PeripheralDiscovered:
		return "discovered"
	case PeripheralConnecting:
		return "connecting"
	case PeripheralConnected:
		return "connected"
	case PeripheralDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Transport abstracts the BLE stack. Requests are fire-and-forget: results
// arrive later through the registered EventHandler, possibly on another
// goroutine and possibly before the request call returns.
type Transport interface {
	// SetHandler registers the receiver of all transport events.
	SetHandler(h EventHandler)
	// StartScanning begins discovery of peripherals advertising any of the
	// given service UUIDs.
	StartScanning(serviceUUIDs []string) error
	// StopScanning ends discovery.
	StopScanning() error
	// Connect requests a connection. Success is reported by
	// PeripheralReady, failure by ConnectFailed.
	Connect(p Peripheral) error
	// EnableNotifications subscribes to the peripheral's data characteristic.
	EnableNotifications(p Peripheral) error
	// Disconnect drops a single peripheral.
	Disconnect(p Peripheral) error
	// DisconnectAll drops every connected peripheral.
	DisconnectAll() error
}

// EventHandler receives asynchronous transport events.
type EventHandler interface {
	PeripheralDiscovered(p Peripheral)
	DiscoveryRefreshed()
	PeripheralReady(p Peripheral)
	PeripheralDisconnected(p Peripheral)
	ConnectFailed(p Peripheral, err error)
	PoweredOff()
	Notification(p Peripheral, data []byte)
}
