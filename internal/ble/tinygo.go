package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// TinyGoTransport implements Transport on top of tinygo-org/bluetooth.
// Peripheral IDs are the adapter's address strings (MAC addresses on Linux
// and Windows, CoreBluetooth UUIDs on macOS).
type TinyGoTransport struct {
	adapter         *bluetooth.Adapter
	dataChar        bluetooth.UUID
	refreshInterval time.Duration

	mu          sync.Mutex
	handler     EventHandler
	enabled     bool
	scanning    bool
	services    []bluetooth.UUID
	seen        map[string]bool              // addresses reported in the current scan cycle
	addrs       map[string]bluetooth.Address // every address ever discovered
	lastRefresh time.Time
	conns       map[string]*tinyGoConnection // keyed by peripheral ID
}

type tinyGoConnection struct {
	peripheral Peripheral
	device     *bluetooth.Device
	char       *bluetooth.DeviceCharacteristic
}

// NewTinyGoTransport creates a transport on the default adapter that streams
// notifications from dataCharUUID. Known devices re-advertising after
// refreshInterval produce a DiscoveryRefreshed event.
func NewTinyGoTransport(dataCharUUID string, refreshInterval time.Duration) (*TinyGoTransport, error) {
	char, err := bluetooth.ParseUUID(dataCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse data characteristic UUID: %w", err)
	}
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Second
	}
	return &TinyGoTransport{
		adapter:         bluetooth.DefaultAdapter,
		dataChar:        char,
		refreshInterval: refreshInterval,
		seen:            make(map[string]bool),
		addrs:           make(map[string]bluetooth.Address),
		conns:           make(map[string]*tinyGoConnection),
	}, nil
}

// Compile-time check that TinyGoTransport implements Transport.
var _ Transport = (*TinyGoTransport)(nil)

func (t *TinyGoTransport) SetHandler(h EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *TinyGoTransport) h() EventHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

// enableLocked powers on the adapter once and installs the disconnect hook.
func (t *TinyGoTransport) enableLocked() error {
	if t.enabled {
		return nil
	}
	if err := t.adapter.Enable(); err != nil {
		return err
	}

	// tinygo/bluetooth reports disconnects through the adapter-level connect
	// handler with connected=false.
	t.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		t.mu.Lock()
		conn, ok := t.conns[id]
		delete(t.conns, id)
		h := t.handler
		t.mu.Unlock()
		if ok && h != nil {
			h.PeripheralDisconnected(conn.peripheral)
		}
	})
	t.enabled = true
	return nil
}

// StartScanning begins a fresh discovery cycle. Calling it while a scan is
// running only resets the set of reported devices.
func (t *TinyGoTransport) StartScanning(serviceUUIDs []string) error {
	services := make([]bluetooth.UUID, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse service UUID: %w", err)
		}
		services = append(services, u)
	}

	t.mu.Lock()
	if err := t.enableLocked(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	t.services = services
	clear(t.seen)
	if t.scanning {
		t.mu.Unlock()
		return nil
	}
	t.scanning = true
	t.mu.Unlock()

	go t.scan(services)
	return nil
}

func (t *TinyGoTransport) scan(services []bluetooth.UUID) {
	err := t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !advertisesAny(result, services) {
			return
		}
		t.onScanResult(result)
	})

	t.mu.Lock()
	unexpected := t.scanning
	t.scanning = false
	h := t.handler
	t.mu.Unlock()

	if err != nil && unexpected {
		slog.Error("[BLE] scan aborted", "error", err)
		if h != nil {
			h.PoweredOff()
		}
	}
}

func advertisesAny(result bluetooth.ScanResult, services []bluetooth.UUID) bool {
	for _, u := range services {
		if result.HasServiceUUID(u) {
			return true
		}
	}
	return false
}

func (t *TinyGoTransport) onScanResult(result bluetooth.ScanResult) {
	p := Peripheral{
		ID:   result.Address.String(),
		Name: result.LocalName(),
		RSSI: int(result.RSSI),
	}

	t.mu.Lock()
	known := t.seen[p.ID]
	t.seen[p.ID] = true
	t.addrs[p.ID] = result.Address
	refresh := known && time.Since(t.lastRefresh) >= t.refreshInterval
	if refresh {
		t.lastRefresh = time.Now()
	}
	h := t.handler
	t.mu.Unlock()

	if h == nil {
		return
	}
	switch {
	case !known:
		h.PeripheralDiscovered(p)
	case refresh:
		h.DiscoveryRefreshed()
	}
}

func (t *TinyGoTransport) StopScanning() error {
	t.mu.Lock()
	if !t.scanning {
		t.mu.Unlock()
		return nil
	}
	t.scanning = false
	t.mu.Unlock()
	return t.adapter.StopScan()
}

// Connect dials p in the background and reports PeripheralReady once the
// data characteristic is found.
func (t *TinyGoTransport) Connect(p Peripheral) error {
	t.mu.Lock()
	addr, ok := t.addrs[p.ID]
	services := t.services
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: peripheral %s was never discovered", p.ID)
	}

	go func() {
		conn, err := t.dial(p, addr, services)
		h := t.h()
		if h == nil {
			return
		}
		if err != nil {
			h.ConnectFailed(p, err)
			return
		}
		t.mu.Lock()
		t.conns[p.ID] = conn
		t.mu.Unlock()
		h.PeripheralReady(p)
	}()
	return nil
}

func (t *TinyGoTransport) dial(p Peripheral, addr bluetooth.Address, services []bluetooth.UUID) (*tinyGoConnection, error) {
	device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", p.ID, err)
	}

	svcs, err := device.DiscoverServices(services)
	if err != nil {
		_ = device.Disconnect()
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	for _, svc := range svcs {
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{t.dataChar})
		if err != nil || len(chars) == 0 {
			continue
		}
		return &tinyGoConnection{peripheral: p, device: &device, char: &chars[0]}, nil
	}
	_ = device.Disconnect()
	return nil, fmt.Errorf("ble: characteristic %s not found on %s", t.dataChar.String(), p.ID)
}

// EnableNotifications subscribes to the data characteristic. Buffers are
// copied before delivery since the stack may reuse them.
func (t *TinyGoTransport) EnableNotifications(p Peripheral) error {
	t.mu.Lock()
	conn, ok := t.conns[p.ID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: peripheral %s not connected", p.ID)
	}
	return conn.char.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		if h := t.h(); h != nil {
			h.Notification(p, data)
		}
	})
}

func (t *TinyGoTransport) Disconnect(p Peripheral) error {
	t.mu.Lock()
	conn, ok := t.conns[p.ID]
	delete(t.conns, p.ID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return conn.device.Disconnect()
}

func (t *TinyGoTransport) DisconnectAll() error {
	t.mu.Lock()
	conns := make([]*tinyGoConnection, 0, len(t.conns))
	for id, c := range t.conns {
		conns = append(conns, c)
		delete(t.conns, id)
	}
	t.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.device.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("ble: disconnect %s: %w", c.peripheral.ID, err))
		}
	}
	return errors.Join(errs...)
}
