package ble

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ScanForPeripherals scans for timeout and returns the peripherals seen, in
// discovery order. It takes over the transport's handler, so it must not be
// used on a transport owned by a Session.
func ScanForPeripherals(t Transport, serviceUUIDs []string, timeout time.Duration) ([]Peripheral, error) {
	c := &scanCollector{registry: NewRegistry()}
	t.SetHandler(c)
	defer t.SetHandler(nil)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := t.StartScanning(serviceUUIDs); err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-c.poweredOff():
		_ = t.StopScanning()
		return nil, fmt.Errorf("ble: scan: radio powered off")
	}

	if err := t.StopScanning(); err != nil {
		return nil, fmt.Errorf("ble: stop scan: %w", err)
	}
	return c.handles(), nil
}

// scanCollector records discoveries and ignores everything else.
type scanCollector struct {
	mu       sync.Mutex
	registry *Registry
	off      chan struct{}
	offOnce  sync.Once
}

func (c *scanCollector) poweredOff() <-chan struct{} {
	c.offOnce.Do(func() { c.off = make(chan struct{}) })
	return c.off
}

func (c *scanCollector) handles() []Peripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Handles()
}

func (c *scanCollector) PeripheralDiscovered(p Peripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.Record(p)
}

func (c *scanCollector) PoweredOff() {
	c.poweredOff()
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.off:
	default:
		close(c.off)
	}
}

func (c *scanCollector) DiscoveryRefreshed() {}
func (c *scanCollector) PeripheralReady(Peripheral) {}
func (c *scanCollector) PeripheralDisconnected(Peripheral) {}
func (c *scanCollector) ConnectFailed(Peripheral, error) {}
func (c *scanCollector) Notification(Peripheral, []byte) {}
