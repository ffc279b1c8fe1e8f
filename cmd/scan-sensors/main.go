// Command scan-sensors is a manual test for BLE discovery.
// It scans for sensor units advertising the data service and lists them.
//
// Usage:
//
//	go run ./cmd/scan-sensors [--duration 10s] [--service UUID]
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/jumpsense/internal/ble"
)

func main() {
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	service := flag.String("service", ble.DefaultServiceUUID, "service UUID to filter on")
	flag.Parse()

	transport, err := ble.NewTinyGoTransport(ble.DefaultDataCharUUID, time.Second)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning for %s (service %s)...\n", *duration, *service)

	found, err := ble.ScanForPeripherals(transport, []string{*service}, *duration)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(found) == 0 {
		fmt.Println("No sensors found.")
		return
	}

	fmt.Printf("\nFound %d sensor(s):\n", len(found))
	for i, p := range found {
		name := p.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %d. %-20s %s  RSSI %d\n", i+1, name, p.ID, p.RSSI)
	}
	fmt.Println("\nSet sensors.required_count to the number of units you want to stream from.")
}
