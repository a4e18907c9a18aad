// Command ble-scan is a manual test for peripheral discovery.
// It runs one scan and prints every advertiser, strongest signal first.
//
// Usage:
//
//	go run ./cmd/ble-scan [--service UUID] [--timeout 5s]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/chaz8081/ble-logger/internal/ble"
)

func main() {
	service := flag.String("service", "", "only list devices advertising this service UUID")
	timeout := flag.Duration("timeout", 5*time.Second, "scan duration")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Scanning for %s...\n", *timeout)

	devices, err := ble.ScanForDevices(ctx, ble.NewTinyGoAdapter(), *service, *timeout)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for i, d := range devices {
		fmt.Printf("%d: %s (%s, %d dBm)\n", i, d.DisplayName(), d.Address, d.RSSI)
	}
	fmt.Printf("\n%d device(s) found\n", len(devices))
}
