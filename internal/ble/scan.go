package ble

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ScanForDevices enables the adapter and scans for timeout, returning the
// discovered peripherals strongest signal first. An empty result is
// reported as ErrNoDevices.
func ScanForDevices(ctx context.Context, adapter Adapter, serviceUUID string, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("%w: enable adapter: %v", ErrDiscovery, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].RSSI > devices[j].RSSI
	})
	return devices, nil
}

// ParseSelection validates an operator's device choice against a list of n
// devices and returns the chosen index.
func ParseSelection(input string, n int) (int, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidSelection, input)
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidSelection, idx, n)
	}
	return idx, nil
}
