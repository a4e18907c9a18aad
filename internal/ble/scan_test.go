package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanForDevices(t *testing.T) {
	devices := []Device{
		{Name: "far", Address: "AA:BB:CC:DD:EE:01", RSSI: -80},
		{Name: "near", Address: "AA:BB:CC:DD:EE:02", RSSI: -30},
	}
	adapter := newMockAdapter(devices)

	result, err := ScanForDevices(context.Background(), adapter, "", 5*time.Second)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "near", result[0].Name, "strongest signal first")
	assert.Equal(t, "far", result[1].Name)
}

func TestScanForDevicesEmpty(t *testing.T) {
	adapter := newMockAdapter(nil)
	_, err := ScanForDevices(context.Background(), adapter, "", 5*time.Second)
	assert.ErrorIs(t, err, ErrNoDevices)
}

func TestScanForDevicesError(t *testing.T) {
	adapter := newMockAdapter(nil)
	adapter.scanErr = errors.New("org.bluez.Error.NotReady")
	_, err := ScanForDevices(context.Background(), adapter, "", 5*time.Second)
	assert.ErrorIs(t, err, ErrDiscovery)
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		input   string
		n       int
		want    int
		wantErr bool
	}{
		{"1", 2, 1, false},
		{" 0 ", 2, 0, false},
		{"3", 2, 0, true},
		{"2", 2, 0, true},
		{"-1", 2, 0, true},
		{"abc", 2, 0, true},
		{"", 2, 0, true},
		{"0", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSelection(tt.input, tt.n)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSelection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceDisplayName(t *testing.T) {
	assert.Equal(t, "Nano", Device{Name: "Nano", Address: "x"}.DisplayName())
	assert.Equal(t, "AA:BB", Device{Address: "AA:BB"}.DisplayName())
}
