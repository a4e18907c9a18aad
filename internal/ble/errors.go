package ble

import "errors"

var (
	// ErrDiscovery wraps scan failures.
	ErrDiscovery = errors.New("ble: discovery failed")
	// ErrNoDevices is returned when a scan completes without results.
	ErrNoDevices = errors.New("ble: no devices found")
	// ErrConnect wraps every failure between connect and subscribe.
	ErrConnect = errors.New("ble: connect failed")
	// ErrConnectInFlight is returned when a second connect starts while one
	// is still running.
	ErrConnectInFlight = errors.New("ble: connect already in progress")
	// ErrInvalidSelection is returned for non-numeric or out-of-range
	// device choices.
	ErrInvalidSelection = errors.New("ble: invalid selection")
)
