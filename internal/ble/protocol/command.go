// Package protocol encodes operator commands as write payloads for the
// peripheral's command characteristic.
package protocol

import (
	"errors"
	"fmt"
)

// DefaultMaxWriteBytes is the ATT maximum attribute value length. The link
// MTU may be lower; the transport reports that as a write error.
const DefaultMaxWriteBytes = 512

// ErrPayloadTooLarge is returned when a command does not fit one write.
var ErrPayloadTooLarge = errors.New("protocol: payload too large")

// EncodeCommand returns the raw UTF-8 bytes of text as a single write
// payload. Commands are never split: a text longer than maxBytes is
// rejected. A non-positive maxBytes uses DefaultMaxWriteBytes.
func EncodeCommand(text string, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxWriteBytes
	}
	if len(text) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(text), maxBytes)
	}
	return []byte(text), nil
}
