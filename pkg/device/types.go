// Package device reports serial ports being attached to and detached from
// the host.
package device

import (
	"fmt"
	"time"

	"github.com/phinze/serialdetect/pkg/stream"
)

// EventType is the kind of hotplug event.
type EventType uint8

const (
	// Add means a serial device was plugged in.
	Add EventType = iota + 1
	// Remove means a serial device was unplugged.
	Remove
)

func (t EventType) String() string {
	switch t {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "unknown"
	}
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "add":
		*t = Add
	case "remove":
		*t = Remove
	default:
		return fmt.Errorf("unknown event type: %q", b)
	}
	return nil
}

// DeviceInfo holds the USB attributes of a port. Any field may be empty,
// e.g. for on-board UARTs.
type DeviceInfo struct {
	VID          string `json:"vid,omitempty" yaml:"vid,omitempty"`
	PID          string `json:"pid,omitempty" yaml:"pid,omitempty"`
	Serial       string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty"`
}

// IsZero reports whether no attribute is known.
func (d DeviceInfo) IsZero() bool {
	return d == DeviceInfo{}
}

// Event is the payload of stream.KindDevice records.
type Event struct {
	// Port is the device node, e.g. /dev/ttyUSB0.
	Port string     `json:"port"`
	Meta DeviceInfo `json:"meta"`
	Type EventType  `json:"event"`
}

func (e Event) String() string {
	if e.Meta.VID == "" {
		return fmt.Sprintf("%s %s", e.Type, e.Port)
	}
	return fmt.Sprintf("%s %s (%s:%s)", e.Type, e.Port, e.Meta.VID, e.Meta.PID)
}

// Record wraps e for emission.
func (e Event) Record() stream.Record {
	return stream.Record{
		Kind:      stream.KindDevice,
		Payload:   e,
		Timestamp: time.Now(),
	}
}
