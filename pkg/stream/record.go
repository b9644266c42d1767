package stream

import (
	"fmt"
	"time"
)

// Kind identifies what a Record carries.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLog
	KindDevice
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindDevice:
		return "device"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "log":
		return KindLog, nil
	case "device":
		return KindDevice, nil
	default:
		return KindUnknown, fmt.Errorf("unknown record kind: %q", s)
	}
}

// Record is a single event produced by a Source. Records are passed by value
// and must not be modified after they are emitted.
type Record struct {
	// Seq is the delivery position of the record within its handle,
	// starting at 1. Records dropped by an overflow policy get no number.
	Seq       uint64
	Kind      Kind
	Payload   any
	Timestamp time.Time
}
