//go:build !linux

package device

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/phinze/serialdetect/pkg/stream"
)

var devPatterns = []string{"/dev/cu.*", "/dev/tty.usb*", "/dev/ttyU*"}

// ScanSystem lists the serial ports currently attached. Outside Linux only
// device node names are known.
func ScanSystem(Options) (map[string]DeviceInfo, error) {
	ports := make(map[string]DeviceInfo)
	for _, pattern := range devPatterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			ports[m] = DeviceInfo{}
		}
	}
	return ports, nil
}

// NewSource returns a polling hotplug source wrapped in a Tracker.
func NewSource(opts Options, logger *slog.Logger) (stream.Source, error) {
	switch opts.Backend {
	case BackendAuto, BackendPoll, "":
	default:
		return nil, fmt.Errorf("device backend %s is not supported on this platform", opts.Backend)
	}
	scan := func() (map[string]DeviceInfo, error) { return ScanSystem(opts) }
	return NewTracker(NewPollSource(scan, opts.PollInterval, logger), scan, logger), nil
}
