package device

import (
	"fmt"
	"log/slog"

	"github.com/phinze/serialdetect/pkg/stream"
)

// ScanSystem lists the serial ports currently attached.
func ScanSystem(opts Options) (map[string]DeviceInfo, error) {
	return Scan(opts.root())
}

// NewSource returns the hotplug source selected by opts.Backend, wrapped
// in a Tracker. With BackendAuto it tries netlink first and falls back to
// polling.
func NewSource(opts Options, logger *slog.Logger) (stream.Source, error) {
	root := opts.root()
	scan := func() (map[string]DeviceInfo, error) { return Scan(root) }

	var src stream.Source
	switch opts.Backend {
	case BackendAuto, "":
		if err := probeNetlink(); err != nil {
			logger.Info("netlink not available, falling back to polling", "error", err)
			src = NewPollSource(scan, opts.PollInterval, logger)
		} else {
			logger.Info("using netlink device monitoring")
			src = NewNetlinkSource(root, logger)
		}
	case BackendNetlink:
		if err := probeNetlink(); err != nil {
			return nil, err
		}
		src = NewNetlinkSource(root, logger)
	case BackendPoll:
		src = NewPollSource(scan, opts.PollInterval, logger)
	default:
		return nil, fmt.Errorf("unknown device backend: %s", opts.Backend)
	}
	return NewTracker(src, scan, logger), nil
}
