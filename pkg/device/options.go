package device

import "time"

const (
	BackendAuto    = "auto"
	BackendNetlink = "netlink"
	BackendPoll    = "poll"
)

// Options selects and tunes the hotplug backend.
type Options struct {
	Backend      string
	PollInterval time.Duration
	SysfsRoot    string
}

func (o Options) root() string {
	if o.SysfsRoot == "" {
		return DefaultSysfsRoot
	}
	return o.SysfsRoot
}
