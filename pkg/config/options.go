package config

import (
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/stream"
)

// StreamOptions converts the stream section into handle options.
func (c *Config) StreamOptions() ([]stream.Option, error) {
	policy, err := stream.ParseOverflowPolicy(c.Stream.Overflow)
	if err != nil {
		return nil, err
	}
	opts := []stream.Option{stream.WithOverflow(policy)}
	if c.Stream.Buffer > 0 {
		opts = append(opts, stream.WithBuffer(c.Stream.Buffer))
	}
	if d := c.StopTimeout(); d > 0 {
		opts = append(opts, stream.WithStopTimeout(d))
	}
	return opts, nil
}

// DeviceOptions converts the device section.
func (c *Config) DeviceOptions() device.Options {
	return device.Options{
		Backend:      c.Device.Backend,
		PollInterval: c.PollInterval(),
		SysfsRoot:    c.Device.SysfsRoot,
	}
}
