package device

import (
	"log/slog"
	"sync"
	"time"

	"github.com/phinze/serialdetect/pkg/stream"
)

// ScanFunc lists the currently attached ports.
type ScanFunc func() (map[string]DeviceInfo, error)

// PollSource detects hotplug events by rescanning on an interval and
// diffing the results.
type PollSource struct {
	interval time.Duration
	scan     ScanFunc
	logger   *slog.Logger
}

// NewPollSource creates a polling source.
func NewPollSource(scan ScanFunc, interval time.Duration, logger *slog.Logger) *PollSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollSource{
		interval: interval,
		scan:     scan,
		logger:   logger,
	}
}

func (p *PollSource) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	known, err := p.scan()
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go p.loop(e, known, stop, done)

	var once sync.Once
	return stream.UnsubscribeFunc(func() {
		once.Do(func() { close(stop) })
		<-done
	}), nil
}

func (p *PollSource) loop(e stream.Emitter, known map[string]DeviceInfo, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			current, err := p.scan()
			if err != nil {
				p.logger.Debug("failed to scan ports", "error", err)
				continue
			}
			for _, ev := range diff(known, current) {
				e.Record(ev.Record())
			}
			known = current
		}
	}
}

// diff returns removals followed by additions, each sorted by port.
func diff(prev, next map[string]DeviceInfo) []Event {
	var events []Event
	for _, port := range Ports(prev) {
		if _, ok := next[port]; !ok {
			events = append(events, Event{Port: port, Meta: prev[port], Type: Remove})
		}
	}
	for _, port := range Ports(next) {
		if _, ok := prev[port]; !ok {
			events = append(events, Event{Port: port, Meta: next[port], Type: Add})
		}
	}
	return events
}
