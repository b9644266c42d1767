package device

import (
	"log/slog"

	"github.com/alphadose/haxmap"
	"github.com/phinze/serialdetect/internal/observability"
	"github.com/phinze/serialdetect/pkg/stream"
)

// Tracker wraps a device source with a cache of known ports. Each
// subscription seeds its cache from a scan; removals of ports the cache
// has never seen are dropped, and removals of known ports carry the
// attributes recorded when the port appeared.
type Tracker struct {
	source stream.Source
	seed   ScanFunc
	logger *slog.Logger
}

// NewTracker creates a Tracker over src.
func NewTracker(src stream.Source, seed ScanFunc, logger *slog.Logger) *Tracker {
	return &Tracker{
		source: src,
		seed:   seed,
		logger: logger,
	}
}

func (t *Tracker) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	known := haxmap.New[string, DeviceInfo]()
	if t.seed != nil {
		initial, err := t.seed()
		if err != nil {
			t.logger.Warn("failed to scan initial ports", "error", err)
		}
		for port, info := range initial {
			known.Set(port, info)
			t.logger.Debug("initial port detected", "port", port, "vid", info.VID, "pid", info.PID)
		}
	}

	return t.source.Subscribe(&trackingEmitter{
		next:   e,
		known:  known,
		logger: t.logger,
	})
}

type trackingEmitter struct {
	next   stream.Emitter
	known  *haxmap.Map[string, DeviceInfo]
	logger *slog.Logger
}

func (te *trackingEmitter) Record(rec stream.Record) {
	ev, ok := rec.Payload.(Event)
	if !ok {
		te.next.Record(rec)
		return
	}

	switch ev.Type {
	case Add:
		te.known.Set(ev.Port, ev.Meta)
		te.logger.Info("port added", "port", ev.Port, "vid", ev.Meta.VID, "pid", ev.Meta.PID)
	case Remove:
		meta, found := te.known.Get(ev.Port)
		if !found {
			te.logger.Warn("removed port not found in cache", "port", ev.Port)
			return
		}
		te.known.Del(ev.Port)
		if ev.Meta.IsZero() {
			ev.Meta = meta
		}
		te.logger.Info("port removed", "port", ev.Port)
	}

	observability.DeviceEvents.WithLabelValues(ev.Type.String()).Inc()
	rec.Payload = ev
	te.next.Record(rec)
}

func (te *trackingEmitter) Error(err error) {
	te.next.Error(err)
}

func (te *trackingEmitter) End() {
	te.next.End()
}
