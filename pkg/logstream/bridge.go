// Package logstream turns the process's own log output into an event
// stream.
package logstream

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/phinze/serialdetect/pkg/stream"
)

// DefaultTarget is reported for records logged without a "component"
// attribute.
const DefaultTarget = "serialdetect"

// LogRecord is the payload of stream.KindLog records.
type LogRecord struct {
	Message  string         `json:"mesg"`
	Level    string         `json:"level"`
	Time     time.Time      `json:"time"`
	Meta     map[string]any `json:"meta,omitempty"`
	Target   string         `json:"target"`
	File     string         `json:"file,omitempty"`
	Line     int            `json:"line,omitempty"`
	Function string         `json:"module_path,omitempty"`
}

// Bridge is an slog.Handler that forwards every record it handles to the
// current subscribers. It is also a stream.Source.
type Bridge struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
	hub    *hub
}

type hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]stream.Emitter
}

// NewBridge creates a Bridge passing records at or above level.
func NewBridge(level slog.Leveler) *Bridge {
	if level == nil {
		level = slog.LevelDebug
	}
	return &Bridge{
		level: level,
		hub:   &hub{subs: make(map[int]stream.Emitter)},
	}
}

func (b *Bridge) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	b.hub.mu.Lock()
	id := b.hub.next
	b.hub.next++
	b.hub.subs[id] = e
	b.hub.mu.Unlock()

	return stream.UnsubscribeFunc(func() {
		b.hub.mu.Lock()
		delete(b.hub.subs, id)
		b.hub.mu.Unlock()
	}), nil
}

// Subscribers returns the number of attached emitters.
func (b *Bridge) Subscribers() int {
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	return len(b.hub.subs)
}

func (b *Bridge) emitters() []stream.Emitter {
	b.hub.mu.RLock()
	defer b.hub.mu.RUnlock()
	out := make([]stream.Emitter, 0, len(b.hub.subs))
	for _, e := range b.hub.subs {
		out = append(out, e)
	}
	return out
}

func (b *Bridge) Enabled(_ context.Context, l slog.Level) bool {
	return l >= b.level.Level() && b.Subscribers() > 0
}

func (b *Bridge) Handle(_ context.Context, r slog.Record) error {
	subs := b.emitters()
	if len(subs) == 0 {
		return nil
	}

	lr := LogRecord{
		Message: r.Message,
		Level:   r.Level.String(),
		Time:    r.Time,
		Target:  DefaultTarget,
		Meta:    make(map[string]any, r.NumAttrs()+len(b.attrs)),
	}
	for _, a := range b.attrs {
		lr.addAttr(a)
	}
	prefix := strings.Join(b.groups, ".")
	r.Attrs(func(a slog.Attr) bool {
		if prefix != "" {
			a.Key = prefix + "." + a.Key
		}
		lr.addAttr(a)
		return true
	})
	if r.PC != 0 {
		frames := runtime.CallersFrames([]uintptr{r.PC})
		f, _ := frames.Next()
		lr.File, lr.Line, lr.Function = f.File, f.Line, f.Function
	}

	rec := stream.Record{Kind: stream.KindLog, Payload: lr, Timestamp: r.Time}
	for _, e := range subs {
		e.Record(rec)
	}
	return nil
}

func (lr *LogRecord) addAttr(a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Key == "component" {
		lr.Target = a.Value.String()
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			if a.Key != "" {
				ga.Key = a.Key + "." + ga.Key
			}
			lr.addAttr(ga)
		}
		return
	}
	switch v := a.Value.Any().(type) {
	case error:
		lr.Meta[a.Key] = v.Error()
	case time.Duration:
		lr.Meta[a.Key] = v.String()
	default:
		lr.Meta[a.Key] = v
	}
}

func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	nb := *b
	prefix := strings.Join(b.groups, ".")
	nb.attrs = append(append([]slog.Attr(nil), b.attrs...), qualify(prefix, attrs)...)
	return &nb
}

func (b *Bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	nb := *b
	nb.groups = append(append([]string(nil), b.groups...), name)
	return &nb
}

func qualify(prefix string, attrs []slog.Attr) []slog.Attr {
	if prefix == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		a.Key = prefix + "." + a.Key
		out[i] = a
	}
	return out
}
