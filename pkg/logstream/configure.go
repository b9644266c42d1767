package logstream

import (
	"io"
	"log/slog"
	"sync"

	"github.com/phinze/serialdetect/internal/logger"
	"github.com/phinze/serialdetect/pkg/stream"
)

var (
	installOnce sync.Once
	installed   *Bridge
)

// Default returns the process-wide Bridge, attaching it to the default
// logger on first use.
func Default() *Bridge {
	installOnce.Do(func() {
		installed = NewBridge(slog.LevelDebug)
		logger.Attach(installed)
	})
	return installed
}

// Configure streams the process's log records to cb until the returned
// handle is aborted. Records are queued with DropOldest so logging never
// blocks on a slow callback.
func Configure(cb stream.Callback, opts ...stream.Option) (*stream.Handle, *stream.Completion, error) {
	all := []stream.Option{
		stream.WithOverflow(stream.DropOldest),
		// the bridged handle must not log into itself
		stream.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return stream.Listen(Default(), cb, append(all, opts...)...)
}
