package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

const (
	EnvDebug  = "SERIALDETECT_DEBUG"
	EnvQuiet  = "SERIALDETECT_QUIET"
	EnvFormat = "SERIALDETECT_LOG_FORMAT"
)

const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options controls the process-wide handler.
type Options struct {
	Level  slog.Level
	Format string
	Output io.Writer
}

var (
	mu            sync.Mutex
	level         = new(slog.LevelVar)
	base          slog.Handler
	attached      = map[int]slog.Handler{}
	nextID        int
	defaultLogger *slog.Logger
)

func init() {
	if err := Configure(FromEnv()); err != nil {
		_ = Configure(Options{Level: slog.LevelInfo, Format: FormatText})
	}
}

// FromEnv reads the SERIALDETECT_* environment variables. Debug wins over
// quiet.
func FromEnv() Options {
	opts := Options{
		Level:  slog.LevelInfo,
		Format: strings.ToLower(os.Getenv(EnvFormat)),
	}
	if os.Getenv(EnvQuiet) != "" {
		opts.Level = slog.LevelWarn
	}
	if os.Getenv(EnvDebug) != "" {
		opts.Level = slog.LevelDebug
	}
	return opts
}

// ParseLevel accepts slog level names and their short forms.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DBG", "DEBUG":
		return slog.LevelDebug, nil
	case "", "INF", "INFO":
		return slog.LevelInfo, nil
	case "WRN", "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERR", "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
}

func shortLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	lvl, ok := a.Value.Any().(slog.Level)
	if !ok {
		return a
	}
	switch {
	case lvl < slog.LevelInfo:
		a.Value = slog.StringValue("DBG")
	case lvl < slog.LevelWarn:
		a.Value = slog.StringValue("INF")
	case lvl < slog.LevelError:
		a.Value = slog.StringValue("WRN")
	default:
		a.Value = slog.StringValue("ERR")
	}
	return a
}

// NewHandler builds a handler writing to opts.Output (stderr by default).
// The level is taken from the shared level variable.
func NewHandler(opts Options) (slog.Handler, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: shortLevel,
	}

	switch opts.Format {
	case "", FormatText:
		return slog.NewTextHandler(out, hopts), nil
	case FormatJSON:
		return slog.NewJSONHandler(out, hopts), nil
	case FormatConsole:
		cw := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.Stamp,
			NoColor:    out != os.Stderr || color.NoColor,
		}
		zl := zerolog.New(cw).
			With().Timestamp().Logger()
		return zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: level}), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", opts.Format)
	}
}

// Configure replaces the process-wide handler and installs it as the slog
// default. Attached handlers are kept.
func Configure(opts Options) error {
	h, err := NewHandler(opts)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	level.Set(opts.Level)
	base = h
	install()
	return nil
}

// SetLevel changes the level of the process-wide handler.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Attach adds h next to the process-wide handler, so every record logged
// through the default logger also reaches h. The returned func detaches it.
func Attach(h slog.Handler) (detach func()) {
	mu.Lock()
	id := nextID
	nextID++
	attached[id] = h
	install()
	mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			delete(attached, id)
			install()
			mu.Unlock()
		})
	}
}

// install must be called with mu held.
func install() {
	handlers := make(tee, 0, len(attached)+1)
	handlers = append(handlers, base)
	for i := 0; i < nextID; i++ {
		if h, ok := attached[i]; ok {
			handlers = append(handlers, h)
		}
	}

	var h slog.Handler = handlers
	if len(handlers) == 1 {
		h = base
	}
	defaultLogger = slog.New(h)
	slog.SetDefault(defaultLogger)
}

// Get returns the default logger
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return defaultLogger
}

// tee fans records out to several handlers.
type tee []slog.Handler

func (t tee) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t tee) WithGroup(name string) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
