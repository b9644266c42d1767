package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/phinze/serialdetect/internal/observability"
	"github.com/phinze/serialdetect/internal/uuidx"
	"github.com/phinze/serialdetect/pkg/logstream"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/stream"
)

const writeTimeout = 5 * time.Second

// session is one client streaming records from the daemon.
type session struct {
	id        string
	transport string
	streams   []*stream.Stream
}

func (s *session) abort() {
	for _, st := range s.streams {
		st.Abort()
	}
}

func (d *Daemon) register(s *session) func() {
	d.sessions.Set(s.id, s)
	observability.DaemonSessions.WithLabelValues(s.transport).Inc()
	// shutdown may have walked the sessions already
	if d.ctx != nil && d.ctx.Err() != nil {
		s.abort()
	}
	return func() {
		d.sessions.Del(s.id)
		observability.DaemonSessions.WithLabelValues(s.transport).Dec()
	}
}

// openSession opens the device stream, plus the log stream when trace is
// requested.
func (d *Daemon) openSession(transport string, lr protocol.ListenRequest) (*session, error) {
	opts, err := d.streamOptions(lr)
	if err != nil {
		return nil, err
	}

	devices, err := stream.Open(d.source, opts...)
	if err != nil {
		return nil, err
	}
	s := &session{
		id:        uuidx.NewString(),
		transport: transport,
		streams:   []*stream.Stream{devices},
	}

	if lr.Trace {
		logs, err := stream.Open(logstream.Default(),
			stream.WithOverflow(stream.DropOldest),
			stream.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		if err != nil {
			devices.Abort()
			return nil, err
		}
		s.streams = append(s.streams, logs)
	}
	return s, nil
}

// pump forwards envelopes from every stream of s to send until the device
// stream ends. It returns the device stream's outcome.
func (s *session) pump(send func(protocol.Envelope) error) stream.Outcome {
	var wg sync.WaitGroup
	for _, st := range s.streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec, err := range st.All(context.Background()) {
				if err != nil {
					return
				}
				env, err := protocol.NewEnvelope(rec)
				if err == nil {
					err = send(env)
				}
				if err != nil {
					s.abort()
					return
				}
			}
		}()
	}

	devices := s.streams[0]
	<-devices.Done()
	s.abort()
	wg.Wait()

	out, _ := devices.Completion().Outcome()
	return out
}

// handleListen streams envelopes over conn until the client disconnects,
// the device stream ends or the daemon stops.
func (d *Daemon) handleListen(conn net.Conn, reader *bufio.Reader, req *protocol.Request) {
	lr, err := parseListenRequest(req)
	if err != nil {
		d.sendResponse(conn, protocol.NewErrorResponse(req.ID, err))
		return
	}

	s, err := d.openSession("socket", lr)
	if err != nil {
		d.sendResponse(conn, protocol.NewErrorResponse(req.ID, fmt.Errorf("failed to open stream: %w", err)))
		return
	}
	defer d.register(s)()

	resp, err := protocol.NewSuccessResponse(req.ID, protocol.ListenResponse{Stream: s.id})
	if err != nil {
		s.abort()
		d.sendResponse(conn, protocol.NewErrorResponse(req.ID, err))
		return
	}
	d.sendResponse(conn, resp)
	d.logger.Info("Client listening", "session", s.id, "trace", lr.Trace)

	// The client sends nothing after the request; a read returning means
	// it hung up.
	go func() {
		_, _ = io.Copy(io.Discard, reader)
		s.abort()
	}()

	var mu sync.Mutex
	enc := json.NewEncoder(conn)
	send := func(env protocol.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return enc.Encode(env)
	}

	out := s.pump(send)
	if err := send(protocol.FinalEnvelope(out)); err != nil && !errors.Is(err, net.ErrClosed) {
		d.logger.Debug("Failed to send final envelope", "session", s.id, "error", err)
	}
	d.logger.Info("Client stream closed", "session", s.id, "outcome", out.Kind)
}
