package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/mitchellh/go-homedir"
	"github.com/phinze/serialdetect/internal/uuidx"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/stream"
)

// Client talks to a running daemon.
type Client struct {
	network string
	address string
	logger  *slog.Logger
}

// NewClient returns a client for the daemon at address. An empty network is
// inferred: addresses containing a colon are tcp, anything else a unix
// socket path.
func NewClient(network, address string, logger *slog.Logger) (*Client, error) {
	expanded, err := homedir.Expand(address)
	if err != nil {
		return nil, fmt.Errorf("failed to expand socket path: %w", err)
	}
	if network == "" {
		network = "unix"
		if strings.Contains(expanded, ":") {
			network = "tcp"
		}
	}
	return &Client{network: network, address: expanded, logger: logger}, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, c.address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

func writeRequest(conn net.Conn, req *protocol.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

func readResponse(r *bufio.Reader) (*protocol.Response, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !resp.Success {
		return &resp, fmt.Errorf("daemon error: %s", resp.Error)
	}
	return &resp, nil
}

// Do sends a one-shot command and decodes the response data into out.
func (c *Client) Do(ctx context.Context, typ protocol.CommandType, payload, out any) error {
	req, err := protocol.NewRequest(uuidx.NewString(), typ, payload)
	if err != nil {
		return err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c.logger.Debug("Sending request", "type", typ, "id", req.ID)
	if err := writeRequest(conn, req); err != nil {
		return err
	}
	resp, err := readResponse(bufio.NewReader(conn))
	if err != nil {
		return err
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse response data: %w", err)
	}
	return nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (protocol.StatusResponse, error) {
	var status protocol.StatusResponse
	err := c.Do(ctx, protocol.CommandStatus, nil, &status)
	return status, err
}

// Scan lists the ports the daemon sees.
func (c *Client) Scan(ctx context.Context) (protocol.ScanResponse, error) {
	var scan protocol.ScanResponse
	err := c.Do(ctx, protocol.CommandScan, nil, &scan)
	return scan, err
}

// Source returns a stream.Source whose subscriptions each hold a listen
// connection to the daemon.
func (c *Client) Source(lr protocol.ListenRequest) stream.Source {
	return &remoteSource{client: c, request: lr}
}

type remoteSource struct {
	client  *Client
	request protocol.ListenRequest
}

func (s *remoteSource) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	req, err := protocol.NewRequest(uuidx.NewString(), protocol.CommandListen, s.request)
	if err != nil {
		return nil, err
	}
	conn, err := s.client.dial(ctx)
	if err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	if err := writeRequest(conn, req); err != nil {
		_ = conn.Close()
		return nil, err
	}
	reader := bufio.NewReader(conn)
	if _, err := readResponse(reader); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.read(reader, e, stop)
	}()

	var once sync.Once
	return stream.UnsubscribeFunc(func() {
		once.Do(func() {
			close(stop)
			_ = conn.Close()
		})
		<-done
	}), nil
}

func (s *remoteSource) read(r *bufio.Reader, e stream.Emitter, stop <-chan struct{}) {
	for {
		line, err := r.ReadBytes('\n')
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			e.Error(fmt.Errorf("daemon connection lost: %w", err))
			return
		}

		kind, final, err := protocol.Peek(line)
		if err != nil {
			s.client.logger.Warn("Dropping undecodable envelope", "error", err)
			continue
		}
		if final {
			var env protocol.Envelope
			if err := json.Unmarshal(line, &env); err != nil {
				e.Error(fmt.Errorf("invalid final envelope: %w", err))
			} else if env.Outcome == stream.Failed.String() {
				e.Error(errors.New(env.Error))
			} else {
				e.End()
			}
			return
		}
		// newer daemons may stream kinds this client does not know
		if _, err := stream.ParseKind(kind); err != nil {
			s.client.logger.Debug("Skipping record", "kind", kind)
			continue
		}
		rec, err := protocol.DecodeRecord(line)
		if err != nil {
			s.client.logger.Warn("Dropping undecodable envelope", "error", err)
			continue
		}
		e.Record(rec)
	}
}
