package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/goccy/go-json"
	"github.com/phinze/serialdetect/pkg/config"
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/opener"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/phinze/serialdetect/version"
)

// Daemon serves device events to local clients
type Daemon struct {
	config  *config.Config
	source  stream.Source
	scan    device.ScanFunc
	backend string

	listener   net.Listener
	httpServer *http.Server
	logger     *slog.Logger
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	opener     *opener.Opener
	sessions   *haxmap.Map[string, *session]
	startTime  time.Time
	ready      chan struct{}

	systemdMode bool
	pidFile     string
}

// New creates a new daemon instance serving src. scan backs the scan
// command.
func New(cfg *config.Config, src stream.Source, scan device.ScanFunc, logger *slog.Logger) *Daemon {
	backend := cfg.Device.Backend
	if backend == "" {
		backend = device.BackendAuto
	}
	return &Daemon{
		config:    cfg,
		source:    src,
		scan:      scan,
		backend:   backend,
		logger:    logger,
		opener:    opener.New(logger),
		sessions:  haxmap.New[string, *session](),
		startTime: time.Now(),
		ready:     make(chan struct{}),
	}
}

// Run serves until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	defer d.cancel()

	if d.pidFile != "" {
		if err := d.writePIDFile(); err != nil {
			return err
		}
		defer d.removePIDFile()
	}

	// Clean up existing socket if unix
	if d.config.Network == "unix" {
		// Set umask for socket permissions
		oldUmask := syscall.Umask(0077)
		defer syscall.Umask(oldUmask)

		// Remove existing socket
		if err := os.RemoveAll(d.config.Address); err != nil {
			return fmt.Errorf("failed to remove existing socket: %w", err)
		}

		// Ensure directory exists
		socketDir := filepath.Dir(d.config.Address)
		if err := os.MkdirAll(socketDir, 0700); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
	}

	// Start listener
	listener, err := d.getListenerWithActivation()
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	d.listener = listener
	close(d.ready)

	d.logger.Info("Daemon started",
		"network", d.config.Network,
		"address", d.config.Address,
		"backend", d.backend,
	)

	if d.config.HTTP.Address != "" {
		if err := d.startHTTP(); err != nil {
			_ = listener.Close()
			return err
		}
	}

	// Tell systemd we're ready
	d.notifySystemd("READY=1")
	d.notifySystemd("STATUS=Watching serial devices")
	go d.watchdogLoop()

	// Start accepting connections
	d.wg.Add(1)
	go d.acceptConnections()

	// Wait for shutdown signal
	<-d.ctx.Done()

	// Shutdown
	d.notifySystemd("STOPPING=1")
	return d.shutdown()
}

// Ready is closed once the daemon accepts connections.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// Addr returns the socket listener address. It is valid after Ready.
func (d *Daemon) Addr() net.Addr {
	return d.listener.Addr()
}

// acceptConnections accepts incoming connections
func (d *Daemon) acceptConnections() {
	defer d.wg.Done()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				// Shutting down
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				d.logger.Error("Failed to accept connection", "error", err)
				continue
			}
		}

		// Handle connection in goroutine
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.handleConnection(conn)
		}()
	}
}

// handleConnection handles a single connection
func (d *Daemon) handleConnection(conn net.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	remoteAddr := conn.RemoteAddr().String()
	d.logger.Debug("New connection", "remote", remoteAddr)

	// Read request from connection
	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if err != io.EOF {
			d.logger.Error("Failed to read from connection", "error", err, "remote", remoteAddr)
		}
		return
	}

	// Parse request
	req, err := protocol.ParseRequest(line)
	if err != nil {
		d.logger.Error("Failed to parse request", "error", err, "remote", remoteAddr)
		// Send error response
		d.sendResponse(conn, protocol.NewErrorResponse("", fmt.Errorf("invalid request format")))
		return
	}

	d.logger.Info("Received command", "type", req.Type, "id", req.ID, "remote", remoteAddr)

	// Listen keeps the connection open for streaming
	if req.Type == protocol.CommandListen {
		if d.ctx.Err() != nil {
			d.sendResponse(conn, protocol.NewErrorResponse(req.ID, errors.New("daemon is shutting down")))
			return
		}
		d.handleListen(conn, reader, req)
		return
	}

	// Handle command and send response
	d.sendResponse(conn, d.handleCommand(req))
	d.logger.Debug("Connection closed", "remote", remoteAddr)
}

// handleCommand processes a one-shot command and returns a response
func (d *Daemon) handleCommand(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.CommandStatus:
		return d.handleStatusCommand(req)
	case protocol.CommandScan:
		return d.handleScanCommand(req)
	default:
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("unknown command type: %s", req.Type))
	}
}

// Status reports the daemon's current state.
func (d *Daemon) Status() protocol.StatusResponse {
	known := 0
	if d.scan != nil {
		if ports, err := d.scan(); err == nil {
			known = len(ports)
		}
	}
	return protocol.StatusResponse{
		Version:       version.GetVersion(),
		Uptime:        time.Since(d.startTime).Round(time.Second).String(),
		Backend:       d.backend,
		ActiveStreams: d.activeStreams(),
		KnownPorts:    known,
	}
}

// activeStreams counts open streams across sessions; a traced session
// holds two.
func (d *Daemon) activeStreams() int {
	n := 0
	d.sessions.ForEach(func(_ string, s *session) bool {
		n += len(s.streams)
		return true
	})
	return n
}

func (d *Daemon) handleStatusCommand(req *protocol.Request) *protocol.Response {
	resp, err := protocol.NewSuccessResponse(req.ID, d.Status())
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return resp
}

func (d *Daemon) handleScanCommand(req *protocol.Request) *protocol.Response {
	if d.scan == nil {
		return protocol.NewErrorResponse(req.ID, errors.New("scan is not available"))
	}
	// Scan ports
	ports, err := d.scan()
	if err != nil {
		return protocol.NewErrorResponse(req.ID, fmt.Errorf("failed to scan ports: %w", err))
	}

	// Return success
	resp, err := protocol.NewSuccessResponse(req.ID, protocol.NewScanResponse(ports))
	if err != nil {
		return protocol.NewErrorResponse(req.ID, err)
	}
	return resp
}

// streamOptions merges a client's listen request over the configured
// stream settings.
func (d *Daemon) streamOptions(lr protocol.ListenRequest) ([]stream.Option, error) {
	opts, err := d.config.StreamOptions()
	if err != nil {
		return nil, err
	}
	if lr.Buffer > 0 {
		opts = append(opts, stream.WithBuffer(lr.Buffer))
	}
	if lr.Overflow != "" {
		policy, err := stream.ParseOverflowPolicy(lr.Overflow)
		if err != nil {
			return nil, err
		}
		opts = append(opts, stream.WithOverflow(policy))
	}
	return append(opts, stream.WithLogger(d.logger)), nil
}

func parseListenRequest(req *protocol.Request) (protocol.ListenRequest, error) {
	var lr protocol.ListenRequest
	if len(req.Payload) == 0 {
		return lr, nil
	}
	// Parse payload
	if err := json.Unmarshal(req.Payload, &lr); err != nil {
		return lr, fmt.Errorf("invalid payload: %w", err)
	}
	return lr, nil
}

// sendResponse sends a response to the client
func (d *Daemon) sendResponse(conn net.Conn, resp *protocol.Response) {
	data, err := protocol.MarshalResponse(resp)
	if err != nil {
		d.logger.Error("Failed to marshal response", "error", err)
		return
	}

	// Add newline for easier parsing
	data = append(data, '\n')

	if _, err := conn.Write(data); err != nil {
		d.logger.Error("Failed to send response", "error", err)
	}
}

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// shutdown gracefully shuts down the daemon
func (d *Daemon) shutdown() error {
	d.logger.Info("Shutting down daemon")

	// Close listener to stop accepting new connections
	if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		d.logger.Error("Failed to close listener", "error", err)
	}

	// Abort every open stream so the connection handlers return
	d.sessions.ForEach(func(_ string, s *session) bool {
		s.abort()
		return true
	})

	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.httpServer.Shutdown(ctx); err != nil {
			d.logger.Error("Failed to stop HTTP server", "error", err)
		}
	}

	// Wait for all connections to finish
	d.wg.Wait()

	// Clean up socket file if unix
	if d.config.Network == "unix" {
		if err := os.RemoveAll(d.config.Address); err != nil {
			d.logger.Error("Failed to remove socket file", "error", err)
		}
	}

	d.logger.Info("Daemon stopped")
	return nil
}
