package daemon

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

//go:embed dashboard.html
var dashboardHTML []byte

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// the dashboard is served from the same origin; local tools may
		// connect from anywhere on the loopback
		return true
	},
}

// Handler returns the daemon's HTTP routes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /events", d.handleEvents)
	mux.HandleFunc("GET /api/status", d.handleAPIStatus)
	mux.HandleFunc("GET /api/ports", d.handleAPIPorts)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(dashboardHTML)
	})
	return mux
}

func (d *Daemon) startHTTP() error {
	ln, err := net.Listen("tcp", d.config.HTTP.Address)
	if err != nil {
		return fmt.Errorf("failed to start HTTP listener: %w", err)
	}

	d.httpServer = &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return d.ctx },
	}

	url := "http://" + ln.Addr().String() + "/"
	d.logger.Info("HTTP server started", "url", url)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("HTTP server failed", "error", err)
		}
	}()

	if d.config.HTTP.OpenBrowser {
		go func() {
			if err := d.opener.OpenURL(url); err != nil {
				d.logger.Warn("Failed to open dashboard", "error", err)
			}
		}()
	}
	return nil
}

func (d *Daemon) writeJSON(w http.ResponseWriter, v any) {
	resp, err := protocol.NewSuccessResponse("", v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp.Data)
}

func (d *Daemon) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	d.writeJSON(w, d.Status())
}

func (d *Daemon) handleAPIPorts(w http.ResponseWriter, r *http.Request) {
	if d.scan == nil {
		http.Error(w, "scan is not available", http.StatusNotImplemented)
		return
	}
	ports, err := d.scan()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	d.writeJSON(w, protocol.NewScanResponse(ports))
}

// handleEvents streams envelopes over a websocket. Query parameters
// overflow, buffer and trace map onto protocol.ListenRequest.
func (d *Daemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	lr := protocol.ListenRequest{
		Overflow: r.URL.Query().Get("overflow"),
		Trace:    r.URL.Query().Get("trace") != "",
	}
	if b := r.URL.Query().Get("buffer"); b != "" {
		n, err := strconv.Atoi(b)
		if err != nil || n < 0 {
			http.Error(w, "invalid buffer", http.StatusBadRequest)
			return
		}
		lr.Buffer = n
	}

	s, err := d.openSession("websocket", lr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.abort()
		d.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()
	defer d.register(s)()
	d.logger.Info("WebSocket client connected", "session", s.id, "remote", r.RemoteAddr)

	// Configure ping/pong for dead client detection
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Read pump to detect disconnections
	go func() {
		defer s.abort()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					d.logger.Debug("WebSocket read error", "session", s.id, "error", err)
				}
				return
			}
		}
	}()

	var mu sync.Mutex
	send := func(env protocol.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return conn.WriteJSON(env)
	}

	// Ping loop; WriteControl may run alongside WriteJSON
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					s.abort()
					return
				}
			}
		}
	}()

	out := s.pump(send)
	close(done)
	_ = send(protocol.FinalEnvelope(out))
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, out.Kind.String()),
		time.Now().Add(time.Second))
	d.logger.Info("WebSocket client disconnected", "session", s.id, "outcome", out.Kind)
}
