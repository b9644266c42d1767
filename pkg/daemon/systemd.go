package daemon

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// listenFDsStart is the first file descriptor passed by socket activation.
const listenFDsStart = 3

// notifySystemd sends state to the notify socket in systemd mode.
func (d *Daemon) notifySystemd(state string) {
	if !d.systemdMode {
		return
	}

	// Check for NOTIFY_SOCKET environment variable
	socketPath := os.Getenv("NOTIFY_SOCKET")
	if socketPath == "" {
		return
	}
	// Handle abstract socket notation
	if socketPath[0] == '@' {
		socketPath = "\x00" + socketPath[1:]
	}

	// Connect to systemd notify socket
	conn, err := net.Dial("unixgram", socketPath)
	if err != nil {
		d.logger.Debug("Failed to connect to systemd notify socket", "error", err)
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	// Send notification
	if _, err := conn.Write([]byte(state)); err != nil {
		d.logger.Debug("Failed to send systemd notification", "state", state, "error", err)
	}
}

// watchdogInterval is half of WATCHDOG_USEC, or zero when no watchdog is
// configured for this process.
func watchdogInterval() time.Duration {
	// Get watchdog interval from environment
	usec, err := strconv.ParseInt(os.Getenv("WATCHDOG_USEC"), 10, 64)
	if err != nil || usec <= 0 {
		return 0
	}
	// The watchdog may be meant for another process
	if pid := os.Getenv("WATCHDOG_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return 0
	}
	// Use half the interval
	return time.Duration(usec) * time.Microsecond / 2
}

// watchdogLoop pings the systemd watchdog until the daemon stops.
func (d *Daemon) watchdogLoop() {
	if !d.systemdMode {
		return
	}
	interval := watchdogInterval()
	if interval == 0 {
		return
	}

	d.logger.Debug("Starting watchdog loop", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.notifySystemd(fmt.Sprintf("WATCHDOG=1\nSTATUS=Watching serial devices, %d active streams", d.activeStreams()))
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	d.logger.Debug("Wrote PID file", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		d.logger.Warn("Failed to remove PID file", "path", d.pidFile, "error", err)
	}
}

// activatedListener returns the listener passed by systemd socket
// activation, or nil when there is none.
func (d *Daemon) activatedListener() net.Listener {
	// Parse number of file descriptors
	n, err := strconv.Atoi(os.Getenv("LISTEN_FDS"))
	if err != nil || n < 1 {
		return nil
	}
	if pid := os.Getenv("LISTEN_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return nil
	}

	// We'll use the first one
	file := os.NewFile(uintptr(listenFDsStart), "systemd-socket")
	if file == nil {
		return nil
	}
	defer func() {
		_ = file.Close()
	}()

	// Create listener from file descriptor
	ln, err := net.FileListener(file)
	if err != nil {
		d.logger.Warn("Failed to create listener from systemd socket", "error", err)
		return nil
	}
	return ln
}

// getListenerWithActivation prefers an activated socket in systemd mode
// and otherwise listens on the configured address.
func (d *Daemon) getListenerWithActivation() (net.Listener, error) {
	if d.systemdMode {
		if ln := d.activatedListener(); ln != nil {
			d.logger.Info("Using systemd socket activation")
			return ln, nil
		}
	}
	// No socket activation, create our own listener
	return net.Listen(d.config.Network, d.config.Address)
}
