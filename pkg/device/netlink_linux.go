package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phinze/serialdetect/pkg/stream"
	"golang.org/x/sys/unix"
)

const (
	// kernel broadcast group of NETLINK_KOBJECT_UEVENT
	ueventGroupKernel = 1
	ueventBufferSize  = 16 * 1024
	netlinkPollMillis = 100
)

// NetlinkSource listens for tty uevents on the kernel netlink socket.
// Unsubscribe returns within one poll tick.
type NetlinkSource struct {
	root   string
	logger *slog.Logger
}

// NewNetlinkSource creates a netlink source reading attributes from the
// sysfs tree at root.
func NewNetlinkSource(root string, logger *slog.Logger) *NetlinkSource {
	return &NetlinkSource{root: root, logger: logger}
}

func openUeventSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return -1, fmt.Errorf("open uevent socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: ueventGroupKernel,
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind uevent socket: %w", err)
	}
	return fd, nil
}

// probeNetlink checks whether uevent sockets can be opened.
func probeNetlink() error {
	fd, err := openUeventSocket()
	if err != nil {
		return err
	}
	return unix.Close(fd)
}

func (n *NetlinkSource) Subscribe(e stream.Emitter) (stream.Subscription, error) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go n.listen(e, stop, done)

	var once sync.Once
	return stream.UnsubscribeFunc(func() {
		once.Do(func() { close(stop) })
		<-done
	}), nil
}

func (n *NetlinkSource) listen(e stream.Emitter, stop, done chan struct{}) {
	defer close(done)

	fd, err := openUeventSocket()
	if err != nil {
		n.logger.Error("failed to setup listener", "error", err)
		e.Error(err)
		return
	}
	defer func() {
		_ = unix.Close(fd)
	}()

	n.logger.Debug("listening for tty uevents")
	buf := make([]byte, ueventBufferSize)
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}

	for {
		select {
		case <-stop:
			n.logger.Debug("listener finished")
			return
		default:
		}

		ready, err := unix.Poll(fds, netlinkPollMillis)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			n.logger.Error("failed to poll uevent socket", "error", err)
			e.Error(fmt.Errorf("poll uevent socket: %w", err))
			return
		}
		if ready == 0 {
			continue
		}

		if err := n.drain(fd, buf, e); err != nil {
			n.logger.Error("failed to read uevent socket", "error", err)
			e.Error(err)
			return
		}
	}
}

// drain reads every pending datagram from the non-blocking socket.
func (n *NetlinkSource) drain(fd int, buf []byte, e stream.Emitter) error {
	for {
		size, from, err := unix.Recvfrom(fd, buf, 0)
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return nil
		}
		if errors.Is(err, unix.ENOBUFS) {
			n.logger.Warn("uevent socket overrun, events were lost")
			continue
		}
		if err != nil {
			return fmt.Errorf("read uevent socket: %w", err)
		}

		// only trust messages sent by the kernel
		if nl, ok := from.(*unix.SockaddrNetlink); ok && nl.Pid != 0 {
			continue
		}

		ev, ok := n.decode(buf[:size])
		if ok {
			e.Record(ev.Record())
		}
	}
}

func (n *NetlinkSource) decode(b []byte) (Event, bool) {
	u, err := ParseUevent(b)
	if err != nil {
		n.logger.Debug("ignoring uevent", "error", err)
		return Event{}, false
	}
	if u.Subsystem != "tty" {
		return Event{}, false
	}
	t, ok := u.EventType()
	if !ok {
		return Event{}, false
	}
	n.logger.Debug("device event", "action", u.Action, "devpath", u.DevPath)

	ev := Event{Port: u.Port(), Type: t}
	if t == Add {
		ev.Meta = InfoForDevPath(n.root, u.DevPath)
	}
	return ev, true
}
