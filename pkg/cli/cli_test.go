package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/stream"
	"github.com/phinze/serialdetect/pkg/stream/streamtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

var (
	arduino = device.Event{
		Port: "/dev/ttyACM0",
		Meta: device.DeviceInfo{VID: "2341", PID: "0043", Serial: "75830", Manufacturer: "Arduino", Product: "Uno"},
		Type: device.Add,
	}
	unplugged = device.Event{Port: "/dev/ttyUSB0", Type: device.Remove}
)

type recordingPublisher struct {
	mu   sync.Mutex
	recs []stream.Record
}

func (p *recordingPublisher) Publish(_ context.Context, rec stream.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recs = append(p.recs, rec)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestRunListenUntilSourceEnds(t *testing.T) {
	var out bytes.Buffer
	pub := &recordingPublisher{}

	err := runListen(context.Background(), listenOptions{
		source:  streamtest.Replay(nil, arduino, unplugged),
		timeout: 5 * time.Second,
		publish: pub,
		out:     &out,
	})
	require.NoError(t, err)

	assert.Contains(t, out.String(), "+ /dev/ttyACM0 2341:0043 serial=75830 Arduino Uno")
	assert.Contains(t, out.String(), "- /dev/ttyUSB0\n")
	require.Len(t, pub.recs, 2)
	assert.Equal(t, arduino, pub.recs[0].Payload)
	assert.Equal(t, uint64(2), pub.recs[1].Seq)
}

func TestRunListenTimeout(t *testing.T) {
	var out bytes.Buffer
	start := time.Now()

	err := runListen(context.Background(), listenOptions{
		source:  streamtest.Endless(arduino),
		timeout: 50 * time.Millisecond,
		out:     &out,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, out.String(), "/dev/ttyACM0")
}

func TestRunListenInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runListen(ctx, listenOptions{
		source: streamtest.Endless(),
		out:    &bytes.Buffer{},
	})
	assert.NoError(t, err)
}

func TestRunListenFailure(t *testing.T) {
	err := runListen(context.Background(), listenOptions{
		source:  streamtest.Replay(errors.New("netlink socket closed"), arduino),
		timeout: 5 * time.Second,
		out:     &bytes.Buffer{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "netlink socket closed")
}

func TestRunListenSubscribeError(t *testing.T) {
	src := streamtest.NewSource()
	src.SubscribeErr = errors.New("permission denied")

	err := runListen(context.Background(), listenOptions{source: src, out: &bytes.Buffer{}})
	assert.ErrorIs(t, err, stream.ErrSubscribe)
}

func TestRunMonitorUntilSourceEnds(t *testing.T) {
	var out bytes.Buffer

	err := runMonitor(context.Background(), monitorOptions{
		source:  streamtest.Replay(nil, arduino),
		timeout: 5 * time.Second,
		out:     &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/dev/ttyACM0")
	assert.Contains(t, out.String(), "stream completed")
}

func TestRunMonitorTimeout(t *testing.T) {
	var out bytes.Buffer

	err := runMonitor(context.Background(), monitorOptions{
		source:  streamtest.Endless(arduino),
		timeout: 50 * time.Millisecond,
		out:     &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/dev/ttyACM0")
	assert.Contains(t, out.String(), "stream canceled")
}

func TestRunMonitorRestart(t *testing.T) {
	var out bytes.Buffer

	err := runMonitor(context.Background(), monitorOptions{
		source:  streamtest.Endless(arduino),
		timeout: 300 * time.Millisecond,
		restart: 20 * time.Millisecond,
		out:     &out,
	})
	require.NoError(t, err)
	// every new subscription replays the attached port
	assert.GreaterOrEqual(t, strings.Count(out.String(), "/dev/ttyACM0"), 2)
}

func TestRunMonitorFailure(t *testing.T) {
	err := runMonitor(context.Background(), monitorOptions{
		source:  streamtest.Replay(errors.New("sysfs vanished")),
		timeout: 5 * time.Second,
		out:     &bytes.Buffer{},
	})
	var srcErr *stream.SourceError
	require.ErrorAs(t, err, &srcErr)
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name string
		meta device.DeviceInfo
		want string
	}{
		{name: "no attributes", want: ""},
		{name: "ids only", meta: device.DeviceInfo{VID: "0403", PID: "6001"}, want: " 0403:6001"},
		{name: "everything", meta: arduino.Meta, want: " 2341:0043 serial=75830 Arduino Uno"},
		{name: "product only", meta: device.DeviceInfo{Product: "CP2102"}, want: " CP2102"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, describe(tt.meta))
		})
	}
}

func TestPrinterPorts(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)

	p.ports(protocol.ScanResponse{})
	assert.Equal(t, "No serial ports attached\n", out.String())

	out.Reset()
	p.ports(protocol.NewScanResponse(map[string]device.DeviceInfo{
		"/dev/ttyUSB0": {VID: "0403", PID: "6001"},
		"/dev/ttyACM0": {},
	}))
	assert.Equal(t, "/dev/ttyACM0\n/dev/ttyUSB0 0403:6001\n", out.String())
}

func TestPrintStatus(t *testing.T) {
	var out bytes.Buffer
	printStatus(&out, nil)
	assert.Contains(t, out.String(), "Not running")

	out.Reset()
	printStatus(&out, &protocol.StatusResponse{Version: "dev", Backend: "netlink", KnownPorts: 3, ActiveStreams: 1})
	assert.Contains(t, out.String(), "Running")
	assert.Contains(t, out.String(), "Backend: netlink")
	assert.Contains(t, out.String(), "Known Ports: 3")
}

func TestDashboardURL(t *testing.T) {
	tests := []struct {
		addr    string
		want    string
		wantErr bool
	}{
		{addr: "127.0.0.1:9997", want: "http://127.0.0.1:9997/"},
		{addr: ":9997", want: "http://localhost:9997/"},
		{addr: "0.0.0.0:80", want: "http://localhost:80/"},
		{addr: "[::1]:9997", want: "http://[::1]:9997/"},
		{addr: "", wantErr: true},
		{addr: "localhost", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got, err := dashboardURL(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadConfigAppliesFlags(t *testing.T) {
	t.Cleanup(func() {
		configPath, socketPath, logLevel, logFormat, verbose = "", "", "", "", false
	})

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\nstream:\n  buffer: 8\n"), 0644))

	configPath = path
	socketPath = "127.0.0.1:9998"
	logLevel = "error"

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "tcp", cfg.Network)
	assert.Equal(t, "127.0.0.1:9998", cfg.Address)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Stream.Buffer)

	logLevel = "loud"
	_, err = loadConfig()
	assert.Error(t, err)
}

func TestRootCommands(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"listen", "monitor", "scan", "status", "watch", "dashboard", "config", "daemon"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}

	listen, _, err := root.Find([]string{"listen"})
	require.NoError(t, err)
	assert.Equal(t, "15s", listen.Flag("timeout").DefValue)

	monitor, _, err := root.Find([]string{"monitor"})
	require.NoError(t, err)
	assert.Equal(t, "5s", monitor.Flag("timeout").DefValue)
}
