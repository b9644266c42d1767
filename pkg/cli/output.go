package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/phinze/serialdetect/pkg/device"
	"github.com/phinze/serialdetect/pkg/logstream"
	"github.com/phinze/serialdetect/pkg/protocol"
	"github.com/phinze/serialdetect/pkg/stream"
)

const timeFormat = "15:04:05.000"

// printer renders records for a terminal.
type printer struct {
	w      io.Writer
	add    *color.Color
	remove *color.Color
	dim    *color.Color
	bad    *color.Color
}

func newPrinter(w io.Writer) *printer {
	return &printer{
		w:      w,
		add:    color.New(color.FgGreen, color.Bold),
		remove: color.New(color.FgRed, color.Bold),
		dim:    color.New(color.FgHiBlack),
		bad:    color.New(color.FgRed),
	}
}

func (p *printer) record(rec stream.Record) {
	switch v := rec.Payload.(type) {
	case device.Event:
		p.device(rec, v)
	case logstream.LogRecord:
		p.log(v)
	default:
		_, _ = fmt.Fprintf(p.w, "%s %s %v\n", rec.Timestamp.Format(timeFormat), rec.Kind, rec.Payload)
	}
}

func (p *printer) device(rec stream.Record, ev device.Event) {
	mark := p.add.Sprint("+")
	if ev.Type == device.Remove {
		mark = p.remove.Sprint("-")
	}
	_, _ = fmt.Fprintf(p.w, "%s %s %s%s\n",
		p.dim.Sprint(rec.Timestamp.Format(timeFormat)), mark, ev.Port, describe(ev.Meta))
}

func (p *printer) log(lr logstream.LogRecord) {
	var meta []string
	for k, v := range lr.Meta {
		meta = append(meta, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(meta)
	line := fmt.Sprintf("%s %s %s: %s", lr.Time.Format(timeFormat), lr.Level, lr.Target, lr.Message)
	if len(meta) > 0 {
		line += " " + strings.Join(meta, " ")
	}
	_, _ = p.dim.Fprintln(p.w, line)
}

func (p *printer) outcome(o stream.Outcome) {
	switch o.Kind {
	case stream.Failed:
		_, _ = p.bad.Fprintf(p.w, "stream failed: %v\n", o.Cause)
	default:
		_, _ = p.dim.Fprintf(p.w, "stream %s\n", o.Kind)
	}
}

func (p *printer) ports(scan protocol.ScanResponse) {
	if len(scan.Ports) == 0 {
		_, _ = fmt.Fprintln(p.w, "No serial ports attached")
		return
	}
	for _, port := range scan.Ports {
		_, _ = fmt.Fprintf(p.w, "%s%s\n", port.Port, describe(port.Meta))
	}
}

// describe formats meta as " vid:pid serial=... manufacturer product", or
// nothing for ports without USB attributes.
func describe(meta device.DeviceInfo) string {
	if meta.IsZero() {
		return ""
	}
	var b strings.Builder
	if meta.VID != "" || meta.PID != "" {
		fmt.Fprintf(&b, " %s:%s", meta.VID, meta.PID)
	}
	if meta.Serial != "" {
		fmt.Fprintf(&b, " serial=%s", meta.Serial)
	}
	for _, s := range []string{meta.Manufacturer, meta.Product} {
		if s != "" {
			b.WriteString(" " + s)
		}
	}
	return b.String()
}
