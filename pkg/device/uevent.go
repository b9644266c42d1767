package device

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
)

// Uevent is a kernel object event as broadcast on the uevent netlink group.
type Uevent struct {
	Action    string
	DevPath   string
	Subsystem string
	DevName   string
	Env       map[string]string
}

var errUdevMessage = errors.New("udev daemon message")

// ParseUevent decodes a kernel uevent datagram:
//
//	add@/devices/.../tty/ttyUSB0\0ACTION=add\0DEVPATH=...\0SUBSYSTEM=tty\0...
func ParseUevent(b []byte) (Uevent, error) {
	fields := bytes.Split(bytes.TrimRight(b, "\x00"), []byte{0})
	if len(fields) == 0 || len(fields[0]) == 0 {
		return Uevent{}, errors.New("empty uevent")
	}

	header := string(fields[0])
	if header == "libudev" {
		return Uevent{}, errUdevMessage
	}
	action, devpath, ok := strings.Cut(header, "@")
	if !ok {
		return Uevent{}, fmt.Errorf("malformed uevent header: %q", header)
	}

	ev := Uevent{
		Action:  action,
		DevPath: devpath,
		Env:     make(map[string]string, len(fields)-1),
	}
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		ev.Env[k] = v
	}

	if a := ev.Env["ACTION"]; a != "" {
		ev.Action = a
	}
	if p := ev.Env["DEVPATH"]; p != "" {
		ev.DevPath = p
	}
	ev.Subsystem = ev.Env["SUBSYSTEM"]
	ev.DevName = ev.Env["DEVNAME"]
	if ev.DevName == "" {
		ev.DevName = path.Base(ev.DevPath)
	}
	return ev, nil
}

// Port returns the device node path for the event.
func (u Uevent) Port() string {
	if strings.HasPrefix(u.DevName, "/") {
		return u.DevName
	}
	return "/dev/" + u.DevName
}

// EventType maps the uevent action; ok is false for actions other than add
// and remove.
func (u Uevent) EventType() (t EventType, ok bool) {
	switch u.Action {
	case "add":
		return Add, true
	case "remove":
		return Remove, true
	default:
		return 0, false
	}
}
