package device

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultSysfsRoot is where sysfs is mounted.
const DefaultSysfsRoot = "/sys"

// Scan lists the hardware-backed tty devices under a sysfs root, keyed by
// device node path.
func Scan(root string) (map[string]DeviceInfo, error) {
	entries, err := os.ReadDir(filepath.Join(root, "class", "tty"))
	if err != nil {
		return nil, err
	}

	ports := make(map[string]DeviceInfo)
	for _, entry := range entries {
		dir := filepath.Join(root, "class", "tty", entry.Name())
		dev, err := filepath.EvalSymlinks(filepath.Join(dir, "device"))
		if err != nil {
			// virtual terminals and ptys have no backing device
			continue
		}
		ports["/dev/"+entry.Name()] = readInfo(root, dev)
	}
	return ports, nil
}

// Ports returns the keys of a Scan result in order.
func Ports(scan map[string]DeviceInfo) []string {
	out := make([]string, 0, len(scan))
	for p := range scan {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// InfoForDevPath reads attributes for a uevent DEVPATH such as
// /devices/pci0000:00/.../ttyUSB0/tty/ttyUSB0.
func InfoForDevPath(root, devpath string) DeviceInfo {
	dev, err := filepath.EvalSymlinks(filepath.Join(root, devpath, "device"))
	if err != nil {
		return DeviceInfo{}
	}
	return readInfo(root, dev)
}

// readInfo walks up from dir to the first node carrying idVendor.
func readInfo(root, dir string) DeviceInfo {
	stop := filepath.Clean(root)
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		stop = resolved
	}

	for dir != stop && strings.HasPrefix(dir, stop) {
		vid, err := readAttr(dir, "idVendor")
		if err == nil {
			info := DeviceInfo{VID: vid}
			info.PID, _ = readAttr(dir, "idProduct")
			info.Serial, _ = readAttr(dir, "serial")
			info.Manufacturer, _ = readAttr(dir, "manufacturer")
			info.Product, _ = readAttr(dir, "product")
			return info
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return DeviceInfo{}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return DeviceInfo{}
}

func readAttr(dir, name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
