//go:build linux

package hal

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fwforge-io/fwforge/pkg/log"
)

// NewHAL returns the embedded Linux adapter. Wifi control goes through
// NetworkManager, partitions are resolved by GPT partition label, the boot
// selection is handed to the bootloader environment.
func NewHAL() *HAL {
	return &HAL{
		Network:    &linuxNetwork{iface: wifiInterface()},
		Partitions: &linuxPartitions{},
		Flash:      &linuxFlash{},
		System:     &linuxSystem{},
	}
}

func wifiInterface() string {
	if iface := os.Getenv("FWFORGE_WIFI_IFACE"); iface != "" {
		return iface
	}
	return "wlan0"
}

type linuxNetwork struct {
	iface string
}

func (n *linuxNetwork) EnableStation() error {
	return exec.Command("nmcli", "radio", "wifi", "on").Run()
}

func (n *linuxNetwork) Connect(ssid, passphrase string) error {
	// --wait 0 returns immediately; the link state is polled via IsConnected.
	return exec.Command("nmcli", "--wait", "0", "device", "wifi", "connect", ssid,
		"password", passphrase, "ifname", n.iface).Run()
}

func (n *linuxNetwork) IsConnected() bool {
	out, err := exec.Command("nmcli", "-t", "-f", "GENERAL.STATE", "device", "show", n.iface).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "(connected)")
}

func (n *linuxNetwork) Disconnect() error {
	return exec.Command("nmcli", "device", "disconnect", n.iface).Run()
}

func (n *linuxNetwork) StationIP() net.IP {
	out, err := exec.Command("nmcli", "-t", "-f", "IP4.ADDRESS", "device", "show", n.iface).Output()
	if err != nil {
		return nil
	}

	// Output form: IP4.ADDRESS[1]:192.168.1.23/24
	line := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		line = line[idx+1:]
	}
	if idx := strings.IndexByte(line, '/'); idx >= 0 {
		line = line[:idx]
	}
	return net.ParseIP(line)
}

func (n *linuxNetwork) ConfigureAccessPoint(addr, gateway net.IP, subnet net.IPMask) error {
	ones, _ := subnet.Size()
	return exec.Command("nmcli", "connection", "modify", "factoryd-ap",
		"ipv4.method", "shared",
		"ipv4.addresses", fmt.Sprintf("%s/%d", addr.String(), ones)).Run()
}

func (n *linuxNetwork) SetHostname(hostname string) error {
	return exec.Command("hostnamectl", "set-hostname", hostname).Run()
}

func (n *linuxNetwork) StartAccessPoint(ssid, passphrase string) error {
	return exec.Command("nmcli", "device", "wifi", "hotspot",
		"ifname", n.iface, "con-name", "factoryd-ap",
		"ssid", ssid, "password", passphrase).Run()
}

func (n *linuxNetwork) StopAccessPoint() error {
	return exec.Command("nmcli", "connection", "down", "factoryd-ap").Run()
}

type linuxPartitions struct{}

func (p *linuxPartitions) label(target ImageTarget) string {
	switch target {
	case TargetFilesystem:
		return "rootfs-data"
	default:
		return "app0"
	}
}

func (p *linuxPartitions) Find(target ImageTarget) (*Partition, error) {
	label := p.label(target)
	dev := filepath.Join("/dev/disk/by-partlabel", label)

	f, err := os.Open(dev)
	if err != nil {
		return nil, ErrPartitionNotFound
	}
	defer f.Close()

	size, err := f.Seek(0, 2)
	if err != nil {
		return nil, fmt.Errorf("sizing partition %q: %w", label, err)
	}

	return &Partition{Label: label, Size: uint64(size)}, nil
}

func (p *linuxPartitions) SetBootPartition(part *Partition) error {
	// The bootloader reads boot_partition from its persisted environment.
	return exec.Command("fw_setenv", "boot_partition", part.Label).Run()
}

type linuxFlash struct{}

func (f *linuxFlash) Open(target ImageTarget, declaredSize int64) (WriteSession, error) {
	table := &linuxPartitions{}
	part, err := table.Find(target)
	if err != nil {
		return nil, err
	}

	if declaredSize != SizeUnknown && declaredSize > int64(part.Size) {
		return nil, fmt.Errorf("image size %d exceeds partition %q size %d", declaredSize, part.Label, part.Size)
	}

	dev, err := os.OpenFile(filepath.Join("/dev/disk/by-partlabel", part.Label), os.O_WRONLY, 0)
	if err != nil {
		return nil, err
	}

	return &linuxWriteSession{dev: dev, capacity: int64(part.Size)}, nil
}

type linuxWriteSession struct {
	dev      *os.File
	capacity int64
	written  int64
}

func (s *linuxWriteSession) Write(p []byte) (int, error) {
	n := len(p)
	if s.written+int64(n) > s.capacity {
		n = int(s.capacity - s.written)
		if n < 0 {
			n = 0
		}
	}

	accepted, err := s.dev.Write(p[:n])
	s.written += int64(accepted)
	return accepted, err
}

func (s *linuxWriteSession) Finalize() error {
	defer s.dev.Close()
	return s.dev.Sync()
}

func (s *linuxWriteSession) Abort() {
	_ = s.dev.Close()
}

type linuxSystem struct{}

func (s *linuxSystem) ChipID() string {
	// Factory MAC of the wifi interface, without separators.
	data, err := os.ReadFile(filepath.Join("/sys/class/net", wifiInterface(), "address"))
	if err != nil {
		return "000000000000"
	}
	mac := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(string(data)), ":", ""))
	if len(mac) != 12 {
		return "000000000000"
	}
	return mac
}

func (s *linuxSystem) Restart() error {
	log.Info("System is restarting now")
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
