package hal

import (
	"errors"
	"net"
)

// ImageTarget selects which flash image an operation refers to.
type ImageTarget int

const (
	// TargetApplication is the application image slot.
	TargetApplication ImageTarget = iota

	// TargetFilesystem is the filesystem image.
	TargetFilesystem
)

func (t ImageTarget) String() string {
	switch t {
	case TargetApplication:
		return "application"
	case TargetFilesystem:
		return "filesystem"
	default:
		return "unknown"
	}
}

// SizeUnknown is the declared-size sentinel for a write session whose final
// size is not known up front. The flash layer then checks bounds per write.
const SizeUnknown int64 = -1

// ErrPartitionNotFound is returned by PartitionTable.Find when the partition
// backing the requested target does not exist in the partition table.
var ErrPartitionNotFound = errors.New("partition not found")

// Network controls the wifi interface in station and access point mode.
// All methods are synchronous; connection establishment is asynchronous and
// observed through IsConnected.
type Network interface {
	// EnableStation switches the wifi interface into station (client) mode.
	EnableStation() error

	// Connect issues a connect attempt to the given network. It does not
	// wait for the connection to come up.
	Connect(ssid, passphrase string) error

	// IsConnected reports whether the station link is established.
	IsConnected() bool

	// Disconnect drops the station connection.
	Disconnect() error

	// StationIP returns the address assigned to the station interface, or
	// nil when not connected.
	StationIP() net.IP

	// ConfigureAccessPoint assigns the self-hosted network range.
	ConfigureAccessPoint(addr, gateway net.IP, subnet net.IPMask) error

	// SetHostname sets the advertised hostname.
	SetHostname(hostname string) error

	// StartAccessPoint brings up the access point network.
	StartAccessPoint(ssid, passphrase string) error

	// StopAccessPoint tears the access point down.
	StopAccessPoint() error
}

// Partition describes one entry of the device partition table.
type Partition struct {
	Label string
	Size  uint64
}

// PartitionTable looks up flash partitions and selects the boot partition.
type PartitionTable interface {
	// Find returns the partition backing the given target, or
	// ErrPartitionNotFound.
	Find(target ImageTarget) (*Partition, error)

	// SetBootPartition marks the given partition as the next-boot target.
	SetBootPartition(p *Partition) error
}

// WriteSession is one open flash write of a single image.
type WriteSession interface {
	// Write programs the chunk and returns the number of bytes accepted.
	Write(p []byte) (int, error)

	// Finalize commits the written image. After Finalize the session is closed.
	Finalize() error

	// Abort discards the session. Safe to call after a failed Write.
	Abort()
}

// Flash opens write sessions against the image writer primitive.
type Flash interface {
	// Open starts a write session for the given target. declaredSize is the
	// expected image size in bytes, or SizeUnknown.
	Open(target ImageTarget, declaredSize int64) (WriteSession, error)
}

// System exposes device identity and restart.
type System interface {
	// ChipID returns the device-unique identifier derived from the factory
	// programmed MAC address, as 12 uppercase hex characters.
	ChipID() string

	// Restart reboots the device.
	Restart() error
}

// HAL bundles the platform capabilities the daemon orchestrates.
type HAL struct {
	Network    Network
	Partitions PartitionTable
	Flash      Flash
	System     System
}
