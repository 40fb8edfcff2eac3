//go:build !linux

package hal

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fwforge-io/fwforge/pkg/log"
)

// NewHAL returns the simulated platform used in development environments.
// Flash writes land in files below the temp directory, the wifi "link"
// comes up a moment after a connect attempt.
func NewHAL() *HAL {
	baseDir := filepath.Join(os.TempDir(), "fwforge-mock-hal")
	_ = os.MkdirAll(baseDir, 0o755)

	return &HAL{
		Network:    &mockNetwork{},
		Partitions: newMockPartitions(),
		Flash:      &mockFlash{baseDir: baseDir, partitions: newMockPartitions()},
		System:     &mockSystem{},
	}
}

type mockNetwork struct {
	mu          sync.Mutex
	connectedAt time.Time
	apUp        bool
}

// linkDelay simulates the association and DHCP phase.
const linkDelay = 2 * time.Second

func (n *mockNetwork) EnableStation() error {
	log.Info("[HAL-Mock] Station mode enabled")
	return nil
}

func (n *mockNetwork) Connect(ssid, passphrase string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	log.Info("[HAL-Mock] Connect attempt", "ssid", ssid)
	n.connectedAt = time.Now().Add(linkDelay)
	return nil
}

func (n *mockNetwork) IsConnected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return !n.connectedAt.IsZero() && time.Now().After(n.connectedAt)
}

func (n *mockNetwork) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.connectedAt = time.Time{}
	return nil
}

func (n *mockNetwork) StationIP() net.IP {
	if !n.IsConnected() {
		return nil
	}
	return net.IPv4(192, 168, 1, 77)
}

func (n *mockNetwork) ConfigureAccessPoint(addr, gateway net.IP, subnet net.IPMask) error {
	log.Info("[HAL-Mock] Access point configured", "addr", addr.String())
	return nil
}

func (n *mockNetwork) SetHostname(hostname string) error {
	log.Info("[HAL-Mock] Hostname set", "hostname", hostname)
	return nil
}

func (n *mockNetwork) StartAccessPoint(ssid, passphrase string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	log.Info("[HAL-Mock] Access point started", "ssid", ssid)
	n.apUp = true
	return nil
}

func (n *mockNetwork) StopAccessPoint() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.apUp = false
	return nil
}

type mockPartitions struct {
	table map[ImageTarget]*Partition
}

func newMockPartitions() *mockPartitions {
	return &mockPartitions{
		table: map[ImageTarget]*Partition{
			TargetApplication: {Label: "app0", Size: 3 * 1024 * 1024},
			TargetFilesystem:  {Label: "spiffs", Size: 1536 * 1024},
		},
	}
}

func (p *mockPartitions) Find(target ImageTarget) (*Partition, error) {
	part, ok := p.table[target]
	if !ok {
		return nil, ErrPartitionNotFound
	}
	return part, nil
}

func (p *mockPartitions) SetBootPartition(part *Partition) error {
	log.Info("[HAL-Mock] Boot partition set", "label", part.Label)
	return nil
}

type mockFlash struct {
	baseDir    string
	partitions *mockPartitions
}

func (f *mockFlash) Open(target ImageTarget, declaredSize int64) (WriteSession, error) {
	part, err := f.partitions.Find(target)
	if err != nil {
		return nil, err
	}

	if declaredSize != SizeUnknown && declaredSize > int64(part.Size) {
		return nil, fmt.Errorf("image size %d exceeds partition %q size %d", declaredSize, part.Label, part.Size)
	}

	file, err := os.Create(filepath.Join(f.baseDir, part.Label+".bin"))
	if err != nil {
		return nil, err
	}

	return &mockWriteSession{
		file:         file,
		capacity:     int64(part.Size),
		declaredSize: declaredSize,
	}, nil
}

type mockWriteSession struct {
	file         *os.File
	capacity     int64
	declaredSize int64
	written      int64
}

func (s *mockWriteSession) Write(p []byte) (int, error) {
	limit := s.capacity
	if s.declaredSize != SizeUnknown && s.declaredSize < limit {
		limit = s.declaredSize
	}

	// Overflowing writes are truncated at the limit, like a real flash
	// writer accepting only what fits.
	n := len(p)
	if s.written+int64(n) > limit {
		n = int(limit - s.written)
		if n < 0 {
			n = 0
		}
	}

	accepted, err := s.file.Write(p[:n])
	s.written += int64(accepted)
	return accepted, err
}

func (s *mockWriteSession) Finalize() error {
	defer s.file.Close()

	if s.declaredSize != SizeUnknown && s.written != s.declaredSize {
		return fmt.Errorf("incomplete image: %d of %d bytes written", s.written, s.declaredSize)
	}

	return s.file.Sync()
}

func (s *mockWriteSession) Abort() {
	name := s.file.Name()
	_ = s.file.Close()
	_ = os.Remove(name)
}

type mockSystem struct{}

func (s *mockSystem) ChipID() string {
	if id := os.Getenv("FWFORGE_CHIP_ID"); id != "" {
		return id
	}
	return "A1B2C3D4E5F6"
}

func (s *mockSystem) Restart() error {
	log.Warn("[HAL-Mock] >>> RESTART REQUESTED <<<")
	return nil
}
