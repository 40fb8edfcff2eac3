package factoryd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwforge-io/fwforge/internal/bootpart"
	"github.com/fwforge-io/fwforge/internal/connectivity"
	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/internal/settings"
	"github.com/fwforge-io/fwforge/internal/update"
	"github.com/fwforge-io/fwforge/internal/webserver"
	"github.com/fwforge-io/fwforge/pkg/options"
)

// seqRecorder collects the shutdown-relevant calls in order. The daemon
// performs them sequentially after the run group has drained, so no lock is
// needed.
type seqRecorder struct {
	calls []string
}

func (r *seqRecorder) add(name string) {
	r.calls = append(r.calls, name)
}

type fakeNetwork struct {
	rec *seqRecorder
}

func (n *fakeNetwork) EnableStation() error                     { return nil }
func (n *fakeNetwork) Connect(ssid, passphrase string) error    { return nil }
func (n *fakeNetwork) IsConnected() bool                        { return false }
func (n *fakeNetwork) StationIP() net.IP                        { return nil }
func (n *fakeNetwork) SetHostname(hostname string) error        { return nil }
func (n *fakeNetwork) StartAccessPoint(ssid, pass string) error { return nil }

func (n *fakeNetwork) ConfigureAccessPoint(addr, gateway net.IP, subnet net.IPMask) error {
	return nil
}

func (n *fakeNetwork) Disconnect() error {
	n.rec.add("network teardown")
	return nil
}

func (n *fakeNetwork) StopAccessPoint() error {
	n.rec.add("network teardown")
	return nil
}

type fakeDNS struct{}

func (d *fakeDNS) Start() error    { return nil }
func (d *fakeDNS) Shutdown() error { return nil }

type fakeSystem struct {
	rec *seqRecorder
}

func (s *fakeSystem) ChipID() string { return "A1B2C3D4E5F6" }

func (s *fakeSystem) Restart() error {
	s.rec.add("restart system")
	return nil
}

type fakeWriter struct {
	rec *seqRecorder
}

func (w *fakeWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *fakeWriter) Finalize() error             { return nil }
func (w *fakeWriter) Abort()                      { w.rec.add("abort upload") }

type fakeFlash struct {
	rec *seqRecorder
}

func (f *fakeFlash) Open(target hal.ImageTarget, declaredSize int64) (hal.WriteSession, error) {
	return &fakeWriter{rec: f.rec}, nil
}

type fakePartitions struct{}

func (p *fakePartitions) Find(target hal.ImageTarget) (*hal.Partition, error) {
	return nil, hal.ErrPartitionNotFound
}

func (p *fakePartitions) SetBootPartition(part *hal.Partition) error { return nil }

func newTestDaemon(t *testing.T, rec *seqRecorder) *Daemon {
	t.Helper()

	machine := connectivity.NewMachine(&fakeNetwork{rec: rec}, &fakeDNS{}, settings.Credentials{}, nil)
	updates := update.NewManager(&fakeFlash{rec: rec})

	d := &Daemon{
		machine:      machine,
		updates:      updates,
		system:       &fakeSystem{rec: rec},
		restart:      make(chan struct{}, 1),
		restartDelay: 10 * time.Millisecond,
	}

	opts := options.NewHttpOptions()
	opts.Addr = "127.0.0.1:0"
	d.server = webserver.New(opts, webserver.Deps{
		Updates:        updates,
		Boot:           bootpart.NewController(&fakePartitions{}),
		Partitions:     &fakePartitions{},
		State:          machine.State,
		RequestRestart: d.RequestRestart,
	})

	return d
}

func TestRequestRestartPerformsOrderlyShutdown(t *testing.T) {
	rec := &seqRecorder{}
	d := newTestDaemon(t, rec)

	// An upload is in flight when the restart arrives.
	_, err := d.updates.Start(hal.TargetApplication, hal.SizeUnknown)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	d.RequestRestart()
	// A second request while one is pending is dropped, not queued.
	d.RequestRestart()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after restart request")
	}

	// Respond/delay already happened; then the upload is discarded, the
	// network comes down, and only then the device restarts.
	assert.Equal(t, []string{"abort upload", "network teardown", "restart system"}, rec.calls)
	assert.Equal(t, update.StatusAborted, d.updates.Status())
}

func TestContextCancelStopsWithoutRestart(t *testing.T) {
	rec := &seqRecorder{}
	d := newTestDaemon(t, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop on context cancel")
	}

	assert.NotContains(t, rec.calls, "restart system")
	assert.Contains(t, rec.calls, "network teardown")
}
