package connectivity

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"k8s.io/utils/clock"

	"github.com/fwforge-io/fwforge/internal/settings"
)

// fakeClock advances instantly on Sleep so the bounded connect wait runs
// without real delays.
type fakeClock struct {
	clock.RealClock
	now time.Time
}

func (c *fakeClock) Now() time.Time                  { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }
func (c *fakeClock) Sleep(d time.Duration)           { c.now = c.now.Add(d) }

type fakeNetwork struct {
	enableStationCalls int
	enableStationErr   error

	connectCalls int
	connectErr   error

	// connectAfter is the number of IsConnected polls after a connect
	// attempt before the link reports up. Negative means never.
	connectAfter int
	polls        int
	connected    bool

	configureApErr error
	hostnameErr    error
	startApErr     error

	configureApCalls int
	hostnameCalls    int
	startApCalls     int
	stopApCalls      int
	disconnectCalls  int
}

func (n *fakeNetwork) EnableStation() error {
	n.enableStationCalls++
	return n.enableStationErr
}

func (n *fakeNetwork) Connect(ssid, passphrase string) error {
	n.connectCalls++
	n.polls = 0
	return n.connectErr
}

func (n *fakeNetwork) IsConnected() bool {
	if n.connected {
		return true
	}
	if n.connectCalls == 0 || n.connectAfter < 0 {
		return false
	}
	n.polls++
	if n.polls > n.connectAfter {
		n.connected = true
	}
	return n.connected
}

func (n *fakeNetwork) Disconnect() error {
	n.disconnectCalls++
	n.connected = false
	return nil
}

func (n *fakeNetwork) StationIP() net.IP { return net.IPv4(192, 168, 1, 50) }

func (n *fakeNetwork) ConfigureAccessPoint(addr, gateway net.IP, subnet net.IPMask) error {
	n.configureApCalls++
	return n.configureApErr
}

func (n *fakeNetwork) SetHostname(hostname string) error {
	n.hostnameCalls++
	return n.hostnameErr
}

func (n *fakeNetwork) StartAccessPoint(ssid, passphrase string) error {
	n.startApCalls++
	return n.startApErr
}

func (n *fakeNetwork) StopAccessPoint() error {
	n.stopApCalls++
	return nil
}

type fakeDNS struct {
	startCalls    int
	shutdownCalls int
	startErr      error
}

func (d *fakeDNS) Start() error {
	d.startCalls++
	return d.startErr
}

func (d *fakeDNS) Shutdown() error {
	d.shutdownCalls++
	return nil
}

func newTestMachine(network *fakeNetwork, dns *fakeDNS, creds settings.Credentials) *Machine {
	return NewMachine(network, dns, creds, &fakeClock{now: time.Unix(1000, 0)})
}

func tickUntil(t *testing.T, m *Machine, state string, maxTicks int) {
	t.Helper()

	ctx := context.Background()
	for i := 0; i < maxTicks; i++ {
		if m.State() == state {
			return
		}
		m.Tick(ctx)
	}
	if m.State() != state {
		t.Fatalf("machine never reached %q, stuck in %q", state, m.State())
	}
}

func TestEmptySSIDGoesDirectlyToAccessPoint(t *testing.T) {
	network := &fakeNetwork{}
	m := newTestMachine(network, &fakeDNS{}, settings.Credentials{})

	m.Tick(context.Background())

	if got := m.State(); got != StateApSetup {
		t.Fatalf("expected %q, got %q", StateApSetup, got)
	}
	if network.enableStationCalls != 0 {
		t.Fatalf("station setup must be skipped, got %d calls", network.enableStationCalls)
	}
}

func TestStationConnectSuccess(t *testing.T) {
	network := &fakeNetwork{connectAfter: 3}
	m := newTestMachine(network, &fakeDNS{}, settings.Credentials{StationSSID: "homenet", StationPassphrase: "pw"})

	tickUntil(t, m, StateStationConnected, 5)

	if network.connectCalls != 1 {
		t.Fatalf("expected a single connect attempt, got %d", network.connectCalls)
	}
}

func TestStationConnectTimeoutFallsBackToAccessPoint(t *testing.T) {
	network := &fakeNetwork{connectAfter: -1}
	dns := &fakeDNS{}
	m := newTestMachine(network, dns, settings.Credentials{StationSSID: "homenet"})

	tickUntil(t, m, StateApUp, 8)

	if network.startApCalls != 1 {
		t.Fatalf("expected access point start, got %d calls", network.startApCalls)
	}
	if dns.startCalls != 1 {
		t.Fatalf("expected DNS responder start, got %d calls", dns.startCalls)
	}
}

func TestStationSetupFailureFallsBackToAccessPoint(t *testing.T) {
	network := &fakeNetwork{enableStationErr: errors.New("radio dead")}
	m := newTestMachine(network, &fakeDNS{}, settings.Credentials{StationSSID: "homenet"})

	m.Tick(context.Background()) // init -> sta_setup
	m.Tick(context.Background()) // sta_setup -> ap_setup

	if got := m.State(); got != StateApSetup {
		t.Fatalf("expected %q, got %q", StateApSetup, got)
	}
}

func TestDroppedConnectionRetriesConnect(t *testing.T) {
	network := &fakeNetwork{connectAfter: 0}
	m := newTestMachine(network, &fakeDNS{}, settings.Credentials{StationSSID: "homenet"})

	tickUntil(t, m, StateStationConnected, 5)

	network.connected = false
	network.connectAfter = -1
	network.connectCalls = 0

	m.Tick(context.Background())

	if got := m.State(); got != StateStationConnecting {
		t.Fatalf("expected %q after drop, got %q", StateStationConnecting, got)
	}
}

func TestApSetupFirstFailureWins(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(n *fakeNetwork, d *fakeDNS)
		checkFn func(t *testing.T, n *fakeNetwork, d *fakeDNS)
	}{
		{
			name:   "configure fails",
			mutate: func(n *fakeNetwork, d *fakeDNS) { n.configureApErr = errors.New("cfg") },
			checkFn: func(t *testing.T, n *fakeNetwork, d *fakeDNS) {
				if n.hostnameCalls != 0 || n.startApCalls != 0 || d.startCalls != 0 {
					t.Fatal("later setup steps must be skipped")
				}
			},
		},
		{
			name:   "hostname fails",
			mutate: func(n *fakeNetwork, d *fakeDNS) { n.hostnameErr = errors.New("host") },
			checkFn: func(t *testing.T, n *fakeNetwork, d *fakeDNS) {
				if n.startApCalls != 0 || d.startCalls != 0 {
					t.Fatal("later setup steps must be skipped")
				}
			},
		},
		{
			name:   "ap start fails",
			mutate: func(n *fakeNetwork, d *fakeDNS) { n.startApErr = errors.New("ap") },
			checkFn: func(t *testing.T, n *fakeNetwork, d *fakeDNS) {
				if d.startCalls != 0 {
					t.Fatal("DNS start must be skipped")
				}
			},
		},
		{
			name:    "dns fails",
			mutate:  func(n *fakeNetwork, d *fakeDNS) { d.startErr = errors.New("dns") },
			checkFn: func(t *testing.T, n *fakeNetwork, d *fakeDNS) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network := &fakeNetwork{}
			dns := &fakeDNS{}
			tt.mutate(network, dns)

			m := newTestMachine(network, dns, settings.Credentials{})
			m.Tick(context.Background()) // init -> ap_setup
			m.Tick(context.Background()) // ap_setup -> error

			if got := m.State(); got != StateError {
				t.Fatalf("expected %q, got %q", StateError, got)
			}
			tt.checkFn(t, network, dns)
		})
	}
}

func TestErrorStateIsTerminal(t *testing.T) {
	network := &fakeNetwork{configureApErr: errors.New("cfg")}
	m := newTestMachine(network, &fakeDNS{}, settings.Credentials{})

	tickUntil(t, m, StateError, 3)
	for i := 0; i < 3; i++ {
		m.Tick(context.Background())
	}

	if got := m.State(); got != StateError {
		t.Fatalf("error state must be stable, got %q", got)
	}
}

func TestShutdownStopsAccessPointAndDNS(t *testing.T) {
	network := &fakeNetwork{}
	dns := &fakeDNS{}
	m := newTestMachine(network, dns, settings.Credentials{})

	tickUntil(t, m, StateApUp, 3)
	m.Shutdown()

	if dns.shutdownCalls != 1 || network.stopApCalls != 1 {
		t.Fatalf("expected DNS and AP teardown, got dns=%d ap=%d", dns.shutdownCalls, network.stopApCalls)
	}
}

func TestShutdownDisconnectsStation(t *testing.T) {
	network := &fakeNetwork{connectAfter: 0}
	m := newTestMachine(network, &fakeDNS{}, settings.Credentials{StationSSID: "homenet"})

	tickUntil(t, m, StateStationConnected, 5)
	m.Shutdown()

	if network.disconnectCalls != 1 {
		t.Fatalf("expected station disconnect, got %d", network.disconnectCalls)
	}
}
