package connectivity

import (
	"context"
	"net"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/internal/pkg/metrics"
	"github.com/fwforge-io/fwforge/internal/settings"
	"github.com/fwforge-io/fwforge/pkg/log"
)

// Connectivity states. The machine prefers the configured station network
// and falls back to a self-hosted access point with captive portal DNS.
const (
	StateInit              = "init"
	StateStationSetup      = "sta_setup"
	StateStationConnecting = "sta_connecting"
	StateStationConnected  = "sta_connected"
	StateApSetup           = "ap_setup"
	StateApUp              = "ap_up"
	StateError             = "error"
)

// States lists every connectivity state, in machine order.
var States = []string{
	StateInit,
	StateStationSetup,
	StateStationConnecting,
	StateStationConnected,
	StateApSetup,
	StateApUp,
	StateError,
}

const (
	eventUseStation   = "use_station"
	eventStationReady = "station_ready"
	eventConnected    = "connected"
	eventLost         = "connection_lost"
	eventFallbackAp   = "fallback_ap"
	eventApStarted    = "ap_started"
	eventFail         = "fail"
)

// Access point network range. The address is deliberately taken from public
// address space instead of 192.168.0.0/16 or 172.16.0.0/12: several mobile
// clients only pop up their captive portal notification for non-private
// ranges after joining the wifi.
var (
	apLocalIP = net.IPv4(192, 169, 4, 1)
	apGateway = net.IPv4(192, 169, 4, 1)
	apSubnet  = net.IPv4Mask(255, 255, 255, 0)
)

const (
	connectTimeout       = 10 * time.Second
	checkConnectInterval = 100 * time.Millisecond
)

// DNSResponder is the captive portal DNS collaborator started while the
// access point comes up.
type DNSResponder interface {
	Start() error
	Shutdown() error
}

// Machine drives the device onto a network, one Tick per control loop
// iteration. It is the sole writer of the connectivity state.
type Machine struct {
	fsm   *fsm.FSM
	net   hal.Network
	dns   DNSResponder
	creds settings.Credentials
	clock clock.Clock
}

// NewMachine creates a connectivity machine in the init state. A nil clk
// selects the real clock.
func NewMachine(network hal.Network, dns DNSResponder, creds settings.Credentials, clk clock.Clock) *Machine {
	if clk == nil {
		clk = clock.RealClock{}
	}

	m := &Machine{
		net:   network,
		dns:   dns,
		creds: creds,
		clock: clk,
	}

	events := fsm.Events{
		{Name: eventUseStation, Src: []string{StateInit}, Dst: StateStationSetup},
		{Name: eventStationReady, Src: []string{StateStationSetup}, Dst: StateStationConnecting},
		{Name: eventConnected, Src: []string{StateStationConnecting}, Dst: StateStationConnected},
		{Name: eventLost, Src: []string{StateStationConnected}, Dst: StateStationConnecting},
		{Name: eventFallbackAp, Src: []string{StateInit, StateStationSetup, StateStationConnecting}, Dst: StateApSetup},
		{Name: eventApStarted, Src: []string{StateApSetup}, Dst: StateApUp},
		{Name: eventFail, Src: []string{StateApSetup}, Dst: StateError},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			log.Debug("Connectivity state transition", "from", e.Src, "to", e.Dst)
			metrics.SetConnectivityState(e.Dst, States)
		},
	}

	m.fsm = fsm.NewFSM(StateInit, events, callbacks)
	metrics.SetConnectivityState(StateInit, States)

	return m
}

// State returns the current connectivity state. Read by the HTTP front end
// for status reporting only, never to drive logic.
func (m *Machine) State() string {
	return m.fsm.Current()
}

// Tick advances the machine by one step. Called once per control loop
// iteration; apart from the bounded station-connect wait it never blocks.
func (m *Machine) Tick(ctx context.Context) {
	switch m.fsm.Current() {
	case StateInit:
		m.tickInit(ctx)
	case StateStationSetup:
		m.tickStationSetup(ctx)
	case StateStationConnecting:
		m.tickStationConnecting(ctx)
	case StateStationConnected:
		m.tickStationConnected(ctx)
	case StateApSetup:
		m.tickApSetup(ctx)
	case StateApUp, StateError:
		// Stable; recovery is an external restart.
	}
}

func (m *Machine) tickInit(ctx context.Context) {
	if m.creds.StationSSID == "" {
		log.Info("No station SSID configured, starting in access point mode")
		m.event(ctx, eventFallbackAp)
		return
	}

	log.Info("Setting up wifi station")
	m.event(ctx, eventUseStation)
}

func (m *Machine) tickStationSetup(ctx context.Context) {
	if err := m.net.EnableStation(); err != nil {
		log.Error(err, "Failed to enable station mode")
		m.event(ctx, eventFallbackAp)
		return
	}

	m.event(ctx, eventStationReady)
}

func (m *Machine) tickStationConnecting(ctx context.Context) {
	if m.net.IsConnected() {
		m.event(ctx, eventConnected)
		return
	}

	if err := m.net.Connect(m.creds.StationSSID, m.creds.StationPassphrase); err != nil {
		log.Error(err, "Connect attempt failed", "ssid", m.creds.StationSSID)
		m.event(ctx, eventFallbackAp)
		return
	}

	log.Info("Connecting to wifi", "ssid", m.creds.StationSSID)

	// Bounded blocking wait. Connectivity setup happens once at boot,
	// before request traffic is expected, so not servicing the loop here
	// is acceptable.
	deadline := m.clock.Now().Add(connectTimeout)
	for !m.net.IsConnected() && m.clock.Now().Before(deadline) {
		m.clock.Sleep(checkConnectInterval)
	}

	if !m.net.IsConnected() {
		log.Error(nil, "Failed to connect to wifi within timeout", "ssid", m.creds.StationSSID, "timeout", connectTimeout)
		log.Info("Setting up access point mode")
		m.event(ctx, eventFallbackAp)
		return
	}

	log.Info("Connected to wifi", "ssid", m.creds.StationSSID, "ip", m.net.StationIP())
	m.event(ctx, eventConnected)
}

func (m *Machine) tickStationConnected(ctx context.Context) {
	if !m.net.IsConnected() {
		log.Error(nil, "Wifi connection lost, reconnecting")
		m.event(ctx, eventLost)
	}
}

func (m *Machine) tickApSetup(ctx context.Context) {
	// Four setup steps; the first failure wins and the rest are skipped.
	if err := m.net.ConfigureAccessPoint(apLocalIP, apGateway, apSubnet); err != nil {
		log.Error(err, "Failed to configure access point")
		m.event(ctx, eventFail)
		return
	}

	if err := m.net.SetHostname(m.creds.Hostname); err != nil {
		log.Error(err, "Failed to set access point hostname", "hostname", m.creds.Hostname)
		m.event(ctx, eventFail)
		return
	}

	if err := m.net.StartAccessPoint(m.creds.ApSSID, m.creds.ApPassphrase); err != nil {
		log.Error(err, "Failed to start access point", "ssid", m.creds.ApSSID)
		m.event(ctx, eventFail)
		return
	}

	if err := m.dns.Start(); err != nil {
		log.Error(err, "Failed to start captive portal DNS responder")
		m.event(ctx, eventFail)
		return
	}

	log.Info("Access point is up and running", "ssid", m.creds.ApSSID, "hostname", m.creds.Hostname)
	m.event(ctx, eventApStarted)
}

// Shutdown tears the network down for an orderly restart: in access point
// mode the DNS responder and the access point are stopped, otherwise the
// station is disconnected.
func (m *Machine) Shutdown() {
	switch m.fsm.Current() {
	case StateApSetup, StateApUp:
		if err := m.dns.Shutdown(); err != nil {
			log.Error(err, "Failed to stop DNS responder")
		}
		if err := m.net.StopAccessPoint(); err != nil {
			log.Error(err, "Failed to stop access point")
		}
	default:
		if err := m.net.Disconnect(); err != nil {
			log.Error(err, "Failed to disconnect station")
		}
	}
}

// PortalIP returns the access point address clients are redirected to.
func PortalIP() net.IP {
	return apLocalIP
}

func (m *Machine) event(ctx context.Context, name string) {
	if err := m.fsm.Event(ctx, name); err != nil {
		log.Error(err, "Invalid connectivity transition", "event", name, "state", m.fsm.Current())
	}
}
