package factoryd

import (
	"github.com/fwforge-io/fwforge/internal/bootpart"
	"github.com/fwforge-io/fwforge/internal/captive"
	"github.com/fwforge-io/fwforge/internal/connectivity"
	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/internal/settings"
	"github.com/fwforge-io/fwforge/internal/update"
	"github.com/fwforge-io/fwforge/internal/webserver"
	"github.com/fwforge-io/fwforge/pkg/options"
)

// Config holds the validated daemon configuration.
type Config struct {
	Http     *options.HttpOptions
	Dns      *options.DnsOptions
	Settings *options.SettingsOptions
}

// NewDaemon assembles the daemon from the configuration: the platform HAL,
// the persisted settings, the connectivity machine and the web front end.
func (c *Config) NewDaemon() (*Daemon, error) {
	h := hal.NewHAL()

	store := settings.NewStore(c.Settings)
	if err := store.Load(); err != nil {
		return nil, err
	}
	creds := settings.LoadCredentials(store, h.System.ChipID())

	responder := captive.NewResponder(c.Dns.Addr, connectivity.PortalIP())
	machine := connectivity.NewMachine(h.Network, responder, creds, nil)

	updates := update.NewManager(h.Flash)
	boot := bootpart.NewController(h.Partitions)

	d := &Daemon{
		machine:      machine,
		updates:      updates,
		system:       h.System,
		restart:      make(chan struct{}, 1),
		restartDelay: defaultRestartDelay,
	}

	d.server = webserver.New(c.Http, webserver.Deps{
		Updates:        updates,
		Boot:           boot,
		Partitions:     h.Partitions,
		State:          machine.State,
		RequestRestart: d.RequestRestart,
	})

	return d, nil
}
