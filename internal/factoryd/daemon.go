package factoryd

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fwforge-io/fwforge/internal/connectivity"
	"github.com/fwforge-io/fwforge/internal/hal"
	"github.com/fwforge-io/fwforge/internal/update"
	"github.com/fwforge-io/fwforge/internal/webserver"
	"github.com/fwforge-io/fwforge/pkg/log"
)

const (
	// tickPeriod drives the connectivity machine state handler.
	tickPeriod = 100 * time.Millisecond

	// defaultRestartDelay gives the HTTP response time to reach the client
	// before the network is torn down.
	defaultRestartDelay = time.Second
)

// Daemon runs the factory services: the connectivity machine, the captive
// DNS responder and the web front end, and performs the orderly restart
// after a partition switch.
type Daemon struct {
	machine *connectivity.Machine
	updates *update.Manager
	server  *webserver.Server
	system  hal.System

	restart      chan struct{}
	restartDelay time.Duration

	// restartPending is written before the run group is cancelled and read
	// after Wait, which orders the accesses.
	restartPending bool
}

// RequestRestart schedules an orderly restart. Duplicate requests while one
// is pending are dropped.
func (d *Daemon) RequestRestart() {
	select {
	case d.restart <- struct{}{}:
	default:
	}
}

// Run serves until ctx is cancelled or a restart is requested, then tears
// the network down and, for a requested restart, reboots the device.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return d.server.Run(ctx)
	})

	group.Go(func() error {
		d.runMachine(ctx)
		return nil
	})

	group.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-d.restart:
			log.Info("Restart requested")
			time.Sleep(d.restartDelay)
			d.restartPending = true
			cancel()
			return nil
		}
	})

	err := group.Wait()

	d.updates.Abort()
	d.machine.Shutdown()

	if d.restartPending {
		log.Info("Restarting device")
		if rerr := d.system.Restart(); rerr != nil {
			log.Error(rerr, "Failed to restart device")
			if err == nil {
				err = rerr
			}
		}
	}

	return err
}

// runMachine drives the connectivity machine until shutdown. The machine
// blocks inside a tick while waiting on a connect attempt, so the period
// only bounds how fast idle states are re-examined.
func (d *Daemon) runMachine(ctx context.Context) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.machine.Tick(ctx)
		}
	}
}
