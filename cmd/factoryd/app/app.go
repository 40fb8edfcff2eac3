package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/fwforge-io/fwforge/cmd/factoryd/app/options"
	"github.com/fwforge-io/fwforge/pkg/log"
)

const commandDesc = `The factory daemon brings the device onto the local network, or hosts its
own access point with a captive portal, and serves the provisioning web
interface for image uploads and boot partition switching.`

// NewAppCommand builds the factoryd root command.
func NewAppCommand() *cobra.Command {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:          "factoryd",
		Short:        "Launch the factory provisioning daemon",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
		Args: cobra.NoArgs,
	}

	opts.AddFlags(cmd.Flags())

	return cmd
}

func run(opts *options.Options) error {
	log.Init(opts.Log)

	if errs := opts.Validate(); len(errs) != 0 {
		return utilerrors.NewAggregate(errs)
	}

	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	daemon, err := cfg.NewDaemon()
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return daemon.Run(ctx)
}
