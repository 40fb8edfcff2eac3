package options

import (
	"github.com/spf13/pflag"

	"github.com/fwforge-io/fwforge/internal/factoryd"
	"github.com/fwforge-io/fwforge/pkg/log"
	genericoptions "github.com/fwforge-io/fwforge/pkg/options"
)

// Options aggregates the daemon's configurable pieces.
type Options struct {
	Log      *log.Options
	Http     *genericoptions.HttpOptions
	Dns      *genericoptions.DnsOptions
	Settings *genericoptions.SettingsOptions
}

func NewOptions() *Options {
	return &Options{
		Log:      log.NewOptions(),
		Http:     genericoptions.NewHttpOptions(),
		Dns:      genericoptions.NewDnsOptions(),
		Settings: genericoptions.NewSettingsOptions(),
	}
}

// AddFlags registers all flags on the command's flag set.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Log.AddFlags(fs)
	o.Http.AddFlags(fs)
	o.Dns.AddFlags(fs)
	o.Settings.AddFlags(fs)
}

func (o *Options) Validate() []error {
	var errs []error

	errs = append(errs, o.Log.Validate()...)
	errs = append(errs, o.Http.Validate()...)
	errs = append(errs, o.Dns.Validate()...)
	errs = append(errs, o.Settings.Validate()...)

	return errs
}

// Config builds the daemon configuration from the validated options.
func (o *Options) Config() (*factoryd.Config, error) {
	return &factoryd.Config{
		Http:     o.Http,
		Dns:      o.Dns,
		Settings: o.Settings,
	}, nil
}
