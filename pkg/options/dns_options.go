package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*DnsOptions)(nil)

// DnsOptions contains configuration for the captive portal DNS responder.
type DnsOptions struct {
	// Addr with responder listen address.
	Addr string `json:"addr" mapstructure:"addr"`
}

// NewDnsOptions creates a DnsOptions object with default parameters.
func NewDnsOptions() *DnsOptions {
	return &DnsOptions{
		Addr: "0.0.0.0:53",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *DnsOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}

	return errors
}

// AddFlags adds flags related to the DNS responder to the specified FlagSet.
func (o *DnsOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "dns.addr", o.Addr, "Specify the captive portal DNS responder bind address and port.")
}
