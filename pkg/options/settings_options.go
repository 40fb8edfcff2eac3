package options

import (
	"github.com/spf13/pflag"
)

var _ IOptions = (*SettingsOptions)(nil)

// SettingsOptions contains configuration for the persisted settings store.
type SettingsOptions struct {
	// Path is the file the namespaced key-value store is persisted in.
	Path string `json:"path" mapstructure:"path"`

	// Namespace selects the key namespace within the store.
	Namespace string `json:"namespace" mapstructure:"namespace"`
}

// NewSettingsOptions creates a SettingsOptions object with default parameters.
func NewSettingsOptions() *SettingsOptions {
	return &SettingsOptions{
		Path:      "/var/lib/factoryd/settings.yaml",
		Namespace: "settings",
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *SettingsOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	return errors
}

// AddFlags adds flags related to the settings store to the specified FlagSet.
func (o *SettingsOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Path, "settings.path", o.Path, "Path of the persisted settings store file.")
	fs.StringVar(&o.Namespace, "settings.namespace", o.Namespace, "Key namespace within the settings store.")
}
