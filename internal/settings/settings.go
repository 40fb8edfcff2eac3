package settings

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/fwforge-io/fwforge/pkg/log"
	"github.com/fwforge-io/fwforge/pkg/options"
)

// Persisted keys. Each application module has to use a namespace to prevent
// key name collisions; all keys below live in the configured namespace.
const (
	KeyHostname         = "hostname"
	KeyWifiSSID         = "sta_ssid"
	KeyWifiPassphrase   = "sta_passphrase"
	KeyWifiApSSID       = "ap_ssid"
	KeyWifiApPassphrase = "ap_passphrase"
	KeyWebLoginUser     = "web_user"
	KeyWebLoginPassword = "web_password"
)

// Defaults used when the store is empty or a key is absent.
const (
	DefaultHostname         = "fwforge"
	DefaultWifiSSID         = ""
	DefaultWifiPassphrase   = ""
	DefaultWifiApSSID       = "fwforge"
	DefaultWifiApPassphrase = "May the forge be with you."
	DefaultWebLoginUser     = "luke"
	DefaultWebLoginPassword = "skywalker"
)

// Store is a thin wrapper over a persisted, namespaced key-value file.
type Store struct {
	v         *viper.Viper
	namespace string
}

// NewStore creates a store reading the file named by opts. The file is not
// touched until Load.
func NewStore(opts *options.SettingsOptions) *Store {
	v := viper.New()
	v.SetConfigFile(opts.Path)

	return &Store{
		v:         v,
		namespace: opts.Namespace,
	}
}

// Load reads the persisted settings. A missing store file is not an error:
// defaults apply for every key.
func (s *Store) Load() error {
	if err := s.v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			log.Warn("No settings found, using default values", "path", s.v.ConfigFileUsed())
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Warn("No settings found, using default values", "path", s.v.ConfigFileUsed())
			return nil
		}
		return fmt.Errorf("reading settings store: %w", err)
	}

	return nil
}

// GetString returns the value for key within the store namespace, or def
// when the key is absent.
func (s *Store) GetString(key, def string) string {
	full := s.namespace + "." + key
	if !s.v.IsSet(full) {
		return def
	}
	return s.v.GetString(full)
}

// Credentials is the network identity loaded once at startup. It stays
// immutable for the lifetime of one boot cycle.
type Credentials struct {
	Hostname          string
	StationSSID       string
	StationPassphrase string
	ApSSID            string
	ApPassphrase      string
	WebLoginUser      string
	WebLoginPassword  string
}

// LoadCredentials reads the network credentials from the store, applying
// defaults, and suffixes the hostname with a device-unique identifier to
// avoid name clashes between devices.
func LoadCredentials(store *Store, chipID string) Credentials {
	return Credentials{
		Hostname:          store.GetString(KeyHostname, DefaultHostname) + "-" + uniqueSuffix(chipID),
		StationSSID:       store.GetString(KeyWifiSSID, DefaultWifiSSID),
		StationPassphrase: store.GetString(KeyWifiPassphrase, DefaultWifiPassphrase),
		ApSSID:            store.GetString(KeyWifiApSSID, DefaultWifiApSSID),
		ApPassphrase:      store.GetString(KeyWifiApPassphrase, DefaultWifiApPassphrase),
		WebLoginUser:      store.GetString(KeyWebLoginUser, DefaultWebLoginUser),
		WebLoginPassword:  store.GetString(KeyWebLoginPassword, DefaultWebLoginPassword),
	}
}

// uniqueSuffix derives the collision-avoidance suffix from the chip id: the
// last 8 characters of the 12 hex character MAC-derived identifier.
func uniqueSuffix(chipID string) string {
	if len(chipID) <= 8 {
		return chipID
	}
	return chipID[len(chipID)-8:]
}
