package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fwforge-io/fwforge/pkg/options"
)

func newTestStore(t *testing.T, contents string) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "settings.yaml")
	if contents != "" {
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}

	store := NewStore(&options.SettingsOptions{Path: path, Namespace: "settings"})
	require.NoError(t, store.Load())
	return store
}

func TestLoadCredentialsDefaults(t *testing.T) {
	store := newTestStore(t, "")

	creds := LoadCredentials(store, "A1B2C3D4E5F6")

	assert.Equal(t, "fwforge-C3D4E5F6", creds.Hostname)
	assert.Empty(t, creds.StationSSID)
	assert.Empty(t, creds.StationPassphrase)
	assert.Equal(t, DefaultWifiApSSID, creds.ApSSID)
	assert.Equal(t, DefaultWifiApPassphrase, creds.ApPassphrase)
	assert.Equal(t, DefaultWebLoginUser, creds.WebLoginUser)
	assert.Equal(t, DefaultWebLoginPassword, creds.WebLoginPassword)
}

func TestLoadCredentialsFromStore(t *testing.T) {
	store := newTestStore(t, `settings:
  hostname: workshop
  sta_ssid: homenet
  sta_passphrase: secret
  ap_ssid: forge-ap
`)

	creds := LoadCredentials(store, "A1B2C3D4E5F6")

	assert.Equal(t, "workshop-C3D4E5F6", creds.Hostname)
	assert.Equal(t, "homenet", creds.StationSSID)
	assert.Equal(t, "secret", creds.StationPassphrase)
	assert.Equal(t, "forge-ap", creds.ApSSID)
	// Missing keys still fall back.
	assert.Equal(t, DefaultWifiApPassphrase, creds.ApPassphrase)
}

func TestUniqueSuffixShortChipID(t *testing.T) {
	assert.Equal(t, "ABCD", uniqueSuffix("ABCD"))
	assert.Equal(t, "3D4E5F6A", uniqueSuffix("122C3D4E5F6A"))
}

func TestStoreMissingFileIsNotError(t *testing.T) {
	store := NewStore(&options.SettingsOptions{
		Path:      filepath.Join(t.TempDir(), "absent.yaml"),
		Namespace: "settings",
	})

	require.NoError(t, store.Load())
	assert.Equal(t, "fallback", store.GetString(KeyHostname, "fallback"))
}
