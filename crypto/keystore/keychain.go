//go:build darwin
// +build darwin

package keystore

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

func init() {
	RegisterKeystore("tpm-osxkeychain", NewKeychainKeystore)
}

// NewKeychainKeystore opens a macOS Keychain keystore.
// The location names a custom keychain; empty uses the login keychain,
// which is unlocked while the user is logged in. NDNSEC_KEYCHAIN overrides
// an empty location.
func NewKeychainKeystore(location string) (Keystore, error) {
	keychainName := location
	if keychainName == "" {
		keychainName = os.Getenv("NDNSEC_KEYCHAIN")
	}

	ring, err := keyring.Open(keyring.Config{
		AllowedBackends:          []keyring.BackendType{keyring.KeychainBackend},
		ServiceName:              ServiceName,
		KeychainName:             keychainName,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keychain: %w", err)
	}

	return NewKeyringKeystore(ring), nil
}
