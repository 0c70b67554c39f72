//go:build linux
// +build linux

package keystore

import (
	"fmt"

	"github.com/99designs/keyring"
)

func init() {
	RegisterKeystore("tpm-secretservice", NewSecretServiceKeystore)
}

// NewSecretServiceKeystore opens a keystore in the freedesktop Secret
// Service (GNOME Keyring, KWallet's secret service bridge). The location
// names the collection; empty uses "login".
func NewSecretServiceKeystore(location string) (Keystore, error) {
	if location == "" {
		location = "login"
	}
	ring, err := keyring.Open(keyring.Config{
		AllowedBackends:         []keyring.BackendType{keyring.SecretServiceBackend},
		ServiceName:             ServiceName,
		LibSecretCollectionName: location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open secret service: %w", err)
	}

	return NewKeyringKeystore(ring), nil
}
