//go:build windows
// +build windows

package keystore

import (
	"fmt"

	"github.com/99designs/keyring"
)

func init() {
	RegisterKeystore("tpm-wincred", NewWindowsKeystore)
}

// NewWindowsKeystore opens a Windows Credential Manager keystore. The
// location, when set, prefixes credential names.
func NewWindowsKeystore(location string) (Keystore, error) {
	ring, err := keyring.Open(keyring.Config{
		AllowedBackends: []keyring.BackendType{keyring.WinCredBackend},
		ServiceName:     ServiceName,
		WinCredPrefix:   location,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	return NewKeyringKeystore(ring), nil
}
