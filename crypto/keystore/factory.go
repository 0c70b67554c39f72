package keystore

import (
	"fmt"
	"runtime"
	"strings"
)

// DefaultLocator returns the locator of the platform's native keystore,
// falling back to the encrypted file keystore.
func DefaultLocator() string {
	switch runtime.GOOS {
	case "darwin":
		return "tpm-osxkeychain:"
	case "windows":
		return "tpm-wincred:"
	default:
		return "tpm-file:"
	}
}

// NewKeystore opens the keystore addressed by locator, "scheme:location".
// An empty locator selects DefaultLocator.
func NewKeystore(locator string) (Keystore, error) {
	if locator == "" {
		locator = DefaultLocator()
	}
	scheme, location, _ := strings.Cut(locator, ":")
	factory, err := GetKeystoreFactory(scheme)
	if err != nil {
		return nil, fmt.Errorf("unsupported keystore locator %q: %w", locator, err)
	}
	return factory(strings.TrimPrefix(location, "//"))
}
