package keystore

import (
	"fmt"
	"sort"
	"sync"
)

// KeystoreFactory is a function that opens a Keystore at a location.
//
// Factory functions are registered with RegisterKeystore and are called by
// NewKeystore when a locator names their scheme. The location is the part of
// the locator after the colon and may be empty.
type KeystoreFactory func(location string) (Keystore, error)

var (
	// registry stores keystore factories by locator scheme
	registry = make(map[string]KeystoreFactory)
	// registryMu protects concurrent access to the registry
	registryMu sync.RWMutex
)

// RegisterKeystore registers a keystore factory for a locator scheme.
//
// This should be called from init() functions in backend implementations.
// Schemes follow the "tpm-<backend>" convention (e.g., "tpm-file",
// "tpm-osxkeychain"). Registering a scheme twice replaces the factory.
//
// Example:
//
//	func init() {
//	    RegisterKeystore("tpm-osxkeychain", NewKeychainKeystore)
//	}
func RegisterKeystore(scheme string, factory KeystoreFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = factory
}

// GetKeystoreFactory retrieves a keystore factory for the given scheme.
//
// Returns an error if no factory is registered for the scheme.
// This is used internally by NewKeystore to find the appropriate factory.
func GetKeystoreFactory(scheme string) (KeystoreFactory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[scheme]
	if !ok {
		return nil, fmt.Errorf("no keystore factory registered for scheme: %s", scheme)
	}
	return factory, nil
}

// ListRegisteredSchemes returns all registered locator schemes, sorted.
//
// This can be used to discover what keystore implementations are available at runtime.
func ListRegisteredSchemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	schemes := make([]string, 0, len(registry))
	for scheme := range registry {
		schemes = append(schemes, scheme)
	}
	sort.Strings(schemes)
	return schemes
}
