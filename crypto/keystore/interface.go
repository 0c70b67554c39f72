package keystore

import (
	"errors"

	"github.com/joncooperworks/ndnsec/crypto"
)

// KeyID names a private key inside a keystore. The key chain uses the URI
// of the key's NDN name.
type KeyID string

var (
	// ErrKeyNotFound is returned when a key ID has no stored key.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned when generating over an existing key ID.
	ErrKeyExists = errors.New("key already exists")
)

// Keystore holds private keys and performs signing with them. Private key
// material never leaves an implementation.
type Keystore interface {
	// GenerateKey creates a key pair of the given type under keyID and
	// returns its public half.
	GenerateKey(keyID KeyID, keyType crypto.KeyType) (crypto.PublicKey, error)
	// HasKey reports whether keyID holds a private key.
	HasKey(keyID KeyID) (bool, error)
	// PublicKey returns the public half of keyID.
	PublicKey(keyID KeyID) (crypto.PublicKey, error)
	// Sign signs data with keyID using the algorithm of the key.
	Sign(keyID KeyID, data []byte) ([]byte, error)
	// DeleteKey removes keyID. Deleting a missing key is not an error.
	DeleteKey(keyID KeyID) error
	// ListKeys returns all key IDs stored in the keystore.
	ListKeys() ([]KeyID, error)
}
