package keystore

import (
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/99designs/keyring"

	"github.com/joncooperworks/ndnsec/crypto"
)

const (
	// ServiceName is the keyring service all keys are stored under.
	ServiceName = "ndnsec"
	// PasswordEnv supplies the passphrase of the file backend.
	PasswordEnv = "NDNSEC_TPM_PASSWORD"

	rsaKeyBits = 2048
)

func init() {
	RegisterKeystore("tpm-file", NewFileKeystore)
}

// KeyringKeystore implements Keystore on top of any 99designs/keyring
// backend. Keys are stored as PKCS#8 PEM items keyed by KeyID.
type KeyringKeystore struct {
	mu   sync.Mutex
	ring keyring.Keyring
}

// NewKeyringKeystore wraps an already opened keyring.
func NewKeyringKeystore(ring keyring.Keyring) *KeyringKeystore {
	return &KeyringKeystore{ring: ring}
}

// NewFileKeystore opens an encrypted file keyring in dir. An empty dir
// selects ~/.ndn/ndnsec-key-file. The passphrase comes from
// NDNSEC_TPM_PASSWORD, or the terminal when that is unset.
func NewFileKeystore(dir string) (Keystore, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to locate home directory: %w", err)
		}
		dir = filepath.Join(home, ".ndn", "ndnsec-key-file")
	}

	passwordFunc := keyring.TerminalPrompt
	if pw, ok := os.LookupEnv(PasswordEnv); ok {
		passwordFunc = keyring.FixedStringPrompt(pw)
	}

	ring, err := keyring.Open(keyring.Config{
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		ServiceName:      ServiceName,
		FileDir:          dir,
		FilePasswordFunc: passwordFunc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open file keyring: %w", err)
	}
	return NewKeyringKeystore(ring), nil
}

// GenerateKey creates a key pair and stores the private half.
func (k *KeyringKeystore) GenerateKey(keyID KeyID, keyType crypto.KeyType) (crypto.PublicKey, error) {
	if keyID == "" {
		return crypto.PublicKey{}, errors.New("key ID cannot be empty")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, err := k.ring.Get(string(keyID)); err == nil {
		return crypto.PublicKey{}, fmt.Errorf("%w: %s", ErrKeyExists, keyID)
	}

	signer, err := generateSigner(keyType)
	if err != nil {
		return crypto.PublicKey{}, err
	}

	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("failed to marshal private key: %w", err)
	}
	defer zeroize(privateKeyBytes)

	// The keyring may retain privateKeyPEM, so only the DER copy is wiped.
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privateKeyBytes,
	})

	err = k.ring.Set(keyring.Item{
		Key:         string(keyID),
		Data:        privateKeyPEM,
		Label:       "ndnsec key " + string(keyID),
		Description: keyType.String(),
	})
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("failed to store key in keyring: %w", err)
	}

	return crypto.NewPublicKey(signer.Public())
}

// HasKey reports whether keyID is stored.
func (k *KeyringKeystore) HasKey(keyID KeyID) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	_, err := k.ring.Get(string(keyID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, keyring.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to get key from keyring: %w", err)
	}
}

// PublicKey derives the public key from the stored private key.
func (k *KeyringKeystore) PublicKey(keyID KeyID) (crypto.PublicKey, error) {
	signer, err := k.loadSigner(keyID)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.NewPublicKey(signer.Public())
}

// Sign signs data with the stored key.
func (k *KeyringKeystore) Sign(keyID KeyID, data []byte) ([]byte, error) {
	signer, err := k.loadSigner(keyID)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(signer, data)
}

// DeleteKey removes keyID from the keyring.
func (k *KeyringKeystore) DeleteKey(keyID KeyID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	err := k.ring.Remove(string(keyID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove key from keyring: %w", err)
	}
	return nil
}

// ListKeys returns all key IDs stored in the keyring, sorted.
func (k *KeyringKeystore) ListKeys() ([]KeyID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys from keyring: %w", err)
	}
	sort.Strings(keys)
	ids := make([]KeyID, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, KeyID(key))
	}
	return ids, nil
}

func (k *KeyringKeystore) loadSigner(keyID KeyID) (gocrypto.Signer, error) {
	k.mu.Lock()
	item, err := k.ring.Get(string(keyID))
	k.mu.Unlock()
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key from keyring: %w", err)
	}
	return parsePrivateKeyPEM(item.Data)
}

func parsePrivateKeyPEM(data []byte) (gocrypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}
	defer zeroize(block.Bytes)

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, ok := key.(gocrypto.Signer)
	if !ok {
		return nil, fmt.Errorf("stored key of type %T cannot sign", key)
	}
	return signer, nil
}

func generateSigner(keyType crypto.KeyType) (gocrypto.Signer, error) {
	switch keyType {
	case crypto.KeyTypeEd25519:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
		}
		return priv, nil
	case crypto.KeyTypeEC:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ecdsa key: %w", err)
		}
		return priv, nil
	case crypto.KeyTypeRSA:
		priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate rsa key: %w", err)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: %s", crypto.ErrUnsupportedKey, keyType)
	}
}
