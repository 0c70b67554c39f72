package keystore

import (
	gocrypto "crypto"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/joncooperworks/ndnsec/crypto"
)

func init() {
	RegisterKeystore("tpm-memory", func(string) (Keystore, error) {
		return NewMemoryKeystore(), nil
	})
}

// MemoryKeystore is an in-memory implementation of Keystore. Keys are lost
// when the process exits. It is exported so tests in other packages and
// ephemeral tools can use it.
type MemoryKeystore struct {
	mu   sync.RWMutex
	keys map[KeyID]gocrypto.Signer
}

// NewMemoryKeystore creates an empty in-memory keystore.
func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{keys: make(map[KeyID]gocrypto.Signer)}
}

// ImportKey stores an existing private key under keyID.
func (m *MemoryKeystore) ImportKey(keyID KeyID, signer gocrypto.Signer) error {
	if signer == nil {
		return errors.New("signer cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[keyID]; ok {
		return fmt.Errorf("%w: %s", ErrKeyExists, keyID)
	}
	m.keys[keyID] = signer
	return nil
}

func (m *MemoryKeystore) GenerateKey(keyID KeyID, keyType crypto.KeyType) (crypto.PublicKey, error) {
	if keyID == "" {
		return crypto.PublicKey{}, errors.New("key ID cannot be empty")
	}
	signer, err := generateSigner(keyType)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	if err := m.ImportKey(keyID, signer); err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.NewPublicKey(signer.Public())
}

func (m *MemoryKeystore) HasKey(keyID KeyID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[keyID]
	return ok, nil
}

func (m *MemoryKeystore) PublicKey(keyID KeyID) (crypto.PublicKey, error) {
	signer, err := m.get(keyID)
	if err != nil {
		return crypto.PublicKey{}, err
	}
	return crypto.NewPublicKey(signer.Public())
}

func (m *MemoryKeystore) Sign(keyID KeyID, data []byte) ([]byte, error) {
	signer, err := m.get(keyID)
	if err != nil {
		return nil, err
	}
	return crypto.Sign(signer, data)
}

func (m *MemoryKeystore) DeleteKey(keyID KeyID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, keyID)
	return nil
}

func (m *MemoryKeystore) ListKeys() ([]KeyID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]KeyID, 0, len(m.keys))
	for id := range m.keys {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryKeystore) get(keyID KeyID) (gocrypto.Signer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	signer, ok := m.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return signer, nil
}
