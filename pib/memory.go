package pib

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/ndn"
)

type memKey struct {
	identity string
	pub      crypto.PublicKey
}

type memCert struct {
	key  string
	wire []byte
}

// Memory is a Store held in process memory. Certificates are kept in wire
// form so callers never share mutable packets.
type Memory struct {
	mu sync.RWMutex

	identities      map[string]ndn.Name
	keys            map[string]memKey
	certs           map[string]memCert
	defaultIdentity string
	defaultKey      map[string]string // identity -> key
	defaultCert     map[string]string // key -> certificate
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		identities:  make(map[string]ndn.Name),
		keys:        make(map[string]memKey),
		certs:       make(map[string]memCert),
		defaultKey:  make(map[string]string),
		defaultCert: make(map[string]string),
	}
}

func (m *Memory) AddIdentity(_ context.Context, identity ndn.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.String()] = identity
	return nil
}

func (m *Memory) DeleteIdentity(_ context.Context, identity ndn.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := identity.String()
	for k, v := range m.keys {
		if v.identity == id {
			m.deleteKeyLocked(k)
		}
	}
	delete(m.identities, id)
	delete(m.defaultKey, id)
	if m.defaultIdentity == id {
		m.defaultIdentity = ""
	}
	return nil
}

func (m *Memory) HasIdentity(_ context.Context, identity ndn.Name) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.identities[identity.String()]
	return ok, nil
}

func (m *Memory) Identities(context.Context) ([]ndn.Name, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ndn.Name, 0, len(m.identities))
	for _, n := range m.identities {
		out = append(out, n)
	}
	sortNames(out)
	return out, nil
}

func (m *Memory) SetDefaultIdentity(_ context.Context, identity ndn.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := identity.String()
	if _, ok := m.identities[id]; !ok {
		return fmt.Errorf("identity %s: %w", identity, ErrNotFound)
	}
	m.defaultIdentity = id
	return nil
}

func (m *Memory) DefaultIdentity(context.Context) (ndn.Name, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.defaultIdentity == "" {
		return nil, fmt.Errorf("default identity: %w", ErrNotFound)
	}
	return m.identities[m.defaultIdentity], nil
}

func (m *Memory) AddKey(_ context.Context, identity, keyName ndn.Name, key crypto.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addKeyLocked(identity, keyName, key)
	return nil
}

func (m *Memory) addKeyLocked(identity, keyName ndn.Name, key crypto.PublicKey) {
	id := identity.String()
	if _, ok := m.identities[id]; !ok {
		m.identities[id] = identity
	}
	m.keys[keyName.String()] = memKey{identity: id, pub: key}
}

func (m *Memory) DeleteKey(_ context.Context, keyName ndn.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteKeyLocked(keyName.String())
	return nil
}

func (m *Memory) deleteKeyLocked(key string) {
	k, ok := m.keys[key]
	if !ok {
		return
	}
	for c, v := range m.certs {
		if v.key == key {
			delete(m.certs, c)
		}
	}
	delete(m.keys, key)
	delete(m.defaultCert, key)
	if m.defaultKey[k.identity] == key {
		delete(m.defaultKey, k.identity)
	}
}

func (m *Memory) HasKey(_ context.Context, keyName ndn.Name) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[keyName.String()]
	return ok, nil
}

func (m *Memory) Key(_ context.Context, keyName ndn.Name) (crypto.PublicKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[keyName.String()]
	if !ok {
		return crypto.PublicKey{}, fmt.Errorf("key %s: %w", keyName, ErrNotFound)
	}
	return k.pub, nil
}

func (m *Memory) Keys(_ context.Context, identity ndn.Name) ([]ndn.Name, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id := identity.String()
	var out []ndn.Name
	for k, v := range m.keys {
		if v.identity == id {
			out = append(out, ndn.MustParseName(k))
		}
	}
	sortNames(out)
	return out, nil
}

func (m *Memory) SetDefaultKey(_ context.Context, identity, keyName ndn.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[keyName.String()]
	if !ok || k.identity != identity.String() {
		return fmt.Errorf("key %s of %s: %w", keyName, identity, ErrNotFound)
	}
	m.defaultKey[k.identity] = keyName.String()
	return nil
}

func (m *Memory) DefaultKey(_ context.Context, identity ndn.Name) (ndn.Name, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.defaultKey[identity.String()]
	if !ok {
		return nil, fmt.Errorf("default key of %s: %w", identity, ErrNotFound)
	}
	return ndn.MustParseName(k), nil
}

func (m *Memory) AddCertificate(_ context.Context, cert *certificate.Certificate) error {
	keyName := cert.KeyName()
	if keyName == nil {
		return fmt.Errorf("%s is not a certificate name", cert.Name())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[keyName.String()]; !ok {
		m.addKeyLocked(keyName.Prefix(-1), keyName, cert.Key)
	}
	m.certs[cert.Name().String()] = memCert{key: keyName.String(), wire: cert.Wire()}
	return nil
}

func (m *Memory) DeleteCertificate(_ context.Context, certName ndn.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[certName.String()]
	if !ok {
		return nil
	}
	delete(m.certs, certName.String())
	if m.defaultCert[c.key] == certName.String() {
		delete(m.defaultCert, c.key)
	}
	return nil
}

func (m *Memory) HasCertificate(_ context.Context, certName ndn.Name) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.certs[certName.String()]
	return ok, nil
}

func (m *Memory) Certificate(_ context.Context, certName ndn.Name) (*certificate.Certificate, error) {
	m.mu.RLock()
	c, ok := m.certs[certName.String()]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("certificate %s: %w", certName, ErrNotFound)
	}
	return certificate.Decode(c.wire)
}

func (m *Memory) Certificates(_ context.Context, keyName ndn.Name) ([]ndn.Name, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := keyName.String()
	var out []ndn.Name
	for n, c := range m.certs {
		if c.key == key {
			out = append(out, ndn.MustParseName(n))
		}
	}
	sortNames(out)
	return out, nil
}

func (m *Memory) SetDefaultCertificate(_ context.Context, keyName, certName ndn.Name) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.certs[certName.String()]
	if !ok || c.key != keyName.String() {
		return fmt.Errorf("certificate %s of %s: %w", certName, keyName, ErrNotFound)
	}
	m.defaultCert[c.key] = certName.String()
	return nil
}

func (m *Memory) DefaultCertificate(_ context.Context, keyName ndn.Name) (ndn.Name, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.defaultCert[keyName.String()]
	if !ok {
		return nil, fmt.Errorf("default certificate of %s: %w", keyName, ErrNotFound)
	}
	return ndn.MustParseName(c), nil
}

func (m *Memory) Close() error { return nil }

func sortNames(names []ndn.Name) {
	sort.Slice(names, func(i, j int) bool { return names[i].Compare(names[j]) < 0 })
}
