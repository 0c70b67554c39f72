// Package keychain manages identities, their keys and certificates, and
// signs packets on their behalf.
//
// Metadata lives in a pib.Store and private keys in a keystore.Keystore;
// both are chosen by the caller. The key chain is the only component that
// decides defaults: the first key of an identity and the first certificate
// of a key become default unless told otherwise.
package keychain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/crypto/keystore"
	"github.com/joncooperworks/ndnsec/ndn"
	"github.com/joncooperworks/ndnsec/pib"
)

// DefaultValidity is the lifetime of certificates the key chain issues.
const DefaultValidity = 365 * 24 * time.Hour

var (
	// ErrNoDefault is returned when an identity, key or certificate has no
	// default to sign with.
	ErrNoDefault = errors.New("no default")
	// ErrBackend wraps failures of the key-info store or the key storage
	// backend, including missing records.
	ErrBackend = errors.New("backend error")
)

// KeyChain combines a key-info store and a key storage backend.
type KeyChain struct {
	pib      pib.Store
	tpm      keystore.Keystore
	keyType  crypto.KeyType
	validity time.Duration
	issuer   ndn.Name
	now      func() time.Time
	logger   *zap.Logger

	// mu serializes mutations so generated key names stay unique and
	// default pointers are set consistently.
	mu sync.Mutex
}

// Option configures a KeyChain.
type Option func(*KeyChain)

// WithKeyType selects the algorithm of generated keys. Default Ed25519.
func WithKeyType(t crypto.KeyType) Option {
	return func(k *KeyChain) { k.keyType = t }
}

// WithValidity sets the lifetime of issued certificates.
func WithValidity(d time.Duration) Option {
	return func(k *KeyChain) { k.validity = d }
}

// WithIssuer makes CreateIdentity sign new certificates with the default
// certificate of issuer instead of self-signing.
func WithIssuer(issuer ndn.Name) Option {
	return func(k *KeyChain) { k.issuer = issuer }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(k *KeyChain) { k.now = now }
}

// WithLogger sets the logger. Default no-op.
func WithLogger(l *zap.Logger) Option {
	return func(k *KeyChain) { k.logger = l }
}

// New returns a key chain over store and tpm.
func New(store pib.Store, tpm keystore.Keystore, opts ...Option) (*KeyChain, error) {
	if store == nil {
		return nil, errors.New("pib store cannot be nil")
	}
	if tpm == nil {
		return nil, errors.New("keystore cannot be nil")
	}
	k := &KeyChain{
		pib:      store,
		tpm:      tpm,
		keyType:  crypto.KeyTypeEd25519,
		validity: DefaultValidity,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if _, err := k.keyType.SignatureType(); err != nil {
		return nil, err
	}
	return k, nil
}

// PIB returns the key-info store.
func (k *KeyChain) PIB() pib.Store { return k.pib }

// TPM returns the key storage backend.
func (k *KeyChain) TPM() keystore.Keystore { return k.tpm }

// CreateIdentity makes sure identity has a default key with a default
// certificate and returns that certificate's name. Existing defaults are
// reused.
func (k *KeyChain) CreateIdentity(ctx context.Context, identity ndn.Name) (ndn.Name, error) {
	if len(identity) == 0 {
		return nil, errors.New("identity name cannot be empty")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.pib.AddIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to add identity: %w: %w", ErrBackend, err)
	}
	if _, err := k.pib.DefaultIdentity(ctx); errors.Is(err, pib.ErrNotFound) {
		if err := k.pib.SetDefaultIdentity(ctx, identity); err != nil {
			return nil, fmt.Errorf("failed to set default identity: %w: %w", ErrBackend, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get default identity: %w: %w", ErrBackend, err)
	}

	keyName, err := k.pib.DefaultKey(ctx, identity)
	switch {
	case errors.Is(err, pib.ErrNotFound):
		if keyName, err = k.generateKeyPairLocked(ctx, identity, true); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to get default key: %w: %w", ErrBackend, err)
	}

	certName, err := k.pib.DefaultCertificate(ctx, keyName)
	if err == nil {
		return certName, nil
	}
	if !errors.Is(err, pib.ErrNotFound) {
		return nil, fmt.Errorf("failed to get default certificate: %w: %w", ErrBackend, err)
	}

	var cert *certificate.Certificate
	if len(k.issuer) > 0 && !k.issuer.Equal(identity) {
		cert, err = k.issueLocked(ctx, keyName, k.issuer)
	} else {
		cert, err = k.selfSign(ctx, keyName)
	}
	if err != nil {
		return nil, err
	}
	if err := k.addCertificateLocked(ctx, cert); err != nil {
		return nil, err
	}

	k.logger.Info("created identity",
		zap.Stringer("identity", identity),
		zap.Stringer("certificate", cert.Name()),
	)
	return cert.Name(), nil
}

// DeleteIdentity removes identity with all of its keys and certificates
// from both backends.
func (k *KeyChain) DeleteIdentity(ctx context.Context, identity ndn.Name) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	keys, err := k.pib.Keys(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to list keys: %w: %w", ErrBackend, err)
	}
	for _, keyName := range keys {
		if err := k.tpm.DeleteKey(keyID(keyName)); err != nil {
			return fmt.Errorf("failed to delete private key %s: %w: %w", keyName, ErrBackend, err)
		}
	}
	if err := k.pib.DeleteIdentity(ctx, identity); err != nil {
		return fmt.Errorf("failed to delete identity: %w: %w", ErrBackend, err)
	}
	k.logger.Info("deleted identity", zap.Stringer("identity", identity), zap.Int("keys", len(keys)))
	return nil
}

// DeleteKey removes one key and its certificates from both backends.
func (k *KeyChain) DeleteKey(ctx context.Context, keyName ndn.Name) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.tpm.DeleteKey(keyID(keyName)); err != nil {
		return fmt.Errorf("failed to delete private key: %w: %w", ErrBackend, err)
	}
	if err := k.pib.DeleteKey(ctx, keyName); err != nil {
		return fmt.Errorf("failed to delete key: %w: %w", ErrBackend, err)
	}
	return nil
}

// DeleteCertificate removes one certificate.
func (k *KeyChain) DeleteCertificate(ctx context.Context, certName ndn.Name) error {
	if err := k.pib.DeleteCertificate(ctx, certName); err != nil {
		return fmt.Errorf("failed to delete certificate: %w: %w", ErrBackend, err)
	}
	return nil
}

// GenerateKeyPair creates a key for identity named identity/ksk-<ms> (or
// dsk-<ms>). The key becomes the identity's default if it has none.
func (k *KeyChain) GenerateKeyPair(ctx context.Context, identity ndn.Name, ksk bool) (ndn.Name, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.generateKeyPairLocked(ctx, identity, ksk)
}

func (k *KeyChain) generateKeyPairLocked(ctx context.Context, identity ndn.Name, ksk bool) (ndn.Name, error) {
	prefix := "dsk-"
	if ksk {
		prefix = "ksk-"
	}

	ms := k.now().UnixMilli()
	var keyName ndn.Name
	for {
		keyName = identity.AppendString(prefix + strconv.FormatInt(ms, 10))
		exists, err := k.pib.HasKey(ctx, keyName)
		if err != nil {
			return nil, fmt.Errorf("failed to check key: %w: %w", ErrBackend, err)
		}
		if !exists {
			break
		}
		ms++
	}

	pub, err := k.tpm.GenerateKey(keyID(keyName), k.keyType)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w: %w", ErrBackend, err)
	}
	if err := k.pib.AddKey(ctx, identity, keyName, pub); err != nil {
		return nil, fmt.Errorf("failed to store public key: %w: %w", ErrBackend, err)
	}
	if _, err := k.pib.DefaultKey(ctx, identity); errors.Is(err, pib.ErrNotFound) {
		if err := k.pib.SetDefaultKey(ctx, identity, keyName); err != nil {
			return nil, fmt.Errorf("failed to set default key: %w: %w", ErrBackend, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get default key: %w: %w", ErrBackend, err)
	}

	k.logger.Debug("generated key pair",
		zap.Stringer("key", keyName),
		zap.Stringer("type", k.keyType),
	)
	return keyName, nil
}

// SelfSign issues a certificate for keyName signed by the key itself. The
// certificate is not stored.
func (k *KeyChain) SelfSign(ctx context.Context, keyName ndn.Name) (*certificate.Certificate, error) {
	return k.selfSign(ctx, keyName)
}

func (k *KeyChain) selfSign(ctx context.Context, keyName ndn.Name) (*certificate.Certificate, error) {
	cert, err := k.prepareCertificate(ctx, keyName)
	if err != nil {
		return nil, err
	}
	pub, err := k.pib.Key(ctx, keyName)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w: %w", ErrBackend, err)
	}
	sigType, err := pub.Type().SignatureType()
	if err != nil {
		return nil, err
	}
	cert.SetSignatureInfo(ndn.SignatureInfo{Type: sigType, KeyLocator: cert.KeyLocator()})
	sig, err := k.tpm.Sign(keyID(keyName), cert.SignedPortion())
	if err != nil {
		return nil, fmt.Errorf("failed to self-sign certificate: %w: %w", ErrBackend, err)
	}
	cert.SetSignatureValue(sig)
	return cert, nil
}

// IssueCertificate issues a certificate for keyName signed with the default
// certificate of issuer. The certificate is not stored.
func (k *KeyChain) IssueCertificate(ctx context.Context, keyName, issuer ndn.Name) (*certificate.Certificate, error) {
	return k.issueLocked(ctx, keyName, issuer)
}

func (k *KeyChain) issueLocked(ctx context.Context, keyName, issuer ndn.Name) (*certificate.Certificate, error) {
	cert, err := k.prepareCertificate(ctx, keyName)
	if err != nil {
		return nil, err
	}
	issuerCert, err := k.defaultCertificateName(ctx, issuer)
	if err != nil {
		return nil, err
	}
	if err := k.signByCertificate(ctx, cert, issuerCert); err != nil {
		return nil, err
	}
	return cert, nil
}

func (k *KeyChain) prepareCertificate(ctx context.Context, keyName ndn.Name) (*certificate.Certificate, error) {
	pub, err := k.pib.Key(ctx, keyName)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w: %w", ErrBackend, err)
	}
	now := k.now()
	cert := certificate.New(keyName.
		AppendString(certificate.IDCertComponent).
		AppendVersion(uint64(now.UnixMilli())))
	cert.NotBefore = now
	cert.NotAfter = now.Add(k.validity)
	cert.Key = pub
	cert.Subject = []certificate.SubjectDescription{
		{OID: certificate.OIDName, Value: keyName.Prefix(-1).String()},
	}
	if err := cert.Encode(); err != nil {
		return nil, fmt.Errorf("failed to encode certificate: %w", err)
	}
	return cert, nil
}

// AddCertificate stores cert under its key and makes it the key's default
// if the key has none. The key must already exist.
func (k *KeyChain) AddCertificate(ctx context.Context, cert *certificate.Certificate) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.addCertificateLocked(ctx, cert)
}

func (k *KeyChain) addCertificateLocked(ctx context.Context, cert *certificate.Certificate) error {
	keyName, err := certificate.KeyNameFromCertName(cert.Name())
	if err != nil {
		return err
	}
	pub, err := k.pib.Key(ctx, keyName)
	if err != nil {
		return fmt.Errorf("failed to get key of certificate: %w: %w", ErrBackend, err)
	}
	if !pub.Equal(cert.Key) {
		return fmt.Errorf("certificate %s does not match the stored key", cert.Name())
	}
	if err := k.pib.AddCertificate(ctx, cert); err != nil {
		return fmt.Errorf("failed to store certificate: %w: %w", ErrBackend, err)
	}
	if _, err := k.pib.DefaultCertificate(ctx, keyName); errors.Is(err, pib.ErrNotFound) {
		if err := k.pib.SetDefaultCertificate(ctx, keyName, cert.Name()); err != nil {
			return fmt.Errorf("failed to set default certificate: %w: %w", ErrBackend, err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to get default certificate: %w: %w", ErrBackend, err)
	}
	return nil
}

// GetCertificate loads a stored certificate.
func (k *KeyChain) GetCertificate(ctx context.Context, certName ndn.Name) (*certificate.Certificate, error) {
	cert, err := k.pib.Certificate(ctx, certName)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w: %w", ErrBackend, err)
	}
	return cert, nil
}

// GetPublicKeyFromStorage returns the public key held by the key storage
// backend.
func (k *KeyChain) GetPublicKeyFromStorage(keyName ndn.Name) (crypto.PublicKey, error) {
	pub, err := k.tpm.PublicKey(keyID(keyName))
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("failed to get public key: %w: %w", ErrBackend, err)
	}
	return pub, nil
}

// DefaultIdentity returns the store-wide default identity.
func (k *KeyChain) DefaultIdentity(ctx context.Context) (ndn.Name, error) {
	id, err := k.pib.DefaultIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w identity: %w", ErrNoDefault, err)
	}
	return id, nil
}

// GetDefaultKeyNameForIdentity returns the default key of identity.
func (k *KeyChain) GetDefaultKeyNameForIdentity(ctx context.Context, identity ndn.Name) (ndn.Name, error) {
	keyName, err := k.pib.DefaultKey(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("%w key for %s: %w", ErrNoDefault, identity, err)
	}
	return keyName, nil
}

// GetDefaultCertificateNameForKey returns the default certificate of keyName.
func (k *KeyChain) GetDefaultCertificateNameForKey(ctx context.Context, keyName ndn.Name) (ndn.Name, error) {
	certName, err := k.pib.DefaultCertificate(ctx, keyName)
	if err != nil {
		return nil, fmt.Errorf("%w certificate for %s: %w", ErrNoDefault, keyName, err)
	}
	return certName, nil
}

// GetDefaultCertificateNameForIdentity follows the identity's default key
// to its default certificate.
func (k *KeyChain) GetDefaultCertificateNameForIdentity(ctx context.Context, identity ndn.Name) (ndn.Name, error) {
	return k.defaultCertificateName(ctx, identity)
}

func (k *KeyChain) defaultCertificateName(ctx context.Context, identity ndn.Name) (ndn.Name, error) {
	keyName, err := k.GetDefaultKeyNameForIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	return k.GetDefaultCertificateNameForKey(ctx, keyName)
}

func (k *KeyChain) SetDefaultIdentity(ctx context.Context, identity ndn.Name) error {
	if err := k.pib.SetDefaultIdentity(ctx, identity); err != nil {
		return fmt.Errorf("failed to set default identity: %w: %w", ErrBackend, err)
	}
	return nil
}

func (k *KeyChain) SetDefaultKeyForIdentity(ctx context.Context, identity, keyName ndn.Name) error {
	if err := k.pib.SetDefaultKey(ctx, identity, keyName); err != nil {
		return fmt.Errorf("failed to set default key: %w: %w", ErrBackend, err)
	}
	return nil
}

func (k *KeyChain) SetDefaultCertificateForKey(ctx context.Context, keyName, certName ndn.Name) error {
	if err := k.pib.SetDefaultCertificate(ctx, keyName, certName); err != nil {
		return fmt.Errorf("failed to set default certificate: %w: %w", ErrBackend, err)
	}
	return nil
}

// Identities lists all identities.
func (k *KeyChain) Identities(ctx context.Context) ([]ndn.Name, error) {
	return k.pib.Identities(ctx)
}

// Keys lists the keys of identity.
func (k *KeyChain) Keys(ctx context.Context, identity ndn.Name) ([]ndn.Name, error) {
	return k.pib.Keys(ctx, identity)
}

// Certificates lists the certificates of keyName.
func (k *KeyChain) Certificates(ctx context.Context, keyName ndn.Name) ([]ndn.Name, error) {
	return k.pib.Certificates(ctx, keyName)
}

func keyID(keyName ndn.Name) keystore.KeyID {
	return keystore.KeyID(keyName.String())
}
