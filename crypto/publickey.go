package crypto

import (
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/joncooperworks/ndnsec/ndn"
)

// KeyType identifies the algorithm of a public key.
type KeyType int

const (
	KeyTypeNone KeyType = iota
	KeyTypeRSA
	KeyTypeEC
	KeyTypeEd25519
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeRSA:
		return "rsa"
	case KeyTypeEC:
		return "ec"
	case KeyTypeEd25519:
		return "ed25519"
	default:
		return "none"
	}
}

// ParseKeyType maps a configuration string such as "ec" to a KeyType.
func ParseKeyType(s string) (KeyType, error) {
	switch s {
	case "rsa":
		return KeyTypeRSA, nil
	case "ec", "ecdsa":
		return KeyTypeEC, nil
	case "ed25519":
		return KeyTypeEd25519, nil
	default:
		return KeyTypeNone, fmt.Errorf("unknown key type: %q", s)
	}
}

// SignatureType returns the packet signature type produced by keys of this
// type.
func (t KeyType) SignatureType() (ndn.SignatureType, error) {
	switch t {
	case KeyTypeRSA:
		return ndn.SignatureSha256WithRsa, nil
	case KeyTypeEC:
		return ndn.SignatureSha256WithEcdsa, nil
	case KeyTypeEd25519:
		return ndn.SignatureEd25519, nil
	default:
		return 0, fmt.Errorf("no signature type for key type %s", t)
	}
}

// ErrUnsupportedKey is returned for key material of an unknown algorithm.
var ErrUnsupportedKey = errors.New("unsupported key type")

// PublicKey is an immutable public key: an algorithm tag plus the DER
// SubjectPublicKeyInfo.
type PublicKey struct {
	keyType KeyType
	der     []byte
}

// ParsePublicKey parses a DER SubjectPublicKeyInfo and detects its type.
func ParsePublicKey(der []byte) (PublicKey, error) {
	if len(der) == 0 {
		return PublicKey{}, errors.New("public key cannot be empty")
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to parse public key: %w", err)
	}
	t, err := keyTypeOf(pub)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKey{keyType: t, der: append([]byte(nil), der...)}, nil
}

// NewPublicKey wraps a standard library public key.
func NewPublicKey(pub gocrypto.PublicKey) (PublicKey, error) {
	t, err := keyTypeOf(pub)
	if err != nil {
		return PublicKey{}, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return PublicKey{}, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return PublicKey{keyType: t, der: der}, nil
}

func keyTypeOf(pub gocrypto.PublicKey) (KeyType, error) {
	switch k := pub.(type) {
	case *rsa.PublicKey:
		return KeyTypeRSA, nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return KeyTypeNone, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, k.Curve.Params().Name)
		}
		return KeyTypeEC, nil
	case ed25519.PublicKey:
		return KeyTypeEd25519, nil
	default:
		return KeyTypeNone, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// Type returns the key algorithm.
func (k PublicKey) Type() KeyType { return k.keyType }

// DER returns a copy of the SubjectPublicKeyInfo encoding.
func (k PublicKey) DER() []byte { return append([]byte(nil), k.der...) }

// IsZero reports whether k holds no key.
func (k PublicKey) IsZero() bool { return len(k.der) == 0 }

// Equal compares algorithm and encoding.
func (k PublicKey) Equal(o PublicKey) bool {
	return k.keyType == o.keyType && string(k.der) == string(o.der)
}

// CryptoKey returns the standard library form of the key.
func (k PublicKey) CryptoKey() (gocrypto.PublicKey, error) {
	if k.IsZero() {
		return nil, errors.New("public key is empty")
	}
	pub, err := x509.ParsePKIXPublicKey(k.der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return pub, nil
}
