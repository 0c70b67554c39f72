package crypto

import (
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/joncooperworks/ndnsec/ndn"
)

// Sign produces a packet signature over data with signer.
//
// Ed25519 signs the message itself; ECDSA and RSA sign its SHA-256 digest,
// ECDSA in ASN.1 DER form and RSA with PKCS#1 v1.5.
func Sign(signer gocrypto.Signer, data []byte) ([]byte, error) {
	if signer == nil {
		return nil, errors.New("signer cannot be nil")
	}
	switch signer.Public().(type) {
	case ed25519.PublicKey:
		sig, err := signer.Sign(rand.Reader, data, gocrypto.Hash(0))
		if err != nil {
			return nil, fmt.Errorf("failed to sign with ed25519: %w", err)
		}
		return sig, nil
	case *ecdsa.PublicKey, *rsa.PublicKey:
		digest := sha256.Sum256(data)
		sig, err := signer.Sign(rand.Reader, digest[:], gocrypto.SHA256)
		if err != nil {
			return nil, fmt.Errorf("failed to sign digest: %w", err)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, signer.Public())
	}
}

// Verify reports whether sig is a valid signature over data by key. A
// malformed key or signature yields false, never a panic.
func Verify(data, sig []byte, key PublicKey) bool {
	pub, err := key.CryptoKey()
	if err != nil {
		return false
	}
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return len(sig) == ed25519.SignatureSize && ed25519.Verify(k, data, sig)
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(data)
		return ecdsa.VerifyASN1(k, digest[:], sig)
	case *rsa.PublicKey:
		digest := sha256.Sum256(data)
		return rsa.VerifyPKCS1v15(k, gocrypto.SHA256, digest[:], sig) == nil
	default:
		return false
	}
}

// VerifyPacket checks the packet's signature value over its signed portion.
// The signature type must agree with the key's algorithm.
func VerifyPacket(p ndn.Packet, key PublicKey) bool {
	info, ok := p.SignatureInfo()
	if !ok {
		return false
	}
	want, err := key.Type().SignatureType()
	if err != nil || info.Type != want {
		return false
	}
	return Verify(p.SignedPortion(), p.SignatureValue(), key)
}
