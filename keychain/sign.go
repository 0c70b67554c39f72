package keychain

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/ndn"
)

// SignByIdentity signs packet in place with the default certificate of
// identity. An empty identity selects the default identity.
func (k *KeyChain) SignByIdentity(ctx context.Context, packet ndn.Signable, identity ndn.Name) error {
	if packet == nil {
		return errors.New("packet cannot be nil")
	}
	if len(identity) == 0 {
		def, err := k.DefaultIdentity(ctx)
		if err != nil {
			return err
		}
		identity = def
	}
	certName, err := k.defaultCertificateName(ctx, identity)
	if err != nil {
		return fmt.Errorf("failed to sign by identity %s: %w", identity, err)
	}
	return k.signByCertificate(ctx, packet, certName)
}

// SignByCertificate signs packet in place with the key certName certifies.
// The key locator names the certificate without its version.
func (k *KeyChain) SignByCertificate(ctx context.Context, packet ndn.Signable, certName ndn.Name) error {
	if packet == nil {
		return errors.New("packet cannot be nil")
	}
	return k.signByCertificate(ctx, packet, certName)
}

func (k *KeyChain) signByCertificate(ctx context.Context, packet ndn.Signable, certName ndn.Name) error {
	keyName, err := certificate.KeyNameFromCertName(certName)
	if err != nil {
		return err
	}
	pub, err := k.pib.Key(ctx, keyName)
	if err != nil {
		return fmt.Errorf("failed to get signing key: %w: %w", ErrBackend, err)
	}
	sigType, err := pub.Type().SignatureType()
	if err != nil {
		return err
	}

	packet.SetSignatureInfo(ndn.SignatureInfo{Type: sigType, KeyLocator: certName.Prefix(-1)})
	sig, err := k.tpm.Sign(keyID(keyName), packet.SignedPortion())
	if err != nil {
		return fmt.Errorf("failed to sign packet: %w: %w", ErrBackend, err)
	}
	packet.SetSignatureValue(sig)

	k.logger.Debug("signed packet",
		zap.Stringer("name", packet.Name()),
		zap.Stringer("certificate", certName),
	)
	return nil
}

// Sign signs raw bytes with the key certName certifies.
func (k *KeyChain) Sign(ctx context.Context, data []byte, certName ndn.Name) ([]byte, error) {
	keyName, err := certificate.KeyNameFromCertName(certName)
	if err != nil {
		return nil, err
	}
	if ok, err := k.pib.HasKey(ctx, keyName); err != nil {
		return nil, fmt.Errorf("failed to check key: %w: %w", ErrBackend, err)
	} else if !ok {
		return nil, fmt.Errorf("%w: signing key %s not in pib", ErrBackend, keyName)
	}
	sig, err := k.tpm.Sign(keyID(keyName), data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w: %w", ErrBackend, err)
	}
	return sig, nil
}
