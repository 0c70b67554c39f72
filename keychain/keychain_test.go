package keychain

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/crypto/keystore"
	"github.com/joncooperworks/ndnsec/ndn"
	"github.com/joncooperworks/ndnsec/pib"
)

func newKeyChain(t *testing.T, opts ...Option) *KeyChain {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	kc, err := New(pib.NewMemory(), keystore.NewMemoryKeystore(), opts...)
	require.NoError(t, err)
	return kc
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, keystore.NewMemoryKeystore())
	assert.ErrorContains(t, err, "cannot be nil")
	_, err = New(pib.NewMemory(), nil)
	assert.ErrorContains(t, err, "cannot be nil")
	_, err = New(pib.NewMemory(), keystore.NewMemoryKeystore(), WithKeyType(crypto.KeyTypeNone))
	assert.Error(t, err)
}

func TestCreateIdentity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	kc := newKeyChain(t, WithClock(func() time.Time { return now }))

	identity := ndn.MustParseName("/TestKeyChain/alice").AppendVersion(1)
	certName, err := kc.CreateIdentity(ctx, identity)
	require.NoError(t, err)

	keyName, err := kc.GetDefaultKeyNameForIdentity(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, identity.AppendString("ksk-1714564800000").String(), keyName.String())
	assert.True(t, keyName.IsPrefixOf(certName))
	assert.Equal(t, certificate.IDCertComponent, string(certName.At(-2).Value))

	cert, err := kc.GetCertificate(ctx, certName)
	require.NoError(t, err)
	assert.True(t, cert.NotBefore.Equal(now))
	assert.True(t, cert.NotAfter.Equal(now.Add(DefaultValidity)))
	require.Len(t, cert.Subject, 1)
	assert.Equal(t, certificate.OIDName, cert.Subject[0].OID)
	assert.Equal(t, identity.String(), cert.Subject[0].Value)
	assert.True(t, crypto.VerifyPacket(cert, cert.Key), "self-signed certificate should verify with its own key")

	info, ok := cert.SignatureInfo()
	require.True(t, ok)
	assert.True(t, info.KeyLocator.Equal(certName.Prefix(-1)))

	def, err := kc.DefaultIdentity(ctx)
	require.NoError(t, err)
	assert.True(t, def.Equal(identity))

	again, err := kc.CreateIdentity(ctx, identity)
	require.NoError(t, err)
	assert.True(t, again.Equal(certName), "CreateIdentity should reuse existing defaults")
}

func TestCreateIdentityWithIssuer(t *testing.T) {
	ctx := context.Background()
	kc := newKeyChain(t)
	root := ndn.MustParseName("/root")
	_, err := kc.CreateIdentity(ctx, root)
	require.NoError(t, err)
	rootCertName, err := kc.GetDefaultCertificateNameForIdentity(ctx, root)
	require.NoError(t, err)
	rootCert, err := kc.GetCertificate(ctx, rootCertName)
	require.NoError(t, err)

	issued := newKeyChain(t)
	issued.pib, issued.tpm = kc.pib, kc.tpm
	issued.issuer = root

	certName, err := issued.CreateIdentity(ctx, ndn.MustParseName("/root/site"))
	require.NoError(t, err)
	cert, err := issued.GetCertificate(ctx, certName)
	require.NoError(t, err)

	info, ok := cert.SignatureInfo()
	require.True(t, ok)
	assert.True(t, info.KeyLocator.Equal(rootCertName.Prefix(-1)))
	assert.True(t, crypto.VerifyPacket(cert, rootCert.Key), "issued certificate should verify with the issuer key")
}

func TestSignByIdentity(t *testing.T) {
	ctx := context.Background()
	for _, kt := range []crypto.KeyType{crypto.KeyTypeEd25519, crypto.KeyTypeEC, crypto.KeyTypeRSA} {
		t.Run(kt.String(), func(t *testing.T) {
			kc := newKeyChain(t, WithKeyType(kt))
			identity := ndn.MustParseName("/TestSignedInterest/SignVerify").AppendVersion(1)
			_, err := kc.CreateIdentity(ctx, identity)
			require.NoError(t, err)

			interest := ndn.NewInterest(ndn.MustParseName("/TestSignedInterest/SignVerify/Interest1"))
			require.NoError(t, kc.SignByIdentity(ctx, interest, identity))

			wire, err := interest.Encode()
			require.NoError(t, err)
			decoded, err := ndn.DecodeInterest(wire)
			require.NoError(t, err)

			keyName, err := kc.GetDefaultKeyNameForIdentity(ctx, identity)
			require.NoError(t, err)
			pub, err := kc.GetPublicKeyFromStorage(keyName)
			require.NoError(t, err)
			assert.True(t, crypto.VerifyPacket(decoded, pub))

			data := ndn.NewData(ndn.MustParseName("/TestSignedInterest/SignVerify/Data"))
			data.SetContent([]byte("content"))
			require.NoError(t, kc.SignByIdentity(ctx, data, nil))
			assert.True(t, crypto.VerifyPacket(data, pub), "empty identity should sign with the default identity")
		})
	}
}

func TestSignByIdentityUnknown(t *testing.T) {
	kc := newKeyChain(t)
	err := kc.SignByIdentity(context.Background(), ndn.NewData(ndn.MustParseName("/a")), ndn.MustParseName("/nobody"))
	assert.ErrorIs(t, err, ErrNoDefault)
	assert.ErrorIs(t, err, pib.ErrNotFound)

	err = kc.SignByIdentity(context.Background(), ndn.NewData(ndn.MustParseName("/a")), nil)
	assert.ErrorIs(t, err, ErrNoDefault)
}

func TestDeleteIdentity(t *testing.T) {
	ctx := context.Background()
	kc := newKeyChain(t)
	identity := ndn.MustParseName("/TestKeyChain/delete")
	certName, err := kc.CreateIdentity(ctx, identity)
	require.NoError(t, err)
	keyName, err := kc.GetDefaultKeyNameForIdentity(ctx, identity)
	require.NoError(t, err)
	second, err := kc.GenerateKeyPair(ctx, identity, false)
	require.NoError(t, err)
	assert.Contains(t, second.At(-1).String(), "dsk-")

	require.NoError(t, kc.DeleteIdentity(ctx, identity))

	_, err = kc.GetCertificate(ctx, certName)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, pib.ErrNotFound)
	for _, k := range []ndn.Name{keyName, second} {
		_, err = kc.GetPublicKeyFromStorage(k)
		assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
	}
}

type failingKeystore struct {
	keystore.Keystore
}

func (failingKeystore) DeleteKey(keystore.KeyID) error { return errors.New("backend offline") }

func TestDeleteIdentityPropagatesBackendError(t *testing.T) {
	ctx := context.Background()
	kc := newKeyChain(t)
	identity := ndn.MustParseName("/TestKeyChain/fail")
	_, err := kc.CreateIdentity(ctx, identity)
	require.NoError(t, err)

	kc.tpm = failingKeystore{kc.tpm}
	err = kc.DeleteIdentity(ctx, identity)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorContains(t, err, "backend offline")
	has, err := kc.pib.HasIdentity(ctx, identity)
	require.NoError(t, err)
	assert.True(t, has, "metadata must survive a failed key deletion")
}

func TestGenerateKeyPairUniqueNames(t *testing.T) {
	ctx := context.Background()
	fixed := time.Unix(1000, 0)
	kc := newKeyChain(t, WithClock(func() time.Time { return fixed }))
	identity := ndn.MustParseName("/same/ms")

	a, err := kc.GenerateKeyPair(ctx, identity, true)
	require.NoError(t, err)
	b, err := kc.GenerateKeyPair(ctx, identity, true)
	require.NoError(t, err)
	assert.False(t, a.Equal(b))

	def, err := kc.GetDefaultKeyNameForIdentity(ctx, identity)
	require.NoError(t, err)
	assert.True(t, def.Equal(a), "only the first key becomes default")

	require.NoError(t, kc.SetDefaultKeyForIdentity(ctx, identity, b))
	def, err = kc.GetDefaultKeyNameForIdentity(ctx, identity)
	require.NoError(t, err)
	assert.True(t, def.Equal(b))
}

func TestAddCertificateMismatchedKey(t *testing.T) {
	ctx := context.Background()
	kc := newKeyChain(t)
	a, err := kc.GenerateKeyPair(ctx, ndn.MustParseName("/a"), true)
	require.NoError(t, err)
	b, err := kc.GenerateKeyPair(ctx, ndn.MustParseName("/b"), true)
	require.NoError(t, err)

	cert, err := kc.SelfSign(ctx, b)
	require.NoError(t, err)
	cert.SetName(a.AppendString(certificate.IDCertComponent).AppendVersion(1))
	assert.ErrorContains(t, kc.AddCertificate(ctx, cert), "does not match")
}

func TestSignRaw(t *testing.T) {
	ctx := context.Background()
	kc := newKeyChain(t)
	certName, err := kc.CreateIdentity(ctx, ndn.MustParseName("/raw"))
	require.NoError(t, err)
	cert, err := kc.GetCertificate(ctx, certName)
	require.NoError(t, err)

	sig, err := kc.Sign(ctx, []byte("bytes"), certName)
	require.NoError(t, err)
	assert.True(t, crypto.Verify([]byte("bytes"), sig, cert.Key))

	_, err = kc.Sign(ctx, []byte("bytes"), ndn.MustParseName("/raw/ksk-0/ID-CERT/%FD%01"))
	assert.ErrorContains(t, err, "not in pib")
}

func TestKeyChainOverPersistentBackends(t *testing.T) {
	ctx := context.Background()
	store, err := pib.NewSqlite(filepath.Join(t.TempDir(), "pib.db"))
	require.NoError(t, err)
	defer store.Close()
	tpm := keystore.NewKeyringKeystore(keyring.NewArrayKeyring(nil))

	kc, err := New(store, tpm, WithKeyType(crypto.KeyTypeEC))
	require.NoError(t, err)
	certName, err := kc.CreateIdentity(ctx, ndn.MustParseName("/persistent"))
	require.NoError(t, err)

	d := ndn.NewData(ndn.MustParseName("/persistent/data"))
	require.NoError(t, kc.SignByCertificate(ctx, d, certName))
	cert, err := kc.GetCertificate(ctx, certName)
	require.NoError(t, err)
	assert.True(t, crypto.VerifyPacket(d, cert.Key))

	ids, err := kc.Identities(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}
