// Package pib persists the metadata of a key chain: identities, the public
// halves of their keys, their certificates and the default pointers between
// them. Stores keep what they are told; choosing defaults is left to the
// key chain.
package pib

import (
	"context"
	"errors"

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/ndn"
)

var (
	// ErrNotFound is returned when a name has no stored entry or a default
	// pointer is unset.
	ErrNotFound = errors.New("not found in pib")
)

// Store is the key-info backend of a key chain.
//
// Adding an existing entry overwrites it. Deleting a missing entry is not
// an error. Deleting an identity or key cascades to everything below it and
// clears default pointers that referred to it.
type Store interface {
	AddIdentity(ctx context.Context, identity ndn.Name) error
	DeleteIdentity(ctx context.Context, identity ndn.Name) error
	HasIdentity(ctx context.Context, identity ndn.Name) (bool, error)
	Identities(ctx context.Context) ([]ndn.Name, error)
	SetDefaultIdentity(ctx context.Context, identity ndn.Name) error
	DefaultIdentity(ctx context.Context) (ndn.Name, error)

	// AddKey stores a public key and creates its identity if needed.
	AddKey(ctx context.Context, identity, keyName ndn.Name, key crypto.PublicKey) error
	DeleteKey(ctx context.Context, keyName ndn.Name) error
	HasKey(ctx context.Context, keyName ndn.Name) (bool, error)
	Key(ctx context.Context, keyName ndn.Name) (crypto.PublicKey, error)
	Keys(ctx context.Context, identity ndn.Name) ([]ndn.Name, error)
	SetDefaultKey(ctx context.Context, identity, keyName ndn.Name) error
	DefaultKey(ctx context.Context, identity ndn.Name) (ndn.Name, error)

	// AddCertificate stores a certificate under its key, creating the key
	// and identity if needed.
	AddCertificate(ctx context.Context, cert *certificate.Certificate) error
	DeleteCertificate(ctx context.Context, certName ndn.Name) error
	HasCertificate(ctx context.Context, certName ndn.Name) (bool, error)
	Certificate(ctx context.Context, certName ndn.Name) (*certificate.Certificate, error)
	Certificates(ctx context.Context, keyName ndn.Name) ([]ndn.Name, error)
	SetDefaultCertificate(ctx context.Context, keyName, certName ndn.Name) error
	DefaultCertificate(ctx context.Context, keyName ndn.Name) (ndn.Name, error)

	Close() error
}
