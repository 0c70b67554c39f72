// Package certificate implements identity certificates: Data packets whose
// content binds the packet name to a public key for a validity window.
//
// The content is DER:
//
//	CertificateContent ::= SEQUENCE {
//	    validity            SEQUENCE { notBefore GeneralizedTime, notAfter GeneralizedTime },
//	    subject             SEQUENCE OF SEQUENCE { type OBJECT IDENTIFIER, value UTF8String },
//	    subjectPublicKeyInfo SubjectPublicKeyInfo,
//	    extensions          SEQUENCE OF SEQUENCE {
//	        extnID OBJECT IDENTIFIER, critical BOOLEAN DEFAULT FALSE, extnValue OCTET STRING
//	    } OPTIONAL
//	}
package certificate

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/ndn"
)

// IDCertComponent separates the key name from the certificate version.
const IDCertComponent = "ID-CERT"

// OIDName is the attribute type of the subject description that carries the
// identity name.
const OIDName = "2.5.4.41"

// ErrDecode is returned (wrapped) when certificate content is malformed.
var ErrDecode = errors.New("certificate decode error")

// SubjectDescription is one (attribute type, value) pair of the subject.
type SubjectDescription struct {
	OID   string
	Value string
}

// Extension is an opaque certificate extension.
type Extension struct {
	OID      string
	Critical bool
	Value    []byte
}

// Certificate is a Data packet carrying a public key. The embedded Data
// supplies the name and signature; Encode writes the fields below into its
// content.
type Certificate struct {
	*ndn.Data

	NotBefore  time.Time
	NotAfter   time.Time
	Subject    []SubjectDescription
	Key        crypto.PublicKey
	Extensions []Extension
}

// New returns an empty certificate named name.
func New(name ndn.Name) *Certificate {
	d := ndn.NewData(name)
	d.SetContentType(ndn.ContentTypeKey)
	return &Certificate{Data: d}
}

// FromData interprets a decoded Data packet as a certificate.
func FromData(d *ndn.Data) (*Certificate, error) {
	if d == nil {
		return nil, errors.New("data cannot be nil")
	}
	c := &Certificate{Data: d}
	if err := c.decodeContent(d.Content()); err != nil {
		return nil, err
	}
	return c, nil
}

// Decode parses a certificate from the wire form of its Data packet.
func Decode(wire []byte) (*Certificate, error) {
	d, err := ndn.DecodeData(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return FromData(d)
}

// Encode regenerates the content of the underlying Data packet from the
// certificate fields. The packet must be signed afterwards.
func (c *Certificate) Encode() error {
	if c.Data == nil {
		return errors.New("certificate has no data packet")
	}
	if c.Key.IsZero() {
		return errors.New("certificate has no public key")
	}

	content := certificateContent{
		Validity: validity{
			NotBefore: c.NotBefore.UTC().Truncate(time.Second),
			NotAfter:  c.NotAfter.UTC().Truncate(time.Second),
		},
		Subject:       make([]subjectDescription, 0, len(c.Subject)),
		PublicKeyInfo: asn1.RawValue{FullBytes: c.Key.DER()},
	}
	for _, s := range c.Subject {
		oid, err := parseOID(s.OID)
		if err != nil {
			return err
		}
		content.Subject = append(content.Subject, subjectDescription{Type: oid, Value: s.Value})
	}
	for _, e := range c.Extensions {
		oid, err := parseOID(e.OID)
		if err != nil {
			return err
		}
		content.Extensions = append(content.Extensions, extension{ID: oid, Critical: e.Critical, Value: e.Value})
	}

	der, err := asn1.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to marshal certificate content: %w", err)
	}
	c.SetContentType(ndn.ContentTypeKey)
	c.SetContent(der)
	return nil
}

// Wire returns the encoded Data packet.
func (c *Certificate) Wire() []byte {
	return c.Data.Encode()
}

func (c *Certificate) decodeContent(der []byte) error {
	var content certificateContent
	rest, err := asn1.Unmarshal(der, &content)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if len(rest) > 0 {
		return fmt.Errorf("%w: %d trailing bytes after content", ErrDecode, len(rest))
	}
	if len(content.PublicKeyInfo.FullBytes) == 0 {
		return fmt.Errorf("%w: missing public key", ErrDecode)
	}
	key, err := crypto.ParsePublicKey(content.PublicKeyInfo.FullBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	c.NotBefore = content.Validity.NotBefore
	c.NotAfter = content.Validity.NotAfter
	c.Key = key
	c.Subject = nil
	for _, s := range content.Subject {
		c.Subject = append(c.Subject, SubjectDescription{OID: s.Type.String(), Value: s.Value})
	}
	c.Extensions = nil
	for _, e := range content.Extensions {
		c.Extensions = append(c.Extensions, Extension{OID: e.ID.String(), Critical: e.Critical, Value: e.Value})
	}
	return nil
}

// IsTooEarly reports whether the certificate is not yet valid.
func (c *Certificate) IsTooEarly() bool { return c.IsTooEarlyAt(time.Now()) }

// IsTooLate reports whether the certificate has expired.
func (c *Certificate) IsTooLate() bool { return c.IsTooLateAt(time.Now()) }

func (c *Certificate) IsTooEarlyAt(t time.Time) bool { return t.Before(c.NotBefore) }

func (c *Certificate) IsTooLateAt(t time.Time) bool { return t.After(c.NotAfter) }

// ValidAt reports whether t lies inside [NotBefore, NotAfter].
func (c *Certificate) ValidAt(t time.Time) bool {
	return !c.IsTooEarlyAt(t) && !c.IsTooLateAt(t)
}

// KeyName returns the name of the key the certificate binds.
func (c *Certificate) KeyName() ndn.Name {
	k, _ := KeyNameFromCertName(c.Name())
	return k
}

// KeyLocator returns the name signers put in their key locator: the
// certificate name without its version.
func (c *Certificate) KeyLocator() ndn.Name {
	return c.Name().Prefix(-1)
}

// Identity returns the identity that owns the key.
func (c *Certificate) Identity() ndn.Name {
	return c.KeyName().Prefix(-1)
}

// MatchesLocator reports whether a key locator refers to this certificate.
// Locators may name the certificate with or without its version, or the key
// itself.
func (c *Certificate) MatchesLocator(locator ndn.Name) bool {
	if len(locator) == 0 {
		return false
	}
	if locator.IsPrefixOf(c.Name()) && len(locator) >= len(c.Name())-1 {
		return true
	}
	return locator.Equal(c.KeyName())
}

// KeyNameFromCertName strips "ID-CERT" and anything after it.
func KeyNameFromCertName(certName ndn.Name) (ndn.Name, error) {
	for i := len(certName) - 1; i >= 0; i-- {
		if string(certName[i].Value) == IDCertComponent {
			return certName.Prefix(i), nil
		}
	}
	return nil, fmt.Errorf("%s is not a certificate name", certName)
}

// KeyNameFromLocator resolves a key locator to a key name. Locators that
// are not certificate names are taken to name the key directly.
func KeyNameFromLocator(locator ndn.Name) ndn.Name {
	if k, err := KeyNameFromCertName(locator); err == nil {
		return k
	}
	return locator
}

type certificateContent struct {
	Validity      validity
	Subject       []subjectDescription
	PublicKeyInfo asn1.RawValue
	Extensions    []extension `asn1:"optional"`
}

type validity struct {
	NotBefore time.Time `asn1:"generalized"`
	NotAfter  time.Time `asn1:"generalized"`
}

type subjectDescription struct {
	Type  asn1.ObjectIdentifier
	Value string `asn1:"utf8"`
}

type extension struct {
	ID       asn1.ObjectIdentifier
	Critical bool `asn1:"optional"`
	Value    []byte
}

func parseOID(s string) (asn1.ObjectIdentifier, error) {
	parts := strings.Split(s, ".")
	if len(parts) < 2 {
		return nil, fmt.Errorf("invalid OID %q", s)
	}
	oid := make(asn1.ObjectIdentifier, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid OID %q", s)
		}
		oid = append(oid, n)
	}
	return oid, nil
}
