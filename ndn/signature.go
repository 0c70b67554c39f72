package ndn

import (
	"fmt"
)

// SignatureType identifies the signing algorithm of a packet.
type SignatureType uint64

const (
	SignatureDigestSha256    SignatureType = 0
	SignatureSha256WithRsa   SignatureType = 1
	SignatureSha256WithEcdsa SignatureType = 3
	SignatureEd25519         SignatureType = 5
)

func (t SignatureType) String() string {
	switch t {
	case SignatureDigestSha256:
		return "DigestSha256"
	case SignatureSha256WithRsa:
		return "SignatureSha256WithRsa"
	case SignatureSha256WithEcdsa:
		return "SignatureSha256WithEcdsa"
	case SignatureEd25519:
		return "SignatureEd25519"
	default:
		return fmt.Sprintf("SignatureType(%d)", uint64(t))
	}
}

// SignatureInfo describes how a packet was signed. KeyLocator is nil when
// the packet does not name its signer.
type SignatureInfo struct {
	Type       SignatureType
	KeyLocator Name
}

// Encode returns the SignatureInfo TLV.
func (s SignatureInfo) Encode() []byte {
	var v []byte
	v = appendTLV(v, TypeSignatureType, appendNonNegInt(nil, uint64(s.Type)))
	if s.KeyLocator != nil {
		v = appendTLV(v, TypeKeyLocator, s.KeyLocator.Encode())
	}
	return appendTLV(nil, TypeSignatureInfo, v)
}

// DecodeSignatureInfo decodes a SignatureInfo TLV.
func DecodeSignatureInfo(wire []byte) (SignatureInfo, error) {
	e, err := readOuter(wire, TypeSignatureInfo)
	if err != nil {
		return SignatureInfo{}, err
	}
	return decodeSignatureInfoValue(e.value)
}

func decodeSignatureInfoValue(value []byte) (SignatureInfo, error) {
	elems, err := readElements(value)
	if err != nil {
		return SignatureInfo{}, fmt.Errorf("signature info: %w", err)
	}
	if len(elems) == 0 || elems[0].typ != TypeSignatureType {
		return SignatureInfo{}, fmt.Errorf("%w: signature info without signature type", ErrDecode)
	}
	typ, err := decodeNonNegInt(elems[0].value)
	if err != nil {
		return SignatureInfo{}, fmt.Errorf("signature type: %w", err)
	}
	info := SignatureInfo{Type: SignatureType(typ)}
	for _, e := range elems[1:] {
		if e.typ != TypeKeyLocator {
			continue
		}
		inner, _, err := readElement(e.value)
		if err != nil {
			return SignatureInfo{}, fmt.Errorf("key locator: %w", err)
		}
		if inner.typ != TypeName {
			// Key digests are tolerated but do not name a certificate.
			continue
		}
		if info.KeyLocator, err = decodeNameValue(inner.value); err != nil {
			return SignatureInfo{}, fmt.Errorf("key locator: %w", err)
		}
	}
	return info, nil
}

func encodeSignatureValue(sig []byte) []byte {
	return appendTLV(nil, TypeSignatureValue, sig)
}

func decodeSignatureValue(wire []byte) ([]byte, error) {
	e, err := readOuter(wire, TypeSignatureValue)
	if err != nil {
		return nil, err
	}
	return e.value, nil
}

// Packet is a named packet that may carry a signature.
type Packet interface {
	Name() Name
	// SignatureInfo returns the packet's signature info and whether it is
	// present and well formed.
	SignatureInfo() (SignatureInfo, bool)
	SignatureValue() []byte
	// SignedPortion returns the bytes covered by the signature.
	SignedPortion() []byte
}

// Signable is a packet a key chain can sign in place: set the info, sign
// SignedPortion, then set the value.
type Signable interface {
	Packet
	SetSignatureInfo(SignatureInfo)
	SetSignatureValue([]byte)
}
