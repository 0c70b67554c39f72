package ndn

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"time"
)

// DefaultInterestLifetime applies when an Interest omits its lifetime.
const DefaultInterestLifetime = 4 * time.Second

// Interest is a request for named data. A signed Interest carries its
// SignatureInfo and SignatureValue TLVs as the last two name components.
type Interest struct {
	name     Name
	nonce    []byte
	lifetime time.Duration
}

// NewInterest returns an Interest for name.
func NewInterest(name Name) *Interest {
	return &Interest{name: name}
}

func (i *Interest) Name() Name { return i.name }

func (i *Interest) SetName(n Name) { i.name = n }

// Nonce returns the 4-byte nonce, or nil if none has been assigned.
func (i *Interest) Nonce() []byte { return i.nonce }

func (i *Interest) SetNonce(n []byte) { i.nonce = n }

// Lifetime returns the interest lifetime, DefaultInterestLifetime if unset.
func (i *Interest) Lifetime() time.Duration {
	if i.lifetime <= 0 {
		return DefaultInterestLifetime
	}
	return i.lifetime
}

func (i *Interest) SetLifetime(d time.Duration) { i.lifetime = d }

// IsSigned reports whether the name ends in a well-formed signature pair.
func (i *Interest) IsSigned() bool {
	if len(i.name) < 2 {
		return false
	}
	if _, err := DecodeSignatureInfo(i.name.At(-2).Value); err != nil {
		return false
	}
	_, err := decodeSignatureValue(i.name.At(-1).Value)
	return err == nil
}

func (i *Interest) SignatureInfo() (SignatureInfo, bool) {
	if !i.IsSigned() {
		return SignatureInfo{}, false
	}
	info, err := DecodeSignatureInfo(i.name.At(-2).Value)
	if err != nil {
		return SignatureInfo{}, false
	}
	return info, true
}

func (i *Interest) SignatureValue() []byte {
	if !i.IsSigned() {
		return nil
	}
	sig, _ := decodeSignatureValue(i.name.At(-1).Value)
	return sig
}

// SignedPortion returns the encoded name components up to but excluding the
// signature value component.
func (i *Interest) SignedPortion() []byte {
	if i.IsSigned() {
		return i.name.Prefix(-1).EncodeComponents()
	}
	return i.name.EncodeComponents()
}

// SetSignatureInfo strips any existing signature and appends info as a name
// component.
func (i *Interest) SetSignatureInfo(info SignatureInfo) {
	if i.IsSigned() {
		i.name = i.name.Prefix(-2)
	}
	i.name = i.name.Append(NewComponentBytes(info.Encode()))
}

// SetSignatureValue appends sig as the final name component.
func (i *Interest) SetSignatureValue(sig []byte) {
	i.name = i.name.Append(NewComponentBytes(encodeSignatureValue(sig)))
}

// NewComponentBytes returns a generic component holding b.
func NewComponentBytes(b []byte) Component {
	return Component{Type: TypeGenericComponent, Value: b}
}

// Encode returns the Interest TLV, assigning a random nonce first if the
// Interest has none.
func (i *Interest) Encode() ([]byte, error) {
	if i.nonce == nil {
		i.nonce = make([]byte, 4)
		if _, err := rand.Read(i.nonce); err != nil {
			return nil, fmt.Errorf("failed to generate nonce: %w", err)
		}
	}
	v := i.name.Encode()
	v = appendTLV(v, TypeNonce, i.nonce)
	if i.lifetime > 0 {
		v = appendTLV(v, TypeInterestLifetime, appendNonNegInt(nil, uint64(i.lifetime/time.Millisecond)))
	}
	return appendTLV(nil, TypeInterest, v), nil
}

// DecodeInterest decodes an Interest TLV.
func DecodeInterest(wire []byte) (*Interest, error) {
	outer, err := readOuter(wire, TypeInterest)
	if err != nil {
		return nil, fmt.Errorf("interest: %w", err)
	}
	elems, err := readElements(outer.value)
	if err != nil {
		return nil, fmt.Errorf("interest: %w", err)
	}
	if len(elems) == 0 || elems[0].typ != TypeName {
		return nil, fmt.Errorf("%w: interest without name", ErrDecode)
	}
	in := &Interest{}
	if in.name, err = decodeNameValue(elems[0].value); err != nil {
		return nil, fmt.Errorf("interest: %w", err)
	}
	for _, e := range elems[1:] {
		switch e.typ {
		case TypeNonce:
			if len(e.value) != 4 {
				return nil, fmt.Errorf("%w: nonce of length %d", ErrDecode, len(e.value))
			}
			in.nonce = bytes.Clone(e.value)
		case TypeInterestLifetime:
			ms, err := decodeNonNegInt(e.value)
			if err != nil {
				return nil, fmt.Errorf("interest lifetime: %w", err)
			}
			in.lifetime = time.Duration(ms) * time.Millisecond
		}
	}
	return in, nil
}
