package ndn

import (
	"bytes"
	"fmt"
	"time"
)

// Content types carried in MetaInfo.
const (
	ContentTypeBlob uint64 = 0
	ContentTypeLink uint64 = 1
	ContentTypeKey  uint64 = 2
)

// Data is a named, signed content object.
type Data struct {
	name            Name
	contentType     uint64
	freshnessPeriod time.Duration
	content         []byte
	sigInfo         *SignatureInfo
	sigValue        []byte

	// signed holds the signed portion as received off the wire. Any setter
	// clears it so SignedPortion falls back to re-encoding.
	signed []byte
}

// NewData returns an unsigned Data packet with the given name.
func NewData(name Name) *Data {
	return &Data{name: name}
}

func (d *Data) Name() Name { return d.name }

func (d *Data) SetName(n Name) {
	d.name = n
	d.signed = nil
}

func (d *Data) ContentType() uint64 { return d.contentType }

func (d *Data) SetContentType(t uint64) {
	d.contentType = t
	d.signed = nil
}

func (d *Data) FreshnessPeriod() time.Duration { return d.freshnessPeriod }

func (d *Data) SetFreshnessPeriod(p time.Duration) {
	d.freshnessPeriod = p
	d.signed = nil
}

func (d *Data) Content() []byte { return d.content }

func (d *Data) SetContent(c []byte) {
	d.content = c
	d.signed = nil
}

func (d *Data) SignatureInfo() (SignatureInfo, bool) {
	if d.sigInfo == nil {
		return SignatureInfo{}, false
	}
	return *d.sigInfo, true
}

func (d *Data) SetSignatureInfo(info SignatureInfo) {
	d.sigInfo = &info
	d.signed = nil
}

func (d *Data) SignatureValue() []byte { return d.sigValue }

func (d *Data) SetSignatureValue(sig []byte) { d.sigValue = sig }

// SignedPortion returns Name, MetaInfo, Content and SignatureInfo as they
// appear on the wire.
func (d *Data) SignedPortion() []byte {
	if d.signed != nil {
		return d.signed
	}
	b := d.name.Encode()
	if meta := d.encodeMetaInfo(); meta != nil {
		b = append(b, meta...)
	}
	b = appendTLV(b, TypeContent, d.content)
	if d.sigInfo != nil {
		b = append(b, d.sigInfo.Encode()...)
	}
	return b
}

func (d *Data) encodeMetaInfo() []byte {
	var v []byte
	if d.contentType != ContentTypeBlob {
		v = appendTLV(v, TypeContentType, appendNonNegInt(nil, d.contentType))
	}
	if d.freshnessPeriod > 0 {
		v = appendTLV(v, TypeFreshnessPeriod, appendNonNegInt(nil, uint64(d.freshnessPeriod/time.Millisecond)))
	}
	if v == nil {
		return nil
	}
	return appendTLV(nil, TypeMetaInfo, v)
}

// Encode returns the Data TLV.
func (d *Data) Encode() []byte {
	v := bytes.Clone(d.SignedPortion())
	v = append(v, encodeSignatureValue(d.sigValue)...)
	return appendTLV(nil, TypeData, v)
}

// dataElementOrder ranks the elements a Data packet may carry after its
// Name. Each may appear at most once, in this order.
var dataElementOrder = map[uint64]int{
	TypeMetaInfo:       1,
	TypeContent:        2,
	TypeSignatureInfo:  3,
	TypeSignatureValue: 4,
}

// DecodeData decodes a Data TLV, keeping the signed portion exactly as
// received. Elements must appear in the order Name, MetaInfo, Content,
// SignatureInfo, SignatureValue, each at most once, and a SignatureInfo
// must be followed by a SignatureValue. Nothing may follow the
// SignatureValue, so every field but the signature itself is covered by
// it.
func DecodeData(wire []byte) (*Data, error) {
	outer, err := readOuter(wire, TypeData)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	elems, err := readElements(outer.value)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	if len(elems) == 0 || elems[0].typ != TypeName {
		return nil, fmt.Errorf("%w: data without name", ErrDecode)
	}
	d := &Data{}
	if d.name, err = decodeNameValue(elems[0].value); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	signedEnd, last := 0, 0
	for _, e := range elems[1:] {
		rank, ok := dataElementOrder[e.typ]
		if !ok {
			return nil, fmt.Errorf("%w: unexpected TLV type %d in data", ErrDecode, e.typ)
		}
		if rank <= last {
			return nil, fmt.Errorf("%w: TLV type %d out of order or repeated in data", ErrDecode, e.typ)
		}
		last = rank
		switch e.typ {
		case TypeMetaInfo:
			if err := d.decodeMetaInfo(e.value); err != nil {
				return nil, err
			}
		case TypeContent:
			d.content = bytes.Clone(e.value)
		case TypeSignatureInfo:
			info, err := decodeSignatureInfoValue(e.value)
			if err != nil {
				return nil, fmt.Errorf("data: %w", err)
			}
			d.sigInfo = &info
			signedEnd = offsetAfter(outer.value, e.wire)
		case TypeSignatureValue:
			d.sigValue = bytes.Clone(e.value)
		}
	}
	if d.sigInfo != nil && last != dataElementOrder[TypeSignatureValue] {
		return nil, fmt.Errorf("%w: signature info without signature value", ErrDecode)
	}
	if d.sigInfo != nil {
		d.signed = bytes.Clone(outer.value[:signedEnd])
	}
	return d, nil
}

func (d *Data) decodeMetaInfo(value []byte) error {
	elems, err := readElements(value)
	if err != nil {
		return fmt.Errorf("meta info: %w", err)
	}
	for _, e := range elems {
		switch e.typ {
		case TypeContentType:
			if d.contentType, err = decodeNonNegInt(e.value); err != nil {
				return fmt.Errorf("content type: %w", err)
			}
		case TypeFreshnessPeriod:
			ms, err := decodeNonNegInt(e.value)
			if err != nil {
				return fmt.Errorf("freshness period: %w", err)
			}
			d.freshnessPeriod = time.Duration(ms) * time.Millisecond
		}
	}
	return nil
}

// offsetAfter returns the offset just past sub within buf. sub must be a
// sub-slice of buf.
func offsetAfter(buf, sub []byte) int {
	return cap(buf) - cap(sub) + len(sub)
}
