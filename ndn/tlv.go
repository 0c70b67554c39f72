package ndn

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// TLV type numbers used by the packet codec.
const (
	TypeInterest         uint64 = 0x05
	TypeData             uint64 = 0x06
	TypeName             uint64 = 0x07
	TypeGenericComponent uint64 = 0x08
	TypeNonce            uint64 = 0x0a
	TypeInterestLifetime uint64 = 0x0c
	TypeMetaInfo         uint64 = 0x14
	TypeContent          uint64 = 0x15
	TypeSignatureInfo    uint64 = 0x16
	TypeSignatureValue   uint64 = 0x17
	TypeContentType      uint64 = 0x18
	TypeFreshnessPeriod  uint64 = 0x19
	TypeSignatureType    uint64 = 0x1b
	TypeKeyLocator       uint64 = 0x1c
	TypeKeyDigest        uint64 = 0x1d
)

// ErrDecode is returned (wrapped) for every malformed wire encoding.
var ErrDecode = errors.New("decode error")

// element is one decoded TLV. wire holds the complete T+L+V bytes.
type element struct {
	typ   uint64
	value []byte
	wire  []byte
}

func appendVarNumber(b []byte, v uint64) []byte {
	switch {
	case v < 253:
		return append(b, byte(v))
	case v <= 0xffff:
		return binary.BigEndian.AppendUint16(append(b, 253), uint16(v))
	case v <= 0xffffffff:
		return binary.BigEndian.AppendUint32(append(b, 254), uint32(v))
	default:
		return binary.BigEndian.AppendUint64(append(b, 255), v)
	}
}

func readVarNumber(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: truncated var-number", ErrDecode)
	}
	switch first := b[0]; {
	case first < 253:
		return uint64(first), 1, nil
	case first == 253:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("%w: truncated var-number", ErrDecode)
		}
		return uint64(binary.BigEndian.Uint16(b[1:3])), 3, nil
	case first == 254:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("%w: truncated var-number", ErrDecode)
		}
		return uint64(binary.BigEndian.Uint32(b[1:5])), 5, nil
	default:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("%w: truncated var-number", ErrDecode)
		}
		return binary.BigEndian.Uint64(b[1:9]), 9, nil
	}
}

func appendTLV(b []byte, typ uint64, value []byte) []byte {
	b = appendVarNumber(b, typ)
	b = appendVarNumber(b, uint64(len(value)))
	return append(b, value...)
}

// appendNonNegInt encodes v in the shortest of 1, 2, 4 or 8 bytes.
func appendNonNegInt(b []byte, v uint64) []byte {
	switch {
	case v <= 0xff:
		return append(b, byte(v))
	case v <= 0xffff:
		return binary.BigEndian.AppendUint16(b, uint16(v))
	case v <= 0xffffffff:
		return binary.BigEndian.AppendUint32(b, uint32(v))
	default:
		return binary.BigEndian.AppendUint64(b, v)
	}
}

func decodeNonNegInt(b []byte) (uint64, error) {
	switch len(b) {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 8:
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, fmt.Errorf("%w: non-negative integer of length %d", ErrDecode, len(b))
	}
}

func readElement(b []byte) (element, int, error) {
	typ, n1, err := readVarNumber(b)
	if err != nil {
		return element{}, 0, err
	}
	length, n2, err := readVarNumber(b[n1:])
	if err != nil {
		return element{}, 0, err
	}
	start := n1 + n2
	if length > uint64(len(b)-start) {
		return element{}, 0, fmt.Errorf("%w: TLV type %d length %d exceeds buffer", ErrDecode, typ, length)
	}
	end := start + int(length)
	return element{typ: typ, value: b[start:end], wire: b[:end]}, end, nil
}

// readElements splits b into consecutive TLVs. Trailing garbage is an error.
func readElements(b []byte) ([]element, error) {
	var out []element
	for len(b) > 0 {
		e, n, err := readElement(b)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
		b = b[n:]
	}
	return out, nil
}

// readOuter decodes exactly one TLV of the expected type with nothing after it.
func readOuter(wire []byte, want uint64) (element, error) {
	e, n, err := readElement(wire)
	if err != nil {
		return element{}, err
	}
	if e.typ != want {
		return element{}, fmt.Errorf("%w: expected TLV type %d, got %d", ErrDecode, want, e.typ)
	}
	if n != len(wire) {
		return element{}, fmt.Errorf("%w: %d trailing bytes after TLV type %d", ErrDecode, len(wire)-n, want)
	}
	return e, nil
}
