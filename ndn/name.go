// Package ndn implements the subset of the named-data packet format that the
// trust layer needs: hierarchical names, Data and Interest packets, and the
// SignatureInfo block that ties a packet to its signing key.
package ndn

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// VersionMarker prefixes the value of a version component.
const VersionMarker = 0xFD

// Component is a single name component.
type Component struct {
	Type  uint64
	Value []byte
}

// NewComponent returns a generic component holding a copy of s.
func NewComponent(s string) Component {
	return Component{Type: TypeGenericComponent, Value: []byte(s)}
}

// NumberComponent returns a generic component whose value is n as a
// non-negative integer.
func NumberComponent(n uint64) Component {
	return Component{Type: TypeGenericComponent, Value: appendNonNegInt(nil, n)}
}

// VersionComponent returns a marker-prefixed version component.
func VersionComponent(v uint64) Component {
	return Component{Type: TypeGenericComponent, Value: appendNonNegInt([]byte{VersionMarker}, v)}
}

// Number interprets the component value as a non-negative integer.
func (c Component) Number() (uint64, error) {
	return decodeNonNegInt(c.Value)
}

// Version interprets the component as a marker-prefixed version.
func (c Component) Version() (uint64, error) {
	if len(c.Value) < 2 || c.Value[0] != VersionMarker {
		return 0, fmt.Errorf("%w: component is not a version", ErrDecode)
	}
	return decodeNonNegInt(c.Value[1:])
}

// IsVersion reports whether the component parses as a version.
func (c Component) IsVersion() bool {
	_, err := c.Version()
	return err == nil
}

func (c Component) Equal(o Component) bool {
	return c.Type == o.Type && bytes.Equal(c.Value, o.Value)
}

// Compare orders components by type, then length, then bytes.
func (c Component) Compare(o Component) int {
	switch {
	case c.Type < o.Type:
		return -1
	case c.Type > o.Type:
		return 1
	case len(c.Value) < len(o.Value):
		return -1
	case len(c.Value) > len(o.Value):
		return 1
	}
	return bytes.Compare(c.Value, o.Value)
}

// String returns the escaped URI form of the component.
func (c Component) String() string {
	var sb strings.Builder
	if c.Type != TypeGenericComponent {
		sb.WriteString(strconv.FormatUint(c.Type, 10))
		sb.WriteByte('=')
	}
	if bytes.Count(c.Value, []byte{'.'}) == len(c.Value) {
		sb.WriteString("...")
	}
	for _, b := range c.Value {
		if isUnreserved(b) {
			sb.WriteByte(b)
		} else {
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}

func (c Component) encode(b []byte) []byte {
	return appendTLV(b, c.Type, c.Value)
}

func isUnreserved(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') ||
		b == '-' || b == '.' || b == '_' || b == '~'
}

// ParseComponent parses one escaped URI component.
func ParseComponent(s string) (Component, error) {
	typ := TypeGenericComponent
	if i := strings.IndexByte(s, '='); i > 0 {
		if t, err := strconv.ParseUint(s[:i], 10, 64); err == nil {
			typ = t
			s = s[i+1:]
		}
	}
	var val []byte
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			val = append(val, s[i])
			continue
		}
		if i+2 >= len(s) {
			return Component{}, fmt.Errorf("%w: bad escape in component %q", ErrDecode, s)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return Component{}, fmt.Errorf("%w: bad escape in component %q", ErrDecode, s)
		}
		val = append(val, byte(v))
		i += 2
	}
	if len(val) > 0 && bytes.Count(val, []byte{'.'}) == len(val) {
		if len(val) < 3 {
			return Component{}, fmt.Errorf("%w: illegal component %q", ErrDecode, s)
		}
		val = val[3:]
	}
	if val == nil {
		val = []byte{}
	}
	return Component{Type: typ, Value: val}, nil
}

// Name is an ordered sequence of components.
//
// Methods never modify the receiver; Append and Prefix return fresh slices
// so names can be shared between goroutines once built.
type Name []Component

// ParseName parses an NDN URI such as "/a/b/%FD%01". The "ndn:" scheme is
// optional.
func ParseName(uri string) (Name, error) {
	uri = strings.TrimPrefix(strings.TrimSpace(uri), "ndn:")
	uri = strings.TrimPrefix(uri, "//")
	uri = strings.Trim(uri, "/")
	if uri == "" {
		return Name{}, nil
	}
	parts := strings.Split(uri, "/")
	name := make(Name, 0, len(parts))
	for _, p := range parts {
		c, err := ParseComponent(p)
		if err != nil {
			return nil, err
		}
		name = append(name, c)
	}
	return name, nil
}

// MustParseName is ParseName for literals known to be valid.
func MustParseName(uri string) Name {
	n, err := ParseName(uri)
	if err != nil {
		panic(err)
	}
	return n
}

func (n Name) String() string {
	if len(n) == 0 {
		return "/"
	}
	var sb strings.Builder
	for _, c := range n {
		sb.WriteByte('/')
		sb.WriteString(c.String())
	}
	return sb.String()
}

// Append returns a new name with cs added to the end.
func (n Name) Append(cs ...Component) Name {
	out := make(Name, 0, len(n)+len(cs))
	out = append(out, n...)
	return append(out, cs...)
}

// AppendString appends a generic component holding s.
func (n Name) AppendString(s string) Name {
	return n.Append(NewComponent(s))
}

// AppendNumber appends a non-negative integer component.
func (n Name) AppendNumber(v uint64) Name {
	return n.Append(NumberComponent(v))
}

// AppendVersion appends a version component.
func (n Name) AppendVersion(v uint64) Name {
	return n.Append(VersionComponent(v))
}

// At returns component i. Negative i counts from the end.
func (n Name) At(i int) Component {
	if i < 0 {
		i += len(n)
	}
	return n[i]
}

// Prefix returns the first k components. Negative k drops -k components
// from the end. Out-of-range values are clamped.
func (n Name) Prefix(k int) Name {
	if k < 0 {
		k += len(n)
	}
	k = max(0, min(k, len(n)))
	out := make(Name, k)
	copy(out, n[:k])
	return out
}

// IsPrefixOf reports whether every component of n begins o.
func (n Name) IsPrefixOf(o Name) bool {
	if len(n) > len(o) {
		return false
	}
	for i := range n {
		if !n[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

func (n Name) Equal(o Name) bool {
	return len(n) == len(o) && n.IsPrefixOf(o)
}

// Compare orders names in canonical order.
func (n Name) Compare(o Name) int {
	for i := 0; i < len(n) && i < len(o); i++ {
		if c := n[i].Compare(o[i]); c != 0 {
			return c
		}
	}
	return len(n) - len(o)
}

// Encode returns the Name TLV.
func (n Name) Encode() []byte {
	return appendTLV(nil, TypeName, n.EncodeComponents())
}

// EncodeComponents returns the concatenated component TLVs without the outer
// Name header.
func (n Name) EncodeComponents() []byte {
	var b []byte
	for _, c := range n {
		b = c.encode(b)
	}
	return b
}

// DecodeName decodes a Name TLV.
func DecodeName(wire []byte) (Name, error) {
	e, err := readOuter(wire, TypeName)
	if err != nil {
		return nil, err
	}
	return decodeNameValue(e.value)
}

func decodeNameValue(value []byte) (Name, error) {
	elems, err := readElements(value)
	if err != nil {
		return nil, fmt.Errorf("name: %w", err)
	}
	name := make(Name, 0, len(elems))
	for _, e := range elems {
		name = append(name, Component{Type: e.typ, Value: bytes.Clone(e.value)})
	}
	return name, nil
}
