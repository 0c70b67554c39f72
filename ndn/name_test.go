package ndn

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseName(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    string
		wantLen int
	}{
		{"root", "/", "/", 0},
		{"simple", "/a/b/c", "/a/b/c", 3},
		{"scheme", "ndn:/a/b", "/a/b", 2},
		{"trailing slash", "/a/b/", "/a/b", 2},
		{"escaped", "/a%20b/%FD%01", "/a%20b/%FD%01", 2},
		{"empty component", "/a/.../b", "/a/.../b", 3},
		{"dots", "/....", "/....", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := ParseName(tt.uri)
			if err != nil {
				t.Fatalf("ParseName(%q) error = %v", tt.uri, err)
			}
			if len(n) != tt.wantLen {
				t.Errorf("ParseName(%q) has %d components, want %d", tt.uri, len(n), tt.wantLen)
			}
			if got := n.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseNameInvalid(t *testing.T) {
	for _, uri := range []string{"/a/%G1", "/a/%F", "/.."} {
		if _, err := ParseName(uri); !errors.Is(err, ErrDecode) {
			t.Errorf("ParseName(%q) error = %v, want ErrDecode", uri, err)
		}
	}
}

func TestNamePrefix(t *testing.T) {
	n := MustParseName("/a/b/c/d")

	if got := n.Prefix(2).String(); got != "/a/b" {
		t.Errorf("Prefix(2) = %s", got)
	}
	if got := n.Prefix(-1).String(); got != "/a/b/c" {
		t.Errorf("Prefix(-1) = %s", got)
	}
	if got := n.Prefix(-10).String(); got != "/" {
		t.Errorf("Prefix(-10) = %s", got)
	}
	if got := n.Prefix(10).String(); got != "/a/b/c/d" {
		t.Errorf("Prefix(10) = %s", got)
	}
	if got := n.At(-1).String(); got != "d" {
		t.Errorf("At(-1) = %s", got)
	}
	if !n.Prefix(2).IsPrefixOf(n) {
		t.Error("Prefix(2) should be a prefix of the name")
	}
	if n.IsPrefixOf(n.Prefix(2)) {
		t.Error("longer name reported as prefix of shorter one")
	}
}

func TestNameAppendDoesNotAlias(t *testing.T) {
	base := make(Name, 0, 8).AppendString("a")
	x := base.AppendString("x")
	y := base.AppendString("y")
	if x.String() != "/a/x" || y.String() != "/a/y" {
		t.Errorf("appends aliased: %s %s", x, y)
	}
}

func TestNumberAndVersionComponents(t *testing.T) {
	n := Name{}.AppendNumber(1_700_000_000_000).AppendVersion(42)

	ts, err := n.At(0).Number()
	if err != nil || ts != 1_700_000_000_000 {
		t.Errorf("Number() = %d, %v", ts, err)
	}
	v, err := n.At(1).Version()
	if err != nil || v != 42 {
		t.Errorf("Version() = %d, %v", v, err)
	}
	if n.At(0).IsVersion() {
		t.Error("number component reported as version")
	}
}

func TestNameEncodeDecode(t *testing.T) {
	n := MustParseName("/TestCommandInterest/Validation").AppendVersion(7).AppendNumber(300)
	got, err := DecodeName(n.Encode())
	if err != nil {
		t.Fatalf("DecodeName() error = %v", err)
	}
	if !got.Equal(n) {
		t.Errorf("DecodeName() = %s, want %s", got, n)
	}
}

func TestDecodeNameTruncated(t *testing.T) {
	wire := MustParseName("/a/b").Encode()
	if _, err := DecodeName(wire[:len(wire)-1]); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodeName(truncated) error = %v, want ErrDecode", err)
	}
	if _, err := DecodeName(append(bytes.Clone(wire), 0x00)); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodeName(trailing) error = %v, want ErrDecode", err)
	}
}

func TestVarNumber(t *testing.T) {
	for _, v := range []uint64{0, 252, 253, 0xffff, 0x10000, 0xffffffff, 0x100000000} {
		b := appendVarNumber(nil, v)
		got, n, err := readVarNumber(b)
		if err != nil || got != v || n != len(b) {
			t.Errorf("var-number %d: got %d (%d bytes), err %v", v, got, n, err)
		}
	}
}

func TestNameCompare(t *testing.T) {
	a := MustParseName("/a/b")
	b := MustParseName("/a/bb")
	c := MustParseName("/a/b/c")
	if a.Compare(b) >= 0 || b.Compare(a) <= 0 {
		t.Error("shorter component should sort first")
	}
	if a.Compare(c) >= 0 {
		t.Error("prefix should sort before extension")
	}
	if a.Compare(a) != 0 {
		t.Error("name should compare equal to itself")
	}
}
